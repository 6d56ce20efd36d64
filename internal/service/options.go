package service

import (
	"context"
	"log/slog"
	"time"
)

// Defaults for the policy knobs.  Both the hold lease and the sweep
// interval are configuration, see internal/config.
const (
	DefaultHoldTTL      = 15 * time.Minute
	DefaultStoreTimeout = 3 * time.Second
)

type options struct {
	holdTTL           time.Duration
	storeTimeout      time.Duration
	issueOnProcessing bool
	now               func() time.Time
	log               *slog.Logger
}

// Option configures the services in this package.
type Option func(*options)

// WithHoldTTL sets the lease of new holds.
func WithHoldTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.holdTTL = d
		}
	}
}

// WithStoreTimeout bounds every individual store call.  A call that runs
// past it surfaces as ErrUnavailable.
func WithStoreTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.storeTimeout = d
		}
	}
}

// WithIssueOnProcessing makes a "processing" order status issue tickets,
// for deferred-payment flows.  Holds are confirmed on "processing" either
// way.
func WithIssueOnProcessing(on bool) Option {
	return func(o *options) { o.issueOnProcessing = on }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		holdTTL:      DefaultHoldTTL,
		storeTimeout: DefaultStoreTimeout,
		now:          time.Now,
		log:          slog.Default(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func (o options) clock() time.Time { return o.now().UTC() }

func (o options) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.storeTimeout)
}

// detached returns a context that survives cancellation of ctx, for
// compensation and notifications that must run after the caller gave up.
func (o options) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.storeTimeout)
}
