package service

import (
	"context"
	"time"

	"github.com/iliyamo/trip-seat-reservation/internal/metrics"
)

// SweeperConfig holds the sweep policy.
type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
	// TicketGrace is how long after departure an unused active ticket is
	// expired.  Zero disables ticket expiry.
	TicketGrace time.Duration
}

// SweepStats reports one pass.
type SweepStats struct {
	HoldsExpired   int64
	TicketsExpired int64
	Trips          []string
}

// Sweeper reclaims holds whose lease has ended.  Several sweepers may run
// against the same store; each batch only matches rows still held.
type Sweeper struct {
	holds   HoldStore
	tickets TicketStore
	cache   AvailabilityCache
	cfg     SweeperConfig
	opts    options
}

// NewSweeper builds a sweeper.  tickets and cache may be nil.
func NewSweeper(holds HoldStore, tickets TicketStore, cache AvailabilityCache, cfg SweeperConfig, opts ...Option) *Sweeper {
	if holds == nil {
		panic("nil hold store passed to NewSweeper")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cache == nil {
		cache = noopCache{}
	}
	return &Sweeper{holds: holds, tickets: tickets, cache: cache, cfg: cfg, opts: buildOptions(opts)}
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	w.opts.log.Info("sweeper started", "interval", w.cfg.Interval, "batch", w.cfg.BatchSize)
	for {
		if _, err := w.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			w.opts.log.Warn("sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			w.opts.log.Info("sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce expires every lapsed hold in batches, invalidates the cache of
// the affected trips and expires tickets of long-departed trips.
func (w *Sweeper) SweepOnce(ctx context.Context) (SweepStats, error) {
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	var stats SweepStats
	seen := map[string]bool{}
	now := w.opts.clock()
	for {
		bctx, cancel := w.opts.bounded(ctx)
		res, err := w.holds.ExpireLapsed(bctx, now, w.cfg.BatchSize)
		cancel()
		if err != nil {
			w.invalidate(ctx, stats.Trips)
			return stats, storeErr("sweep", err)
		}
		stats.HoldsExpired += res.Expired
		for _, id := range res.TripIDs {
			if !seen[id] {
				seen[id] = true
				stats.Trips = append(stats.Trips, id)
			}
		}
		if res.Expired < int64(w.cfg.BatchSize) {
			break
		}
	}
	w.invalidate(ctx, stats.Trips)
	metrics.HoldsExpired.Add(float64(stats.HoldsExpired))

	if w.tickets != nil && w.cfg.TicketGrace > 0 {
		tctx, cancel := w.opts.bounded(ctx)
		n, err := w.tickets.ExpireDeparted(tctx, now.Add(-w.cfg.TicketGrace))
		cancel()
		if err != nil {
			return stats, storeErr("expire tickets", err)
		}
		stats.TicketsExpired = n
	}
	if stats.HoldsExpired > 0 || stats.TicketsExpired > 0 {
		w.opts.log.Info("sweep done", "holds_expired", stats.HoldsExpired,
			"tickets_expired", stats.TicketsExpired, "trips", stats.Trips)
	}
	return stats, nil
}

func (w *Sweeper) invalidate(ctx context.Context, trips []string) {
	if len(trips) > 0 {
		w.cache.Invalidate(ctx, trips...)
	}
}
