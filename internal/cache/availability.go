// Package cache keeps a short-lived Redis copy of each trip's unavailable
// seat list for display.  Entries are deleted on every claim, rollback,
// confirm, cancel and sweep; nothing in the reservation path ever reads
// them to decide whether a seat may be claimed.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Availability is a read-through cache keyed by trip.  A nil Redis client
// turns every method into a no-op, as when Redis was unreachable at
// startup.
type Availability struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	log    *slog.Logger
}

// NewAvailability builds the cache.  ttl bounds staleness when an
// invalidation is lost.
func NewAvailability(rdb *redis.Client, ttl time.Duration, prefix string, log *slog.Logger) *Availability {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	if prefix == "" {
		prefix = "avail"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Availability{rdb: rdb, ttl: ttl, prefix: prefix, log: log}
}

// Key returns the Redis key of a trip.
func (a *Availability) Key(tripID string) string { return a.prefix + ":" + tripID }

// Get returns the cached labels.  Any Redis failure is a miss.
func (a *Availability) Get(ctx context.Context, tripID string) ([]string, bool) {
	if a.rdb == nil {
		return nil, false
	}
	bs, err := a.rdb.Get(ctx, a.Key(tripID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			a.log.Warn("availability cache get failed", "trip_id", tripID, "err", err)
		}
		return nil, false
	}
	var labels []string
	if err := json.Unmarshal(bs, &labels); err != nil {
		return nil, false
	}
	return labels, true
}

// Set stores labels for the configured TTL.
func (a *Availability) Set(ctx context.Context, tripID string, labels []string) {
	if a.rdb == nil {
		return
	}
	if labels == nil {
		labels = []string{}
	}
	bs, err := json.Marshal(labels)
	if err != nil {
		return
	}
	if err := a.rdb.SetEx(ctx, a.Key(tripID), string(bs), a.ttl).Err(); err != nil {
		a.log.Warn("availability cache set failed", "trip_id", tripID, "err", err)
	}
}

// Invalidate deletes the entries of the given trips.
func (a *Availability) Invalidate(ctx context.Context, tripIDs ...string) {
	if a.rdb == nil || len(tripIDs) == 0 {
		return
	}
	keys := make([]string, len(tripIDs))
	for i, id := range tripIDs {
		keys[i] = a.Key(id)
	}
	if err := a.rdb.Del(ctx, keys...).Err(); err != nil {
		a.log.Warn("availability cache invalidate failed", "trips", tripIDs, "err", err)
	}
}
