package memstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/iliyamo/trip-seat-reservation/internal/model"
	"github.com/iliyamo/trip-seat-reservation/internal/repository"
)

// Catalog is a fixed set of trips.
type Catalog struct {
	mu    sync.RWMutex
	trips map[string]model.Trip
}

// NewCatalog returns a catalog holding the given trips.
func NewCatalog(trips ...model.Trip) *Catalog {
	c := &Catalog{trips: map[string]model.Trip{}}
	for _, t := range trips {
		c.Put(t)
	}
	return c
}

// Put adds or replaces a trip.
func (c *Catalog) Put(t model.Trip) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trips[t.ID] = t
}

// GetTrip returns a copy of the stored trip.
func (c *Catalog) GetTrip(ctx context.Context, tripID string) (*model.Trip, error) {
	if err := ctxErr(ctx, "get trip"); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.trips[tripID]
	if !ok {
		return nil, fmt.Errorf("get trip %s: %w", tripID, repository.ErrNotFound)
	}
	t.SeatLabels = append([]string(nil), t.SeatLabels...)
	return &t, nil
}

// Blacklist is a set of normalised identity values.
type Blacklist struct {
	mu     sync.RWMutex
	values map[string]bool
}

// NewBlacklist returns a blacklist containing values.
func NewBlacklist(values ...string) *Blacklist {
	b := &Blacklist{values: map[string]bool{}}
	for _, v := range values {
		b.values[strings.ToLower(strings.TrimSpace(v))] = true
	}
	return b
}

// IsBlacklisted reports whether the normalised identity is listed.
func (b *Blacklist) IsBlacklisted(ctx context.Context, identity string) (bool, error) {
	if err := ctxErr(ctx, "blacklist lookup"); err != nil {
		return false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.values[identity], nil
}
