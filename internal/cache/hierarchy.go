package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bifrost-flags/bifrost/internal/configstore"
	"github.com/bifrost-flags/bifrost/internal/flag"
	"github.com/bifrost-flags/bifrost/internal/observability"
)

// Tier identifies which layer satisfied a lookup.
type Tier string

const (
	TierL1   Tier = "l1"
	TierL2   Tier = "l2"
	TierL3   Tier = "l3"
	TierNone Tier = "none"
)

// Hierarchy is the layered read path for flag configs: L1 in-process LRU,
// L2 shared Redis, L3 authoritative store. Hits populate the tiers above
// them so hot keys stabilize in L1.
type Hierarchy struct {
	l1     *L1
	l2     *L2
	store  configstore.Store
	logger *slog.Logger
}

// NewHierarchy wires the three tiers together.
func NewHierarchy(l1 *L1, l2 *L2, store configstore.Store, logger *slog.Logger) *Hierarchy {
	if l1 == nil {
		panic("cache: l1 tier cannot be nil")
	}
	if l2 == nil {
		panic("cache: l2 tier cannot be nil")
	}
	if store == nil {
		panic("cache: config store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hierarchy{l1: l1, l2: l2, store: store, logger: logger}
}

// Get resolves a config through the tiers. It returns the tier that
// satisfied the lookup, flag.ErrConfigNotFound when the key is unknown to
// the authoritative store, or a flag.ErrUpstreamUnavailable-wrapped error
// when L3 could not answer (callers should then consider GetStale).
func (h *Hierarchy) Get(ctx context.Context, key string) (*flag.Config, Tier, error) {
	if cfg, ok := h.l1.Get(key); ok {
		observability.CacheHits.WithLabelValues(string(TierL1)).Inc()
		return cfg, TierL1, nil
	}
	observability.CacheMisses.WithLabelValues(string(TierL1)).Inc()

	cfg, err := h.l2.Get(ctx, key)
	if err != nil {
		// An unreachable or corrupt L2 must not take down reads; the
		// authoritative store can still answer.
		h.logger.Warn("l2 lookup failed, falling through to l3",
			slog.String("flag_key", key),
			slog.String("error", err.Error()),
		)
	}
	if cfg != nil {
		observability.CacheHits.WithLabelValues(string(TierL2)).Inc()
		h.l1.Set(key, cfg)
		return cfg, TierL2, nil
	}
	observability.CacheMisses.WithLabelValues(string(TierL2)).Inc()

	cfg, err = h.store.GetConfig(ctx, key)
	if err != nil {
		if errors.Is(err, flag.ErrConfigNotFound) {
			return nil, TierNone, err
		}
		return nil, TierNone, fmt.Errorf("%w: %v", flag.ErrUpstreamUnavailable, err)
	}

	observability.StoreReads.Inc()
	h.populate(ctx, cfg)
	return cfg, TierL3, nil
}

// GetStale returns the local copy of a config regardless of TTL. It is the
// explicit stale-allowed degraded path; normal reads never serve past TTL.
func (h *Hierarchy) GetStale(key string) (*flag.Config, bool) {
	cfg, ok := h.l1.GetStale(key)
	if ok {
		observability.StaleServes.Inc()
	}
	return cfg, ok
}

// Invalidate evicts a key everywhere this instance can reach: the shared L2
// (authoritative cross-instance step) and the local L1. Other instances'
// L1 copies expire on their own TTL.
func (h *Hierarchy) Invalidate(ctx context.Context, key string) error {
	err := h.l2.Invalidate(ctx, key)
	h.l1.Del(key)
	observability.CacheInvalidations.Inc()
	observability.CacheItems.Set(float64(h.l1.Len()))
	return err
}

// populate writes a fresh config to the faster tiers. A failed L2 write is
// logged and tolerated: the entry will be refetched from L3 by whichever
// instance misses next.
func (h *Hierarchy) populate(ctx context.Context, cfg *flag.Config) {
	if err := h.l2.Set(ctx, cfg); err != nil {
		h.logger.Warn("failed to populate l2",
			slog.String("flag_key", cfg.Key),
			slog.String("error", err.Error()),
		)
	}
	h.l1.Set(cfg.Key, cfg)
	observability.CacheItems.Set(float64(h.l1.Len()))
}
