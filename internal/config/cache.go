package config

import (
	"fmt"
	"time"
)

// CacheConfig configures the cache hierarchy fronting config lookups.
// The net staleness bound observed by any instance is min(L1TTL, L2TTL),
// because invalidations delete L2 immediately and L1 copies on other
// instances expire on their own TTL.
type CacheConfig struct {
	// L1MaxEntries bounds the in-process LRU.
	L1MaxEntries int `envconfig:"L1_MAX_ENTRIES" default:"8192" validate:"min=1"`

	// L1TTL is how long an in-process entry is served without revalidation.
	L1TTL time.Duration `envconfig:"L1_TTL" default:"10s"`

	// L2TTL is the TTL applied to entries written to the shared Redis tier.
	L2TTL time.Duration `envconfig:"L2_TTL" default:"5m"`

	// CompiledMaxEntries bounds the compiled-rule LRU keyed by (key, version).
	CompiledMaxEntries int `envconfig:"COMPILED_MAX_ENTRIES" default:"4096" validate:"min=1"`

	// KeyPrefix namespaces all flag keys in Redis.
	KeyPrefix string `envconfig:"KEY_PREFIX" default:"bifrost:flag"`
}

// Validate checks the cache configuration.
func (c *CacheConfig) Validate() error {
	if c.L1TTL <= 0 {
		return fmt.Errorf("cache l1_ttl must be positive, got %s", c.L1TTL)
	}
	if c.L2TTL <= 0 {
		return fmt.Errorf("cache l2_ttl must be positive, got %s", c.L2TTL)
	}
	if c.L1TTL > c.L2TTL {
		return fmt.Errorf("cache l1_ttl (%s) should not exceed l2_ttl (%s)", c.L1TTL, c.L2TTL)
	}
	if c.KeyPrefix == "" {
		return fmt.Errorf("cache key prefix cannot be empty")
	}
	return nil
}
