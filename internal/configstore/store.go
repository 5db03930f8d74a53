// Package configstore provides read access to the authoritative flag
// configuration store (the L3 tier). Definitions are authored and mutated by
// the external management system; this engine only ever reads them.
package configstore

import (
	"context"

	"github.com/bifrost-flags/bifrost/internal/flag"
)

// Store is the authoritative source of flag configurations.
// Implementations return flag.ErrConfigNotFound for unknown keys; any other
// error means the upstream is unavailable and callers should degrade.
type Store interface {
	// GetConfig fetches the current version of a single flag config.
	GetConfig(ctx context.Context, key string) (*flag.Config, error)
}
