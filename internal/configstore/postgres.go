package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bifrost-flags/bifrost/internal/flag"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore reads flag configurations from the externally-managed
// flag_configs table using the pgx pool.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a read-only store over the given pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	if db == nil {
		panic("configstore: database pool cannot be nil")
	}
	return &PostgresStore{db: db}
}

// GetConfig fetches the current version of a flag config by key.
func (s *PostgresStore) GetConfig(ctx context.Context, key string) (*flag.Config, error) {
	query := `
		SELECT key, version, status, variants, targeting, rollout_bps, salt, default_variant, updated_at
		FROM flag_configs
		WHERE key = $1
	`

	var (
		cfg         flag.Config
		variantsRaw []byte
		targeting   []byte
	)

	err := s.db.QueryRow(ctx, query, key).Scan(
		&cfg.Key,
		&cfg.Version,
		&cfg.Status,
		&variantsRaw,
		&targeting,
		&cfg.RolloutBps,
		&cfg.Salt,
		&cfg.DefaultVariant,
		&cfg.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("flag %q: %w", key, flag.ErrConfigNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query flag %q: %w", key, err)
	}

	if err := json.Unmarshal(variantsRaw, &cfg.Variants); err != nil {
		return nil, fmt.Errorf("flag %q has corrupt variants: %w", key, err)
	}
	if len(targeting) > 0 && string(targeting) != "null" {
		cfg.Targeting = json.RawMessage(targeting)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("flag %q failed validation: %w", key, err)
	}

	return &cfg, nil
}
