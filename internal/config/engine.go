package config

import (
	"fmt"
	"time"
)

// EngineConfig configures the evaluation coordinator and rule evaluator.
type EngineConfig struct {
	// PredicateBudget bounds the wall-clock time a single regex or
	// JSON-path predicate may spend. A predicate over budget evaluates to
	// false and evaluation continues.
	PredicateBudget time.Duration `envconfig:"PREDICATE_BUDGET" default:"5ms"`

	// MaxContextBytes bounds the serialized evaluation context. Larger
	// contexts are rejected at the edge so a malformed payload cannot
	// stall predicate evaluation.
	MaxContextBytes int `envconfig:"MAX_CONTEXT_BYTES" default:"65536" validate:"min=1"`

	// MaxRuleDepth bounds the targeting tree. Deeper trees fail
	// compilation; this is also the cycle guard for self-referential input.
	MaxRuleDepth int `envconfig:"MAX_RULE_DEPTH" default:"32" validate:"min=1"`

	// HoldoutBps reserves a fixed top slice of the bucket space for a
	// permanent control group. Zero disables the holdout.
	HoldoutBps int `envconfig:"HOLDOUT_BPS" default:"0" validate:"min=0,max=10000"`

	// DegradedDefaultVariant is served when evaluation degrades and the
	// cached config itself carries no default. Empty means "no variant".
	DegradedDefaultVariant string `envconfig:"DEGRADED_DEFAULT_VARIANT" default:""`
}

// Validate checks the engine configuration.
func (c *EngineConfig) Validate() error {
	if c.PredicateBudget <= 0 {
		return fmt.Errorf("engine predicate budget must be positive, got %s", c.PredicateBudget)
	}
	return nil
}
