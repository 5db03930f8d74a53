// Package flag defines the domain model shared by the evaluation engine:
// flag configurations, variants, decisions, and exposure events.
// It has no dependencies on storage, caching, or transport.
package flag

import (
	"encoding/json"
	"fmt"
	"time"
)

// WeightTotal is the size of the bucket space in basis points.
// Variant weights for a config must sum to this value (minus any
// intentionally unassigned remainder).
const WeightTotal = 10_000

// Status represents the lifecycle state of a flag configuration.
type Status string

const (
	// StatusActive means the flag is live and subject to targeting/rollout.
	StatusActive Status = "active"
	// StatusDisabled means the flag is switched off; every evaluation
	// resolves to the default variant.
	StatusDisabled Status = "disabled"
	// StatusArchived means the flag is retired. Treated like disabled on
	// the read path; the management system is responsible for cleanup.
	StatusArchived Status = "archived"
)

// Variant is a single experiment arm or flag value.
type Variant struct {
	// Key identifies the variant (e.g. "control", "treatment").
	Key string `json:"key"`

	// Weight is the variant's share of the bucket space in basis points.
	// Declaration order is significant: bucket boundaries are cumulative
	// sums in this order and must stay stable across weight updates.
	Weight int `json:"weight"`
}

// Config is a versioned flag/experiment definition as published by the
// external management system. Instances are immutable once loaded; updates
// arrive as a whole new Config with a higher Version.
type Config struct {
	// Key is the natural identifier (slug) of the flag.
	Key string `json:"key"`

	// Version increases monotonically with every mutation.
	Version int64 `json:"version"`

	Status Status `json:"status"`

	// Variants in declaration order. May under-cover the bucket space;
	// the remainder maps to no assignment rather than an error.
	Variants []Variant `json:"variants"`

	// Targeting is the raw rule tree (JSON). Empty or null means the flag
	// targets everyone. Compilation is the rules package's job.
	Targeting json.RawMessage `json:"targeting,omitempty"`

	// RolloutBps gates inclusion before variant selection: subjects whose
	// bucket is at or above this boundary are excluded. Range [0, 10000].
	RolloutBps int `json:"rollout_bps"`

	// Salt decorrelates bucketing across flags for the same subject.
	Salt string `json:"salt"`

	// DefaultVariant is served when the flag is disabled, targeting does
	// not match, or evaluation degrades without a safer answer.
	DefaultVariant string `json:"default_variant"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the structural invariants a Config must satisfy before
// it can be evaluated. It does not compile the targeting tree.
func (c *Config) Validate() error {
	if c.Key == "" {
		return fmt.Errorf("config key cannot be empty")
	}
	if c.Version < 1 {
		return fmt.Errorf("config %q: version must be positive, got %d", c.Key, c.Version)
	}
	if c.RolloutBps < 0 || c.RolloutBps > WeightTotal {
		return fmt.Errorf("config %q: rollout_bps must be in [0, %d], got %d", c.Key, WeightTotal, c.RolloutBps)
	}

	sum := 0
	seen := make(map[string]struct{}, len(c.Variants))
	for _, v := range c.Variants {
		if v.Key == "" {
			return fmt.Errorf("config %q: variant key cannot be empty", c.Key)
		}
		if _, dup := seen[v.Key]; dup {
			return fmt.Errorf("config %q: duplicate variant key %q", c.Key, v.Key)
		}
		seen[v.Key] = struct{}{}
		if v.Weight < 0 {
			return fmt.Errorf("config %q: variant %q has negative weight %d", c.Key, v.Key, v.Weight)
		}
		sum += v.Weight
	}
	if sum > WeightTotal {
		return fmt.Errorf("config %q: variant weights sum to %d, exceeding %d", c.Key, sum, WeightTotal)
	}
	return nil
}

// Enabled reports whether the flag participates in targeting and rollout.
func (c *Config) Enabled() bool {
	return c.Status == StatusActive
}

// Reason explains how a Decision was produced. It is part of the public
// contract: callers and exposure consumers branch on these values.
type Reason string

const (
	// ReasonTargetingMatch means the targeting rule matched and a variant
	// was assigned from the bucket space.
	ReasonTargetingMatch Reason = "TARGETING_MATCH"

	// ReasonDefaultAllocation means the flag has no targeting rule and the
	// subject was assigned directly from the bucket space.
	ReasonDefaultAllocation Reason = "DEFAULT_ALLOCATION"

	// ReasonNoMatch means targeting evaluated to false; the default
	// variant is served.
	ReasonNoMatch Reason = "NO_MATCH"

	// ReasonDisabled means the flag is disabled or archived.
	ReasonDisabled Reason = "DISABLED"

	// ReasonHoldout means the subject's bucket fell in the reserved
	// holdout slice at the top of the bucket space.
	ReasonHoldout Reason = "HOLDOUT"

	// ReasonRolloutExcluded means the subject's bucket was at or above the
	// rollout boundary.
	ReasonRolloutExcluded Reason = "ROLLOUT_EXCLUDED"

	// ReasonNoAssignment means variant weights under-cover the bucket
	// space and the subject's bucket fell in the unassigned remainder.
	ReasonNoAssignment Reason = "NO_ASSIGNMENT"

	// ReasonFallback means the config or its rule tree was unusable
	// (e.g. a syntax error surfaced at evaluation time) and the engine
	// failed closed to the default variant.
	ReasonFallback Reason = "FALLBACK"
)

// Decision is the outcome of a single evaluation. It is emitted, never
// persisted, by this engine.
type Decision struct {
	SubjectID  string `json:"subject_id"`
	FlagKey    string `json:"flag_key"`
	VariantKey string `json:"variant_key"`
	Reason     Reason `json:"reason"`

	// ConfigVersion is the version of the config the decision was computed
	// from. Zero when no config was available at all.
	ConfigVersion int64 `json:"config_version"`

	// Bucket is the deterministic basis-point bucket of (subject, flag).
	// Negative when no bucket was drawn (e.g. disabled flag).
	Bucket int `json:"bucket"`

	// Degraded marks decisions computed from stale cached data because the
	// authoritative store was unavailable within budget.
	Degraded bool `json:"degraded"`
}

// ExposureEvent records that a subject was served a variant. Delivery is
// fire-and-forget; at-most-once is acceptable.
type ExposureEvent struct {
	ID            string    `json:"id"`
	SubjectID     string    `json:"subject_id"`
	FlagKey       string    `json:"flag_key"`
	VariantKey    string    `json:"variant_key"`
	ConfigVersion int64     `json:"config_version"`
	Reason        Reason    `json:"reason"`
	Timestamp     time.Time `json:"timestamp"`
}
