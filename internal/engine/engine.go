// Package engine implements the evaluation coordinator: per-request
// orchestration of config resolution, rule compilation, targeting
// evaluation, deterministic assignment, and exposure emission.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bifrost-flags/bifrost/internal/assign"
	"github.com/bifrost-flags/bifrost/internal/cache"
	"github.com/bifrost-flags/bifrost/internal/events"
	"github.com/bifrost-flags/bifrost/internal/flag"
	"github.com/bifrost-flags/bifrost/internal/observability"
	"github.com/bifrost-flags/bifrost/internal/rules"
)

// Options are the engine's explicit knobs. No hidden globals: everything
// that affects a decision is injected here or carried by the flag config.
type Options struct {
	// Compile bounds rule compilation and per-predicate work.
	Compile rules.CompileOptions

	// CompiledMaxEntries bounds the compiled-rule LRU, keyed by
	// (flag key, config version).
	CompiledMaxEntries int

	// HoldoutBps reserves a permanent control slice at the top of the
	// bucket space.
	HoldoutBps int

	// DefaultTimeout applies when a caller passes a zero timeout budget.
	DefaultTimeout time.Duration

	// DegradedDefaultVariant is served when no config is available at all.
	DegradedDefaultVariant string
}

const (
	defaultCompiledMaxEntries = 4096
	defaultEvalTimeout        = 50 * time.Millisecond
)

// Engine coordinates one evaluation per request. It is safe for concurrent
// use: compiled rules and cached configs are immutable once published, and
// the only mutable structures (the LRUs) synchronize internally.
type Engine struct {
	hierarchy  *cache.Hierarchy
	dispatcher *events.Dispatcher
	logger     *slog.Logger
	opts       Options

	compiled *lru.Cache[string, *rules.CompiledRule]
}

// New creates an Engine.
func New(hierarchy *cache.Hierarchy, dispatcher *events.Dispatcher, logger *slog.Logger, opts Options) (*Engine, error) {
	if hierarchy == nil {
		panic("engine: cache hierarchy cannot be nil")
	}
	if dispatcher == nil {
		panic("engine: exposure dispatcher cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CompiledMaxEntries <= 0 {
		opts.CompiledMaxEntries = defaultCompiledMaxEntries
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = defaultEvalTimeout
	}
	if opts.HoldoutBps < 0 || opts.HoldoutBps >= flag.WeightTotal {
		return nil, fmt.Errorf("engine: holdout must be in [0, %d), got %d", flag.WeightTotal, opts.HoldoutBps)
	}

	compiled, err := lru.New[string, *rules.CompiledRule](opts.CompiledMaxEntries)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to create compiled-rule cache: %w", err)
	}

	return &Engine{
		hierarchy:  hierarchy,
		dispatcher: dispatcher,
		logger:     logger,
		opts:       opts,
		compiled:   compiled,
	}, nil
}

// Evaluate decides which variant to serve for (flagKey, subjectID).
//
// The timeout budget bounds upstream config fetches only; compilation,
// rule evaluation, and assignment are pure computation. When the budget is
// exceeded or the store is unreachable, the best available cached config is
// served and the decision is marked degraded. The only hard errors are an
// unknown flag key and caller contract violations.
func (e *Engine) Evaluate(ctx context.Context, flagKey, subjectID string, evalCtx *rules.Context, timeout time.Duration) (flag.Decision, error) {
	start := time.Now()
	defer func() {
		observability.EvalDuration.Observe(time.Since(start).Seconds())
	}()

	if err := validateRequest(flagKey, subjectID, timeout); err != nil {
		return flag.Decision{}, err
	}
	if timeout == 0 {
		timeout = e.opts.DefaultTimeout
	}
	if evalCtx == nil {
		evalCtx = rules.EmptyContext()
	}

	cfg, degraded, err := e.resolveConfig(ctx, flagKey, timeout)
	if err != nil {
		return flag.Decision{}, err
	}
	if cfg == nil {
		// Upstream down and nothing cached: the safest decision we can
		// still make is the configured degraded default.
		d := flag.Decision{
			SubjectID:  subjectID,
			FlagKey:    flagKey,
			VariantKey: e.opts.DegradedDefaultVariant,
			Reason:     flag.ReasonFallback,
			Bucket:     -1,
			Degraded:   true,
		}
		e.record(d)
		return d, nil
	}

	d := e.decide(cfg, subjectID, evalCtx)
	d.Degraded = degraded
	e.record(d)
	e.expose(d)
	return d, nil
}

// BatchEvaluate evaluates one flag for many subjects, sharing a single
// config fetch and compiled rule across the batch.
func (e *Engine) BatchEvaluate(ctx context.Context, flagKey string, subjectIDs []string, evalCtx *rules.Context, timeout time.Duration) ([]flag.Decision, error) {
	if timeout < 0 {
		return nil, fmt.Errorf("timeout budget cannot be negative, got %s", timeout)
	}
	if flagKey == "" {
		return nil, fmt.Errorf("flag key is required")
	}
	if timeout == 0 {
		timeout = e.opts.DefaultTimeout
	}
	if evalCtx == nil {
		evalCtx = rules.EmptyContext()
	}

	// Reject the whole batch before any decision or exposure is produced;
	// a bad subject mid-list must not leave partial exposures behind a
	// failed request.
	for _, subjectID := range subjectIDs {
		if subjectID == "" {
			return nil, fmt.Errorf("subject id is required")
		}
	}

	cfg, degraded, err := e.resolveConfig(ctx, flagKey, timeout)
	if err != nil {
		return nil, err
	}

	decisions := make([]flag.Decision, 0, len(subjectIDs))
	for _, subjectID := range subjectIDs {
		var d flag.Decision
		if cfg == nil {
			d = flag.Decision{
				SubjectID:  subjectID,
				FlagKey:    flagKey,
				VariantKey: e.opts.DegradedDefaultVariant,
				Reason:     flag.ReasonFallback,
				Bucket:     -1,
				Degraded:   true,
			}
		} else {
			d = e.decide(cfg, subjectID, evalCtx)
			d.Degraded = degraded
			e.expose(d)
		}
		e.record(d)
		decisions = append(decisions, d)
	}

	return decisions, nil
}

func validateRequest(flagKey, subjectID string, timeout time.Duration) error {
	if flagKey == "" {
		return fmt.Errorf("flag key is required")
	}
	if subjectID == "" {
		return fmt.Errorf("subject id is required")
	}
	if timeout < 0 {
		return fmt.Errorf("timeout budget cannot be negative, got %s", timeout)
	}
	return nil
}

// resolveConfig fetches the config within the timeout budget, falling back
// to a stale cached copy when the upstream cannot answer. A nil config with
// a nil error means degraded with nothing cached.
func (e *Engine) resolveConfig(ctx context.Context, flagKey string, timeout time.Duration) (*flag.Config, bool, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cfg, _, err := e.hierarchy.Get(fetchCtx, flagKey)
	if err == nil {
		return cfg, false, nil
	}
	if errors.Is(err, flag.ErrConfigNotFound) {
		return nil, false, err
	}

	// Upstream unavailable or budget exceeded: serve the best cached
	// config rather than failing.
	e.logger.Warn("config fetch degraded",
		slog.String("flag_key", flagKey),
		slog.String("error", err.Error()),
	)

	if stale, ok := e.hierarchy.GetStale(flagKey); ok {
		return stale, true, nil
	}
	return nil, true, nil
}

// decide is the pure decision function: no I/O, no clocks besides the
// compile timestamp, fully determined by (cfg, subjectID, evalCtx).
func (e *Engine) decide(cfg *flag.Config, subjectID string, evalCtx *rules.Context) flag.Decision {
	d := flag.Decision{
		SubjectID:     subjectID,
		FlagKey:       cfg.Key,
		ConfigVersion: cfg.Version,
		Bucket:        -1,
	}

	if !cfg.Enabled() {
		d.VariantKey = cfg.DefaultVariant
		d.Reason = flag.ReasonDisabled
		return d
	}

	targeted := len(cfg.Targeting) > 0
	if targeted {
		compiled, err := e.compiledRule(cfg)
		if err != nil {
			// A malformed rule fails closed to the default variant and
			// never propagates to the caller.
			e.logger.Error("rule compilation failed",
				slog.String("flag_key", cfg.Key),
				slog.Int64("config_version", cfg.Version),
				slog.String("error", err.Error()),
			)
			d.VariantKey = cfg.DefaultVariant
			d.Reason = flag.ReasonFallback
			return d
		}

		result := rules.Evaluate(compiled, evalCtx)
		if !result.Matched {
			if e.logger.Enabled(context.Background(), slog.LevelDebug) {
				e.logger.Debug("targeting did not match",
					slog.String("flag_key", cfg.Key),
					slog.String("subject_id", subjectID),
					slog.Any("trace", result.Trace),
				)
			}
			d.VariantKey = cfg.DefaultVariant
			d.Reason = flag.ReasonNoMatch
			return d
		}
	}

	// A single hash draw decides holdout, rollout inclusion, and variant:
	// rollout acts as an outer boundary on the same bucket so widening a
	// rollout never reassigns already-included subjects.
	res := assign.AssignBucket(
		assign.Bucket(cfg.Salt, cfg.Key, subjectID),
		cfg.Variants,
		e.opts.HoldoutBps,
	)
	d.Bucket = res.Bucket

	switch {
	case res.Holdout:
		d.VariantKey = cfg.DefaultVariant
		d.Reason = flag.ReasonHoldout
	case res.Bucket >= cfg.RolloutBps:
		d.VariantKey = cfg.DefaultVariant
		d.Reason = flag.ReasonRolloutExcluded
	case res.Assigned:
		d.VariantKey = res.VariantKey
		if targeted {
			d.Reason = flag.ReasonTargetingMatch
		} else {
			d.Reason = flag.ReasonDefaultAllocation
		}
	default:
		d.VariantKey = cfg.DefaultVariant
		d.Reason = flag.ReasonNoAssignment
	}

	return d
}

// compiledRule returns the compiled form of the config's targeting tree,
// compiling lazily per (key, version). Compilation is pure, so two
// goroutines racing on a cold key at worst duplicate work.
func (e *Engine) compiledRule(cfg *flag.Config) (*rules.CompiledRule, error) {
	cacheKey := fmt.Sprintf("%s@%d", cfg.Key, cfg.Version)
	if compiled, ok := e.compiled.Get(cacheKey); ok {
		return compiled, nil
	}

	compiled, err := rules.Compile(cfg.Targeting, cfg.Version, e.opts.Compile)
	if err != nil {
		observability.CompileTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	observability.CompileTotal.WithLabelValues("ok").Inc()

	e.compiled.Add(cacheKey, compiled)
	return compiled, nil
}

// InvalidateCompiled drops the compiled rule for a key and version after an
// explicit config invalidation. Versioned cache keys already make a new
// version miss on its own; dropping eagerly just frees space.
func (e *Engine) InvalidateCompiled(flagKey string, version int64) {
	e.compiled.Remove(fmt.Sprintf("%s@%d", flagKey, version))
}

// record counts the decision and emits nothing.
func (e *Engine) record(d flag.Decision) {
	observability.EvalTotal.WithLabelValues(string(d.Reason)).Inc()
	if d.Degraded {
		observability.DegradedDecisions.Inc()
	}
}

// expose enqueues an exposure event for decisions that actually assigned a
// variant from the bucket space. Enqueue never blocks.
func (e *Engine) expose(d flag.Decision) {
	if d.Reason != flag.ReasonTargetingMatch && d.Reason != flag.ReasonDefaultAllocation {
		return
	}
	e.dispatcher.Enqueue(flag.ExposureEvent{
		ID:            uuid.NewString(),
		SubjectID:     d.SubjectID,
		FlagKey:       d.FlagKey,
		VariantKey:    d.VariantKey,
		ConfigVersion: d.ConfigVersion,
		Reason:        d.Reason,
		Timestamp:     time.Now().UTC(),
	})
}
