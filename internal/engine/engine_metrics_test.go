package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bifrost-flags/bifrost/internal/flag"
	"github.com/bifrost-flags/bifrost/internal/rules"
	"github.com/bifrost-flags/bifrost/internal/testsupport"
)

// Metrics are process-global, so this test runs serially (no t.Parallel)
// and asserts deltas rather than absolute values.
func TestEngine_Metrics(t *testing.T) {
	t.Run("counts decisions by reason and records latency", func(t *testing.T) {
		h := newHarness(t, time.Minute, Options{})
		h.store.configs["metrics-flag"] = activeConfig("metrics-flag")

		reason := map[string]string{"reason": string(flag.ReasonDefaultAllocation)}
		testsupport.AssertMetricDelta(t, "bifrost_engine_decisions_total", reason, 1, func() {
			d, err := h.engine.Evaluate(context.Background(), "metrics-flag", "user-1", nil, 0)
			require.NoError(t, err)
			assert.Equal(t, flag.ReasonDefaultAllocation, d.Reason)
		})

		testsupport.AssertHistogramRecorded(t, "bifrost_engine_eval_seconds", nil)
	})

	t.Run("counts a rule compilation once per config version", func(t *testing.T) {
		h := newHarness(t, time.Minute, Options{})
		cfg := activeConfig("metrics-targeted")
		cfg.Targeting = json.RawMessage(`{"attr": "country", "op": "eq", "value": "US"}`)
		h.store.configs["metrics-targeted"] = cfg

		evalCtx, err := rules.NewContext(map[string]any{"country": "US"})
		require.NoError(t, err)

		ok := map[string]string{"status": "ok"}
		testsupport.AssertMetricDelta(t, "bifrost_engine_rule_compilations_total", ok, 1, func() {
			_, err := h.engine.Evaluate(context.Background(), "metrics-targeted", "user-1", evalCtx, 0)
			require.NoError(t, err)
		})

		// The compiled rule is cached by key and version; a second
		// evaluation must not recompile.
		testsupport.AssertMetricDelta(t, "bifrost_engine_rule_compilations_total", ok, 0, func() {
			_, err := h.engine.Evaluate(context.Background(), "metrics-targeted", "user-2", evalCtx, 0)
			require.NoError(t, err)
		})
	})

	t.Run("counts degraded decisions served from stale data", func(t *testing.T) {
		h := newHarness(t, time.Nanosecond, Options{})
		h.store.configs["metrics-degraded"] = activeConfig("metrics-degraded")

		_, err := h.engine.Evaluate(context.Background(), "metrics-degraded", "user-1", nil, 0)
		require.NoError(t, err)

		h.store.fail(errors.New("connection refused"))

		testsupport.AssertMetricDelta(t, "bifrost_engine_degraded_decisions_total", nil, 1, func() {
			d, err := h.engine.Evaluate(context.Background(), "metrics-degraded", "user-1", nil, 0)
			require.NoError(t, err)
			assert.True(t, d.Degraded)
		})
	})
}
