package rules

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// compileTree is a test helper for rules that must compile.
func compileTree(t *testing.T, tree string) *CompiledRule {
	t.Helper()
	rule, err := Compile([]byte(tree), 1, CompileOptions{})
	require.NoError(t, err)
	return rule
}

// evalContext is a test helper for contexts that must build.
func evalContext(t *testing.T, attrs map[string]any) *Context {
	t.Helper()
	ctx, err := NewContext(attrs)
	require.NoError(t, err)
	return ctx
}

func TestEvaluate_AndOfInAndGte(t *testing.T) {
	t.Parallel()

	rule := compileTree(t, `{
		"and": [
			{"id": "country", "attr": "country", "op": "in", "value": ["US", "CA"]},
			{"id": "age", "attr": "age", "op": "gte", "value": 18}
		]
	}`)

	tests := []struct {
		name    string
		attrs   map[string]any
		matched bool
	}{
		{
			name:    "both conditions hold",
			attrs:   map[string]any{"country": "US", "age": 21},
			matched: true,
		},
		{
			name:    "country not in list",
			attrs:   map[string]any{"country": "FR", "age": 21},
			matched: false,
		},
		{
			name:    "age below threshold",
			attrs:   map[string]any{"country": "CA", "age": 17},
			matched: false,
		},
		{
			name:    "age exactly at threshold",
			attrs:   map[string]any{"country": "CA", "age": 18},
			matched: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := Evaluate(rule, evalContext(t, tt.attrs))

			assert.Equal(t, tt.matched, result.Matched)
		})
	}
}

func TestEvaluate_TraceExplainsExclusion(t *testing.T) {
	t.Parallel()

	// Arrange
	rule := compileTree(t, `{
		"and": [
			{"id": "country", "attr": "country", "op": "in", "value": ["US", "CA"]},
			{"id": "age", "attr": "age", "op": "gte", "value": 18}
		]
	}`)

	// Act
	result := Evaluate(rule, evalContext(t, map[string]any{"country": "FR", "age": 30}))

	// Assert: the trace alone identifies the failing condition without
	// re-running evaluation.
	require.False(t, result.Matched)
	require.Len(t, result.Trace, 1, "AND short-circuits after the first false child")
	assert.Equal(t, "country", result.Trace[0].ConditionID)
	assert.Equal(t, OutcomeNotMatched, result.Trace[0].Outcome)
}

func TestEvaluate_ShortCircuit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		tree       string
		attrs      map[string]any
		matched    bool
		traceLen   int
		firstID    string
		firstState Outcome
	}{
		{
			name: "AND stops at first false",
			tree: `{"and": [
				{"id": "a", "attr": "x", "op": "eq", "value": 1},
				{"id": "b", "attr": "y", "op": "eq", "value": 1}
			]}`,
			attrs:      map[string]any{"x": 0, "y": 1},
			matched:    false,
			traceLen:   1,
			firstID:    "a",
			firstState: OutcomeNotMatched,
		},
		{
			name: "OR stops at first true",
			tree: `{"or": [
				{"id": "a", "attr": "x", "op": "eq", "value": 1},
				{"id": "b", "attr": "y", "op": "eq", "value": 1}
			]}`,
			attrs:      map[string]any{"x": 1, "y": 0},
			matched:    true,
			traceLen:   1,
			firstID:    "a",
			firstState: OutcomeMatched,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := Evaluate(compileTree(t, tt.tree), evalContext(t, tt.attrs))

			assert.Equal(t, tt.matched, result.Matched)
			require.Len(t, result.Trace, tt.traceLen)
			assert.Equal(t, tt.firstID, result.Trace[0].ConditionID)
			assert.Equal(t, tt.firstState, result.Trace[0].Outcome)
		})
	}
}

func TestEvaluate_FailClosed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		tree    string
		attrs   map[string]any
		matched bool
		outcome Outcome
	}{
		{
			name:    "missing attribute is indeterminate",
			tree:    `{"id": "c", "attr": "country", "op": "eq", "value": "US"}`,
			attrs:   map[string]any{"age": 30},
			matched: false,
			outcome: OutcomeIndeterminate,
		},
		{
			name:    "type mismatch is indeterminate",
			tree:    `{"id": "c", "attr": "age", "op": "gte", "value": 18}`,
			attrs:   map[string]any{"age": "thirty"},
			matched: false,
			outcome: OutcomeIndeterminate,
		},
		{
			name:    "non-scalar value for eq is indeterminate",
			tree:    `{"id": "c", "attr": "tags", "op": "eq", "value": "a"}`,
			attrs:   map[string]any{"tags": []string{"a"}},
			matched: false,
			outcome: OutcomeIndeterminate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := Evaluate(compileTree(t, tt.tree), evalContext(t, tt.attrs))

			assert.Equal(t, tt.matched, result.Matched)
			require.Len(t, result.Trace, 1)
			assert.Equal(t, tt.outcome, result.Trace[0].Outcome)
		})
	}
}

func TestEvaluate_NotOfIndeterminateStaysExcluded(t *testing.T) {
	t.Parallel()

	// Arrange: NOT over a condition on a missing attribute. "Cannot
	// determine" must not flip into a match.
	rule := compileTree(t, `{"not": {"id": "c", "attr": "country", "op": "eq", "value": "US"}}`)

	// Act
	result := Evaluate(rule, evalContext(t, map[string]any{"age": 30}))

	// Assert
	assert.False(t, result.Matched)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, OutcomeIndeterminate, result.Trace[0].Outcome)
}

func TestEvaluate_NotOverBranchStaysExcluded(t *testing.T) {
	t.Parallel()

	// A NOT wrapping a branch must treat an indeterminate subtree exactly
	// like a NOT wrapping the bare condition: excluded, never inverted.
	leaf := compileTree(t, `{"not": {"attr": "country", "op": "eq", "value": "US"}}`)
	overAnd := compileTree(t, `{"not": {"and": [{"attr": "country", "op": "eq", "value": "US"}]}}`)
	overOr := compileTree(t, `{"not": {"or": [
		{"attr": "country", "op": "eq", "value": "US"},
		{"attr": "region", "op": "eq", "value": "emea"}
	]}}`)

	missing := evalContext(t, map[string]any{"age": 30})

	assert.False(t, Evaluate(leaf, missing).Matched)
	assert.False(t, Evaluate(overAnd, missing).Matched)
	assert.False(t, Evaluate(overOr, missing).Matched)

	// With the attribute present, the same branches invert normally.
	french := evalContext(t, map[string]any{"country": "FR", "region": "apac"})
	assert.True(t, Evaluate(leaf, french).Matched)
	assert.True(t, Evaluate(overAnd, french).Matched)
	assert.True(t, Evaluate(overOr, french).Matched)
}

func TestEvaluate_NotInvertsDeterminedChild(t *testing.T) {
	t.Parallel()

	rule := compileTree(t, `{"not": {"attr": "country", "op": "eq", "value": "US"}}`)

	assert.False(t, Evaluate(rule, evalContext(t, map[string]any{"country": "US"})).Matched)
	assert.True(t, Evaluate(rule, evalContext(t, map[string]any{"country": "FR"})).Matched)
}

func TestEvaluate_NestedBranches(t *testing.T) {
	t.Parallel()

	rule := compileTree(t, `{
		"or": [
			{"and": [
				{"attr": "plan", "op": "eq", "value": "pro"},
				{"attr": "seats", "op": "gt", "value": 10}
			]},
			{"attr": "beta_tester", "op": "eq", "value": true}
		]
	}`)

	tests := []struct {
		name    string
		attrs   map[string]any
		matched bool
	}{
		{"inner and holds", map[string]any{"plan": "pro", "seats": 50, "beta_tester": false}, true},
		{"beta tester alone", map[string]any{"plan": "free", "seats": 1, "beta_tester": true}, true},
		{"neither branch", map[string]any{"plan": "free", "seats": 1, "beta_tester": false}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.matched, Evaluate(rule, evalContext(t, tt.attrs)).Matched)
		})
	}
}

func TestEvaluate_NestedAttributePaths(t *testing.T) {
	t.Parallel()

	rule := compileTree(t, `{
		"and": [
			{"attr": "user.plan", "op": "eq", "value": "pro"},
			{"attr": "items[0].sku", "op": "eq", "value": "A-1"}
		]
	}`)

	ctx, err := NewContextFromJSON([]byte(`{
		"user": {"plan": "pro"},
		"items": [{"sku": "A-1"}, {"sku": "B-2"}]
	}`), 0)
	require.NoError(t, err)

	assert.True(t, Evaluate(rule, ctx).Matched)
}

func TestEvaluate_NilRule(t *testing.T) {
	t.Parallel()

	result := Evaluate(nil, evalContext(t, map[string]any{"a": 1}))

	assert.False(t, result.Matched)
	assert.Empty(t, result.Trace)
}

func TestNewContextFromJSON_Bounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		max     int
		wantErr string
	}{
		{"valid object", `{"a": 1}`, 0, ""},
		{"oversized document", `{"a": "` + strings.Repeat("x", 128) + `"}`, 64, "byte limit"},
		{"invalid json", `{"a": `, 0, "not valid JSON"},
		{"non-object root", `[1, 2]`, 0, "must be a JSON object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewContextFromJSON([]byte(tt.raw), tt.max)

			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
