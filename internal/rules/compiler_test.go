package rules

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bifrost-flags/bifrost/internal/flag"
)

func TestCompile_ValidTree(t *testing.T) {
	t.Parallel()

	// Arrange
	tree := []byte(`{
		"and": [
			{"attr": "country", "op": "in", "value": ["US", "CA"]},
			{"attr": "age", "op": "gte", "value": 18}
		]
	}`)

	// Act
	rule, err := Compile(tree, 7, CompileOptions{})

	// Assert
	require.NoError(t, err)
	require.NotNil(t, rule.Root)
	assert.Equal(t, int64(7), rule.Version)
	assert.Equal(t, 2, rule.Conditions)
	assert.False(t, rule.CompiledAt.IsZero())
}

func TestCompile_SyntaxErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		tree     string
		wantPath string
		wantMsg  string
	}{
		{
			name:     "unknown operator",
			tree:     `{"attr": "country", "op": "similar_to", "value": "US"}`,
			wantPath: "$",
			wantMsg:  "unknown operator",
		},
		{
			name:     "operand type mismatch",
			tree:     `{"attr": "age", "op": "gte", "value": "eighteen"}`,
			wantPath: "$",
			wantMsg:  "must be a number",
		},
		{
			name:     "missing attr",
			tree:     `{"op": "eq", "value": 1}`,
			wantPath: "$",
			wantMsg:  "requires an attr",
		},
		{
			name:     "missing value",
			tree:     `{"attr": "age", "op": "gte"}`,
			wantPath: "$",
			wantMsg:  "requires a value",
		},
		{
			name:     "empty branch",
			tree:     `{"and": []}`,
			wantPath: "$.and",
			wantMsg:  "at least one child",
		},
		{
			name:     "mixed node kinds",
			tree:     `{"and": [{"attr": "a", "op": "eq", "value": 1}], "attr": "b", "op": "eq", "value": 2}`,
			wantPath: "$",
			wantMsg:  "exactly one",
		},
		{
			name:     "invalid regex",
			tree:     `{"attr": "email", "op": "matches", "value": "[unclosed"}`,
			wantPath: "$",
			wantMsg:  "invalid pattern",
		},
		{
			name:     "nested error carries path",
			tree:     `{"or": [{"attr": "a", "op": "eq", "value": 1}, {"attr": "b", "op": "nope", "value": 2}]}`,
			wantPath: "$.or[1]",
			wantMsg:  "unknown operator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Act
			_, err := Compile([]byte(tt.tree), 1, CompileOptions{})

			// Assert
			require.Error(t, err)
			var synErr *flag.SyntaxError
			require.ErrorAs(t, err, &synErr, "compile errors must be syntax errors")
			assert.Equal(t, tt.wantPath, synErr.Path)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestCompile_EmptyTree(t *testing.T) {
	t.Parallel()

	_, err := Compile(nil, 1, CompileOptions{})

	var synErr *flag.SyntaxError
	require.ErrorAs(t, err, &synErr)
}

func TestCompile_DepthLimit(t *testing.T) {
	t.Parallel()

	// Arrange: a NOT chain deeper than the configured limit.
	leaf := `{"attr": "a", "op": "eq", "value": 1}`
	tree := leaf
	for i := 0; i < 10; i++ {
		tree = fmt.Sprintf(`{"not": %s}`, tree)
	}

	// Act
	_, err := Compile([]byte(tree), 1, CompileOptions{MaxDepth: 5})

	// Assert
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum depth")
}

func TestCompile_ReordersByCost(t *testing.T) {
	t.Parallel()

	// Arrange: the expensive regex is declared first, the cheap equality
	// second. After compilation the equality must run first, which the
	// trace order makes observable.
	tree := []byte(`{
		"and": [
			{"id": "regex", "attr": "email", "op": "matches", "value": ".*@example\\.com$"},
			{"id": "cheap", "attr": "plan", "op": "eq", "value": "pro"}
		]
	}`)
	rule, err := Compile(tree, 1, CompileOptions{})
	require.NoError(t, err)

	ctx, err := NewContext(map[string]any{"email": "a@example.com", "plan": "pro"})
	require.NoError(t, err)

	// Act
	result := Evaluate(rule, ctx)

	// Assert
	require.True(t, result.Matched)
	require.Len(t, result.Trace, 2)
	assert.Equal(t, "cheap", result.Trace[0].ConditionID, "cheap condition should be evaluated first")
	assert.Equal(t, "regex", result.Trace[1].ConditionID)
}

func TestCompile_StableOrderForEqualCost(t *testing.T) {
	t.Parallel()

	// Arrange: three equal-cost conditions must keep their source order.
	tree := []byte(`{
		"or": [
			{"id": "first", "attr": "a", "op": "eq", "value": 1},
			{"id": "second", "attr": "b", "op": "eq", "value": 1},
			{"id": "third", "attr": "c", "op": "eq", "value": 1}
		]
	}`)
	rule, err := Compile(tree, 1, CompileOptions{})
	require.NoError(t, err)

	ctx, err := NewContext(map[string]any{"a": 0, "b": 0, "c": 0})
	require.NoError(t, err)

	// Act
	result := Evaluate(rule, ctx)

	// Assert: an all-false OR visits every child, exposing the order.
	require.False(t, result.Matched)
	require.Len(t, result.Trace, 3)
	assert.Equal(t, "first", result.Trace[0].ConditionID)
	assert.Equal(t, "second", result.Trace[1].ConditionID)
	assert.Equal(t, "third", result.Trace[2].ConditionID)
}

func TestCompile_PositionalConditionIDs(t *testing.T) {
	t.Parallel()

	// Arrange: conditions without explicit IDs get positional ones in
	// source order, unaffected by cost reordering.
	tree := []byte(`{
		"and": [
			{"attr": "email", "op": "matches", "value": "@"},
			{"attr": "plan", "op": "eq", "value": "pro"}
		]
	}`)
	rule, err := Compile(tree, 1, CompileOptions{})
	require.NoError(t, err)

	ctx, err := NewContext(map[string]any{"email": "x@y", "plan": "pro"})
	require.NoError(t, err)

	// Act
	result := Evaluate(rule, ctx)

	// Assert: c1 is the regex (declared first), c2 the equality. The
	// equality runs first after reordering but keeps its source ID.
	require.Len(t, result.Trace, 2)
	assert.Equal(t, "c2", result.Trace[0].ConditionID)
	assert.Equal(t, "c1", result.Trace[1].ConditionID)
}

func TestNormalizeAttrPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"country", "country"},
		{"user.plan", "user.plan"},
		{"items[0].name", "items.0.name"},
		{"matrix[1][2]", "matrix.1.2"},
		{"[0]", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, normalizeAttrPath(tt.in))
		})
	}
}

func TestCompile_OversizedRegexPattern(t *testing.T) {
	t.Parallel()

	pattern := strings.Repeat("a", maxRegexPattern+1)
	tree := fmt.Sprintf(`{"attr": "s", "op": "matches", "value": %q}`, pattern)

	_, err := Compile([]byte(tree), 1, CompileOptions{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}
