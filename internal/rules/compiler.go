package rules

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bifrost-flags/bifrost/internal/flag"
)

// CompileOptions bounds compilation and the work each compiled predicate may
// later perform. Zero values fall back to safe defaults.
type CompileOptions struct {
	// MaxDepth bounds the rule tree. A tree deeper than this fails
	// compilation; it is also the guard against cyclic input.
	MaxDepth int

	// PredicateBudget is the wall-clock bound for a single regex match.
	PredicateBudget time.Duration

	// MaxValueBytes bounds the input a string predicate will process.
	MaxValueBytes int
}

const (
	defaultMaxDepth        = 32
	defaultPredicateBudget = 5 * time.Millisecond
	defaultMaxValueBytes   = 16 * 1024
)

func (o CompileOptions) withDefaults() CompileOptions {
	if o.MaxDepth <= 0 {
		o.MaxDepth = defaultMaxDepth
	}
	if o.PredicateBudget <= 0 {
		o.PredicateBudget = defaultPredicateBudget
	}
	if o.MaxValueBytes <= 0 {
		o.MaxValueBytes = defaultMaxValueBytes
	}
	return o
}

// rawNode is the transport shape of a rule-tree node. Exactly one of the
// branch fields (and/or/not) or the leaf operator must be populated.
type rawNode struct {
	And []json.RawMessage `json:"and"`
	Or  []json.RawMessage `json:"or"`
	Not json.RawMessage   `json:"not"`

	ID    string          `json:"id"`
	Attr  string          `json:"attr"`
	Op    string          `json:"op"`
	Value json.RawMessage `json:"value"`
}

// Compile turns a raw JSON rule tree into a CompiledRule tagged with the
// source config version. It resolves operators into typed predicates, folds
// constants (regexes, semver constraints, geo bounds, timestamps), and
// reorders AND/OR children so cheap checks run before expensive ones.
//
// Compile is a pure transform with no side effects; the caller is
// responsible for caching the result per (key, version).
func Compile(ruleTree []byte, configVersion int64, opts CompileOptions) (*CompiledRule, error) {
	if len(ruleTree) == 0 {
		return nil, flag.NewSyntaxError("", "empty rule tree")
	}
	opts = opts.withDefaults()

	c := &compiler{opts: opts}
	root, err := c.compileNode(ruleTree, "$", 1)
	if err != nil {
		return nil, err
	}

	return &CompiledRule{
		Root:       root,
		Version:    configVersion,
		CompiledAt: time.Now().UTC(),
		Conditions: c.conditions,
	}, nil
}

// compiler carries per-compilation state: the options and the positional
// condition counter used for trace IDs.
type compiler struct {
	opts       CompileOptions
	conditions int
}

func (c *compiler) compileNode(raw json.RawMessage, path string, depth int) (Node, error) {
	if depth > c.opts.MaxDepth {
		return nil, flag.NewSyntaxError(path, "rule tree exceeds maximum depth %d", c.opts.MaxDepth)
	}

	var node rawNode
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, flag.NewSyntaxError(path, "invalid node: %v", err)
	}

	kinds := 0
	if node.And != nil {
		kinds++
	}
	if node.Or != nil {
		kinds++
	}
	if node.Not != nil {
		kinds++
	}
	if node.Op != "" {
		kinds++
	}
	if kinds != 1 {
		return nil, flag.NewSyntaxError(path, "node must have exactly one of and/or/not/op, got %d", kinds)
	}

	switch {
	case node.And != nil:
		children, err := c.compileChildren(node.And, path+".and", depth)
		if err != nil {
			return nil, err
		}
		return &andNode{children: children, cost: sumCost(children)}, nil

	case node.Or != nil:
		children, err := c.compileChildren(node.Or, path+".or", depth)
		if err != nil {
			return nil, err
		}
		return &orNode{children: children, cost: sumCost(children)}, nil

	case node.Not != nil:
		child, err := c.compileNode(node.Not, path+".not", depth+1)
		if err != nil {
			return nil, err
		}
		return &notNode{child: child, cost: child.Cost()}, nil

	default:
		return c.compileLeaf(&node, path)
	}
}

func (c *compiler) compileChildren(raws []json.RawMessage, path string, depth int) ([]Node, error) {
	if len(raws) == 0 {
		return nil, flag.NewSyntaxError(path, "branch must have at least one child")
	}

	children := make([]Node, 0, len(raws))
	for i, raw := range raws {
		child, err := c.compileNode(raw, fmt.Sprintf("%s[%d]", path, i), depth+1)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}

	// Short-circuit reordering: a cheap equality deciding the branch saves
	// a regex or geo computation. The sort is stable so equal-cost
	// conditions keep their source order.
	sort.SliceStable(children, func(i, j int) bool {
		return children[i].Cost() < children[j].Cost()
	})

	return children, nil
}

func (c *compiler) compileLeaf(node *rawNode, path string) (*Predicate, error) {
	if node.Attr == "" {
		return nil, flag.NewSyntaxError(path, "condition requires an attr")
	}

	spec, ok := operators[node.Op]
	if !ok {
		return nil, flag.NewSyntaxError(path, "unknown operator %q", node.Op)
	}
	if len(node.Value) == 0 {
		return nil, flag.NewSyntaxError(path, "operator %q requires a value", node.Op)
	}

	match, err := spec.build(parseOperand(node.Value), c.opts)
	if err != nil {
		return nil, flag.NewSyntaxError(path, "operator %q: %v", node.Op, err)
	}

	c.conditions++
	id := node.ID
	if id == "" {
		id = fmt.Sprintf("c%d", c.conditions)
	}

	return &Predicate{
		ID:    id,
		Attr:  normalizeAttrPath(node.Attr),
		Op:    node.Op,
		match: match,
		cost:  spec.cost,
	}, nil
}

func sumCost(children []Node) int {
	total := 0
	for _, child := range children {
		total += child.Cost()
	}
	return total
}

// normalizeAttrPath rewrites bracketed segments into dotted form so the
// accessor deals with a single syntax: "items[0].name" -> "items.0.name".
func normalizeAttrPath(attr string) string {
	if !strings.ContainsRune(attr, '[') {
		return attr
	}
	var b strings.Builder
	b.Grow(len(attr))
	for _, r := range attr {
		switch r {
		case '[':
			b.WriteByte('.')
		case ']':
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), ".")
}
