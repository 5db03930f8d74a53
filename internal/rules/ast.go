// Package rules implements targeting-rule compilation and evaluation.
//
// A raw JSON rule tree is compiled once into a typed predicate AST
// (a tagged variant per condition kind); evaluation walks the compiled
// tree with short-circuit boolean logic and never inspects JSON again.
// Compilation is a pure transform: the caller owns caching of the result.
package rules

import (
	"time"

	"github.com/tidwall/gjson"
)

// Node is a compiled rule-tree node. The concrete types (andNode, orNode,
// notNode, *Predicate) form a closed set; evaluation dispatches on the type.
type Node interface {
	// Cost is the static evaluation cost estimate used for short-circuit
	// reordering. For branch nodes it aggregates over children.
	Cost() int
}

// CompiledRule is the executable form of a targeting rule, tagged with the
// config version it was compiled from. Immutable once built; safe for
// concurrent evaluation without locking.
type CompiledRule struct {
	Root Node

	// Version of the flag config this rule was compiled from. Never
	// exceeds the source config's version.
	Version int64

	// CompiledAt records when compilation happened.
	CompiledAt time.Time

	// Conditions is the number of leaf predicates in the tree.
	Conditions int
}

// andNode matches when every child matches. Children are ordered cheapest
// first so a cheap false short-circuits expensive predicates.
type andNode struct {
	children []Node
	cost     int
}

func (n *andNode) Cost() int { return n.cost }

// orNode matches when any child matches. Children are ordered cheapest
// first so a cheap true short-circuits expensive predicates.
type orNode struct {
	children []Node
	cost     int
}

func (n *orNode) Cost() int { return n.cost }

// notNode inverts its child. An indeterminate child stays indeterminate:
// NOT(missing attribute) is still "cannot determine", which fails closed.
type notNode struct {
	child Node
	cost  int
}

func (n *notNode) Cost() int { return n.cost }

// matchFunc is a leaf predicate body. It receives the resolved attribute
// value and returns the match outcome. All constants (regexes, semver
// constraints, geo bounds, timestamps) are folded into the closure at
// compile time.
type matchFunc func(val gjson.Result) (bool, error)

// Predicate is a compiled leaf condition.
type Predicate struct {
	// ID identifies the condition in traces. Taken from the rule tree's
	// "id" field when present, otherwise assigned positionally ("c1",
	// "c2", ...) in source order before any reordering.
	ID string

	// Attr is the normalized attribute path (dotted form).
	Attr string

	// Op is the operator name from the source tree, kept for traces.
	Op string

	match matchFunc
	cost  int
}

func (p *Predicate) Cost() int { return p.cost }
