package rules

import (
	"errors"

	"github.com/bifrost-flags/bifrost/internal/observability"
)

// Outcome classifies how a single condition resolved.
type Outcome string

const (
	// OutcomeMatched means the condition evaluated true.
	OutcomeMatched Outcome = "matched"
	// OutcomeNotMatched means the condition evaluated false.
	OutcomeNotMatched Outcome = "not_matched"
	// OutcomeIndeterminate means the attribute was missing or of the wrong
	// type; fail-closed policy treats it as not matched.
	OutcomeIndeterminate Outcome = "indeterminate"
	// OutcomeOverBudget means the condition exceeded its per-predicate
	// bound and was treated as false.
	OutcomeOverBudget Outcome = "over_budget"
)

// TraceEntry records how one condition resolved. The trace is sufficient to
// explain an exclusion without re-running evaluation; conditions skipped by
// short-circuiting do not appear.
type TraceEntry struct {
	ConditionID string  `json:"condition_id"`
	Attr        string  `json:"attr"`
	Op          string  `json:"op"`
	Outcome     Outcome `json:"outcome"`
}

// Result is the outcome of evaluating a compiled rule against a context.
type Result struct {
	Matched bool
	Trace   []TraceEntry
}

// Evaluate walks the compiled predicate tree with short-circuit boolean
// evaluation. It has no side effects and its work is proportional to the
// rule size: branch nodes visit children at most once and leaf predicates
// are individually bounded.
func Evaluate(rule *CompiledRule, ctx *Context) Result {
	if rule == nil || rule.Root == nil {
		return Result{Matched: false}
	}
	e := &evaluator{ctx: ctx, trace: make([]TraceEntry, 0, rule.Conditions)}
	outcome := e.eval(rule.Root)
	return Result{Matched: outcome == OutcomeMatched, Trace: e.trace}
}

type evaluator struct {
	ctx   *Context
	trace []TraceEntry
}

// eval dispatches on the node's variant tag and returns a three-valued
// outcome so indeterminate children survive propagation through branches.
// "Cannot determine" never flips to a match under NOT, no matter how deep
// the unresolvable attribute sits.
func (e *evaluator) eval(node Node) Outcome {
	switch n := node.(type) {
	case *andNode:
		for _, child := range n.children {
			if out := e.eval(child); out != OutcomeMatched {
				return out
			}
		}
		return OutcomeMatched

	case *orNode:
		out := OutcomeNotMatched
		for _, child := range n.children {
			switch e.eval(child) {
			case OutcomeMatched:
				return OutcomeMatched
			case OutcomeIndeterminate, OutcomeOverBudget:
				out = OutcomeIndeterminate
			}
		}
		return out

	case *notNode:
		switch e.eval(n.child) {
		case OutcomeMatched:
			return OutcomeNotMatched
		case OutcomeNotMatched:
			return OutcomeMatched
		default:
			// An indeterminate or over-budget child stays excluded.
			return OutcomeIndeterminate
		}

	case *Predicate:
		_, outcome := e.evalLeaf(n)
		return outcome

	default:
		return OutcomeIndeterminate
	}
}

// evalLeaf resolves the attribute, runs the predicate, and appends a trace
// entry.
func (e *evaluator) evalLeaf(p *Predicate) (bool, Outcome) {
	val := e.ctx.Resolve(p.Attr)

	var (
		matched bool
		outcome Outcome
	)
	if !val.Exists() {
		outcome = OutcomeIndeterminate
	} else {
		var err error
		matched, err = p.match(val)
		switch {
		case errors.Is(err, errOverBudget):
			matched, outcome = false, OutcomeOverBudget
			observability.PredicateOverBudget.Inc()
		case errors.Is(err, errIndeterminate):
			matched, outcome = false, OutcomeIndeterminate
		case matched:
			outcome = OutcomeMatched
		default:
			outcome = OutcomeNotMatched
		}
	}

	e.trace = append(e.trace, TraceEntry{
		ConditionID: p.ID,
		Attr:        p.Attr,
		Op:          p.Op,
		Outcome:     outcome,
	})
	return matched, outcome
}
