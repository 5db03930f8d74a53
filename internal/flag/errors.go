package flag

import (
	"errors"
	"fmt"
)

// ErrConfigNotFound is returned when a flag key is unknown to every tier of
// the config hierarchy. It is the only domain error surfaced to callers;
// everything else degrades to a safe Decision.
var ErrConfigNotFound = errors.New("flag config not found")

// ErrUpstreamUnavailable indicates the authoritative config store could not
// be reached within budget. The coordinator translates it into a degraded
// decision instead of propagating it.
var ErrUpstreamUnavailable = errors.New("config store unavailable")

// SyntaxError reports a malformed targeting rule discovered at compile time:
// an unknown operator, a type-mismatched operand, or an over-deep tree.
// It is logged and fails closed to the default variant, never returned to
// an evaluation caller.
type SyntaxError struct {
	// Path locates the offending node in the rule tree (e.g. "and[2].op").
	Path string
	// Reason is a human-readable explanation.
	Reason string
}

func (e *SyntaxError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("rule syntax error: %s", e.Reason)
	}
	return fmt.Sprintf("rule syntax error at %s: %s", e.Path, e.Reason)
}

// NewSyntaxError builds a SyntaxError with a formatted reason.
func NewSyntaxError(path, format string, args ...any) *SyntaxError {
	return &SyntaxError{Path: path, Reason: fmt.Sprintf(format, args...)}
}
