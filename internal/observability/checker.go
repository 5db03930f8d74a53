package observability

import "context"

// Checker is the contract for any component that reports health.
// Implementations must be thread-safe and respect the context deadline.
type Checker interface {
	// Name returns the unique identifier of the component (e.g. "postgres").
	Name() string
	// Check returns nil if healthy.
	Check(ctx context.Context) error
}
