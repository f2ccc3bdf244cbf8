// Package collector defines the Collector interface and the runtime
// collectors that accumulate statistics from host runtime hooks.
package collector

import "context"

// Collector is the interface that all metric collectors must implement.
// Each collector gathers a specific type of runtime metric.
type Collector interface {
	// Name returns the unique identifier for this collector.
	Name() string

	// Collect returns the collector's current data. Window collectors
	// answer with a read-and-reset, so every call starts a new window.
	Collect(ctx context.Context) (interface{}, error)

	// IsAvailable checks if this collector can run in the current runtime.
	// Collectors that return false will not be registered.
	IsAvailable() bool
}

// Armable is implemented by collectors that hook into the runtime and must
// be explicitly started and stopped. Both calls are idempotent.
type Armable interface {
	Start()
	Stop()
}
