// Package engine orchestrates flow executions. Each execution is driven by
// a single goroutine that dispatches ready nodes to workers, persists every
// state transition, and publishes lifecycle events
package engine
