// Package api defines the core data types shared across the flow engine
//
// This package contains flow definitions, execution records, the structured
// Value type passed between nodes, status transition tables, the error
// taxonomy, lifecycle events, and HTTP messages
package api
