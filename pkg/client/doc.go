// Package client provides a Go API for a running ghostflow engine
//
// The client registers flow definitions, starts and cancels executions,
// and reads back execution records over the engine's HTTP API. Flow
// definitions can be assembled with the immutable Flow builder
package client
