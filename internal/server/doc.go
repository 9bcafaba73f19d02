// Package server implements the HTTP API server for the engine
//
// This package provides REST endpoints for managing flows and executions,
// webhook triggers, metrics, health checks, and a WebSocket stream of
// lifecycle events
package server
