package api

import (
	"regexp"
	"strings"
)

type (
	// FlowID is a unique identifier for a flow definition
	FlowID string

	// NodeID identifies a node within a flow definition
	NodeID string

	// TriggerID identifies a trigger within a flow definition
	TriggerID string

	// ExecutionID is a unique identifier for a flow execution
	ExecutionID string

	// NodeExecutionID is a unique identifier for a node execution record
	NodeExecutionID string

	// LogID is a unique identifier for an execution log entry
	LogID string

	// ArtifactID is a unique identifier for an artifact record
	ArtifactID string
)

// InvalidIDChars matches characters not permitted in flow and node IDs. Valid
// characters are: letters, digits, underscore, dot, hyphen, plus, space
var InvalidIDChars = regexp.MustCompile(`[^a-zA-Z0-9_.\-+ ]`)

// SanitizeID lowercases an ID, removes invalid characters, replaces spaces
// with hyphens, and trims leading and trailing hyphens
func SanitizeID[T ~string](id T) T {
	lower := strings.ToLower(string(id))
	sanitized := InvalidIDChars.ReplaceAllString(lower, "")
	sanitized = strings.ReplaceAll(sanitized, " ", "-")
	return T(strings.Trim(sanitized, "-"))
}
