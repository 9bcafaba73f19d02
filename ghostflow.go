// Package ghostflow is the root of the ghostflow workflow engine module
package ghostflow

const (
	// Name is the service name reported in logs
	Name = "ghostflow"

	// Version is the engine release version
	Version = "0.4.0"
)
