package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type (
	// ErrorKind classifies a failure recorded on an execution
	ErrorKind string

	// ErrorInfo is the persisted description of a failure
	ErrorInfo struct {
		Details   Value     `json:"details"`
		Kind      ErrorKind `json:"kind"`
		Message   string    `json:"message"`
		NodeID    NodeID    `json:"node_id,omitempty"`
		Retryable bool      `json:"retryable"`
	}

	// ValidationError reports a bad flow or node definition, or input that a
	// node refuses. It is never retried
	ValidationError struct {
		Err    error
		NodeID NodeID
	}

	// ExecutionError reports a node runtime failure. Retryable failures are
	// retried according to the node's retry configuration
	ExecutionError struct {
		Err       error
		Details   Value
		Kind      ErrorKind
		Message   string
		Retryable bool
	}

	// CycleError reports the nodes that participate in a dependency cycle
	CycleError struct {
		Nodes []NodeID
	}

	// DanglingReferenceError reports an edge naming a node that does not
	// exist in the flow
	DanglingReferenceError struct {
		Source  NodeID
		Target  NodeID
		Missing NodeID
	}

	// PersistenceError reports a store-layer failure
	PersistenceError struct {
		Err error
		Op  string
	}

	// UnknownNodeTypeError reports a node type absent from the registry
	UnknownNodeTypeError struct {
		Type string
	}
)

const (
	KindValidation      ErrorKind = "validation"
	KindExecution       ErrorKind = "execution"
	KindTimeout         ErrorKind = "timeout"
	KindCycle           ErrorKind = "cycle"
	KindDanglingRef     ErrorKind = "dangling_reference"
	KindPersistence     ErrorKind = "persistence"
	KindUnknownNodeType ErrorKind = "unknown_node_type"
	KindPanic           ErrorKind = "panic"
	KindCancelled       ErrorKind = "cancelled"
	KindInterrupted     ErrorKind = "interrupted"
)

var (
	ErrTimeout   = errors.New("node execution timed out")
	ErrCancelled = errors.New("execution cancelled")
)

// NewValidationError wraps err as a ValidationError for the given node
func NewValidationError(nodeID NodeID, err error) *ValidationError {
	return &ValidationError{NodeID: nodeID, Err: err}
}

// NewExecutionError creates an ExecutionError with the execution kind
func NewExecutionError(msg string, retryable bool) *ExecutionError {
	return &ExecutionError{
		Kind:      KindExecution,
		Message:   msg,
		Retryable: retryable,
	}
}

// WrapExecutionError wraps err as an ExecutionError with the execution kind
func WrapExecutionError(err error, retryable bool) *ExecutionError {
	return &ExecutionError{
		Kind:      KindExecution,
		Message:   err.Error(),
		Retryable: retryable,
		Err:       err,
	}
}

// NewTimeoutError creates a retryable ExecutionError that matches ErrTimeout
func NewTimeoutError(after time.Duration) *ExecutionError {
	return &ExecutionError{
		Kind:      KindTimeout,
		Message:   fmt.Sprintf("%s after %s", ErrTimeout, after),
		Retryable: true,
		Err:       ErrTimeout,
	}
}

// WithDetails returns a copy of the error carrying structured details
func (e *ExecutionError) WithDetails(details Value) *ExecutionError {
	res := *e
	res.Details = details
	return &res
}

func (e *ExecutionError) Error() string {
	return e.Message
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("validation failed: %s", e.Err)
	}
	return fmt.Sprintf("validation failed for node %s: %s", e.NodeID, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *CycleError) Error() string {
	ids := make([]string, len(e.Nodes))
	for i, id := range e.Nodes {
		ids[i] = string(id)
	}
	return fmt.Sprintf("cycle detected among nodes: %s", strings.Join(ids, ", "))
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("edge %s -> %s references unknown node %s",
		e.Source, e.Target, e.Missing)
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %s", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *UnknownNodeTypeError) Error() string {
	return fmt.Sprintf("unknown node type: %s", e.Type)
}

func (e *ErrorInfo) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: node %s: %s", e.Kind, e.NodeID, e.Message)
}

// IsRetryable reports whether err is an ExecutionError flagged retryable
func IsRetryable(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee) && ee.Retryable
}

// ErrorInfoOf classifies any error into the persisted ErrorInfo form
func ErrorInfoOf(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	res := &ErrorInfo{
		Kind:    KindExecution,
		Message: err.Error(),
	}

	var (
		info *ErrorInfo
		ve   *ValidationError
		ee   *ExecutionError
		ce   *CycleError
		de   *DanglingReferenceError
		pe   *PersistenceError
		ue   *UnknownNodeTypeError
	)
	switch {
	case errors.As(err, &info):
		cpy := *info
		return &cpy
	case errors.As(err, &ee):
		res.Kind = ee.Kind
		res.Details = ee.Details
		res.Retryable = ee.Retryable
	case errors.As(err, &ve):
		res.Kind = KindValidation
		res.NodeID = ve.NodeID
	case errors.As(err, &ce):
		res.Kind = KindCycle
		nodes := make([]Value, len(ce.Nodes))
		for i, id := range ce.Nodes {
			nodes[i] = String(string(id))
		}
		res.Details = Mapping(map[string]Value{"nodes": Sequence(nodes...)})
	case errors.As(err, &de):
		res.Kind = KindDanglingRef
		res.Details = Mapping(map[string]Value{
			"source":  String(string(de.Source)),
			"target":  String(string(de.Target)),
			"missing": String(string(de.Missing)),
		})
	case errors.As(err, &pe):
		res.Kind = KindPersistence
		res.Details = Mapping(map[string]Value{"op": String(pe.Op)})
	case errors.As(err, &ue):
		res.Kind = KindUnknownNodeType
		res.Details = Mapping(map[string]Value{"type": String(ue.Type)})
	case errors.Is(err, ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		res.Kind = KindTimeout
		res.Retryable = true
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		res.Kind = KindCancelled
	}
	return res
}
