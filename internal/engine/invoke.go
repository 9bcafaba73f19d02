package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/GhostKellz/ghostflow/internal/artifact"
	"github.com/GhostKellz/ghostflow/pkg/api"
	"github.com/GhostKellz/ghostflow/pkg/node"
)

type outcome struct {
	err    error
	output api.Value
}

// invoke runs Validate then Execute for one attempt. A timeout fails the
// attempt at once and abandons the node goroutine, which keeps its slot
// until it returns. Cancellation of ctx gives the node the configured
// grace period to return partial output
func (e *Engine) invoke(
	ctx context.Context, a *attempt,
) (api.Value, node.Outputs, error) {
	actx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		o := perform(actx, a)
		a.release()
		done <- o
	}()

	var expired <-chan time.Time
	if a.timeout > 0 {
		t := time.NewTimer(a.timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case o := <-done:
		return o.output, a.nc.Staged(), o.err
	case <-expired:
		return api.Null(), node.Outputs{}, api.NewTimeoutError(a.timeout)
	case <-ctx.Done():
	}

	grace := time.NewTimer(e.config.CancelGraceDuration())
	defer grace.Stop()
	select {
	case o := <-done:
		if o.err == nil {
			return o.output, a.nc.Staged(), nil
		}
		return o.output, node.Outputs{}, o.err
	case <-grace.C:
		return api.Null(), node.Outputs{}, api.ErrCancelled
	}
}

func perform(ctx context.Context, a *attempt) (o outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			o = outcome{err: panicError(rec)}
		}
	}()
	if err := a.cap.Validate(ctx, a.nc); err != nil {
		return outcome{err: asValidation(a.nc.NodeID, err)}
	}
	out, err := a.cap.Execute(ctx, a.nc)
	return outcome{output: out, err: err}
}

func asValidation(id api.NodeID, err error) error {
	var ve *api.ValidationError
	if errors.As(err, &ve) {
		return err
	}
	return api.NewValidationError(id, err)
}

func panicError(rec any) error {
	return (&api.ExecutionError{
		Kind:    api.KindPanic,
		Message: fmt.Sprintf("node panicked: %v", rec),
	}).WithDetails(api.Mapping(map[string]api.Value{
		"stack": api.String(string(debug.Stack())),
	}))
}

// artifactError classifies a failure to store staged artifact content. A
// name clash is permanent while bucket errors may be transient
func artifactError(err error) error {
	if errors.Is(err, artifact.ErrArtifactExists) ||
		errors.Is(err, artifact.ErrNameRequired) {
		return api.WrapExecutionError(err, false)
	}
	return api.WrapExecutionError(err, true)
}
