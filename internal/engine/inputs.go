package engine

import (
	"fmt"

	"github.com/GhostKellz/ghostflow/internal/graph"
	"github.com/GhostKellz/ghostflow/pkg/api"
)

var parameterKinds = map[string]api.Kind{
	"bool":     api.KindBool,
	"boolean":  api.KindBool,
	"number":   api.KindNumber,
	"integer":  api.KindNumber,
	"string":   api.KindString,
	"sequence": api.KindSequence,
	"array":    api.KindSequence,
	"mapping":  api.KindMapping,
	"object":   api.KindMapping,
}

// bindParameters seeds run variables from the declared flow parameters.
// Values come from the matching input field, else the parameter default
func bindParameters(f *api.Flow, input api.Value) (map[string]api.Value, error) {
	if !input.IsNull() && input.Kind() != api.KindMapping &&
		len(f.Parameters) > 0 {
		return nil, api.NewValidationError("", ErrInvalidInput)
	}

	fields := input.Fields()
	res := make(map[string]api.Value, len(f.Parameters))
	for _, p := range f.Parameters {
		v, ok := fields[p.Name]
		switch {
		case ok:
		case p.Default != nil:
			v = *p.Default
		case p.Required:
			return nil, api.NewValidationError("",
				fmt.Errorf("%w: %s", ErrMissingParameter, p.Name),
			)
		default:
			continue
		}
		if err := checkParameterKind(p, v); err != nil {
			return nil, api.NewValidationError("", err)
		}
		res[p.Name] = v
	}
	return res, nil
}

func checkParameterKind(p *api.Parameter, v api.Value) error {
	want, ok := parameterKinds[p.Type]
	if !ok || v.IsNull() || v.Kind() == want {
		return nil
	}
	return fmt.Errorf("%w: %s must be %s, got %s",
		ErrParameterType, p.Name, p.Type, v.Kind())
}

// nodeInput assembles the input for a node from its resolved upstream
// records. Roots receive the execution input
func nodeInput(
	g *graph.Graph, id api.NodeID, execInput api.Value,
	records func(api.NodeID) *api.NodeExecution,
) api.Value {
	incoming := g.Incoming(id)
	if len(incoming) == 0 {
		return execInput
	}

	fields := make(map[string]api.Value, len(incoming))
	for _, e := range incoming {
		src := records(e.Source)
		var v api.Value
		if e.IsError() {
			v = errorValue(src.Error)
		} else {
			v = src.Output
			if e.SourcePort != "" {
				v, _ = v.Path(e.SourcePort)
			}
		}
		key := e.TargetPort
		if key == "" {
			key = string(e.Source)
		}
		fields[key] = v
	}
	return api.Mapping(fields)
}

func errorValue(info *api.ErrorInfo) api.Value {
	if info == nil {
		return api.Null()
	}
	return api.Mapping(map[string]api.Value{
		"kind":      api.String(string(info.Kind)),
		"message":   api.String(info.Message),
		"node_id":   api.String(string(info.NodeID)),
		"retryable": api.Bool(info.Retryable),
		"details":   info.Details,
	})
}
