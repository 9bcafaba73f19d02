package node

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/GhostKellz/ghostflow/pkg/api"
)

type (
	// Registry maps node type names to the factories that implement them
	Registry struct {
		entries map[string]*registryEntry
		mu      sync.RWMutex
	}

	registryEntry struct {
		factory Factory
		def     *api.NodeDefinition
		schema  *gojsonschema.Schema
	}
)

var (
	ErrTypeEmpty          = errors.New("node type empty")
	ErrTypeRegistered     = errors.New("node type already registered")
	ErrFactoryNil         = errors.New("node factory is nil")
	ErrInvalidSchema      = errors.New("invalid parameter schema")
	ErrInvalidParameters  = errors.New("parameters do not match schema")
	ErrDefinitionRequired = errors.New("node definition required")
)

// NewRegistry creates an empty node registry
func NewRegistry() *Registry {
	return &Registry{
		entries: map[string]*registryEntry{},
	}
}

// Register adds a node type. The parameter schema declared by the factory's
// definition is compiled once here
func (r *Registry) Register(typ string, f Factory) error {
	if typ == "" {
		return ErrTypeEmpty
	}
	if f == nil {
		return ErrFactoryNil
	}

	def := f().Definition()
	if def == nil {
		return fmt.Errorf("%w: %s", ErrDefinitionRequired, typ)
	}
	cpy := *def
	cpy.Type = typ

	var schema *gojsonschema.Schema
	if !cpy.ParameterSchema.IsNull() {
		data, err := cpy.ParameterSchema.MarshalJSON()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSchema, err)
		}
		schema, err = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidSchema, typ, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[typ]; ok {
		return fmt.Errorf("%w: %s", ErrTypeRegistered, typ)
	}
	r.entries[typ] = &registryEntry{
		factory: f,
		def:     &cpy,
		schema:  schema,
	}
	return nil
}

// MustRegister adds a node type, panicking if registration fails
func (r *Registry) MustRegister(typ string, f Factory) {
	if err := r.Register(typ, f); err != nil {
		panic(err)
	}
}

// Resolve returns a new Capability instance for the node type
func (r *Registry) Resolve(typ string) (Capability, error) {
	r.mu.RLock()
	e, ok := r.entries[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, &api.UnknownNodeTypeError{Type: typ}
	}
	return e.factory(), nil
}

// Has returns whether the node type is registered
func (r *Registry) Has(typ string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[typ]
	return ok
}

// Definitions returns the definitions of all registered node types, sorted
// by type name
func (r *Registry) Definitions() []*api.NodeDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]*api.NodeDefinition, 0, len(r.entries))
	for _, e := range r.entries {
		res = append(res, e.def)
	}
	slices.SortFunc(res, func(a, b *api.NodeDefinition) int {
		return strings.Compare(a.Type, b.Type)
	})
	return res
}

// ValidateParameters checks node parameters against the schema declared by
// the node type. Types without a schema accept any parameters
func (r *Registry) ValidateParameters(
	typ string, params map[string]api.Value,
) error {
	r.mu.RLock()
	e, ok := r.entries[typ]
	r.mu.RUnlock()
	if !ok {
		return &api.UnknownNodeTypeError{Type: typ}
	}
	if e.schema == nil {
		return nil
	}

	doc, err := api.Mapping(params).MarshalJSON()
	if err != nil {
		return err
	}
	result, err := e.schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		msgs = append(msgs, re.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidParameters, strings.Join(msgs, "; "))
}
