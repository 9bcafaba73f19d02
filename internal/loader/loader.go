// Package loader reads flow definitions from YAML and JSON documents
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/goccy/go-json"
	"github.com/goccy/go-yaml"

	"github.com/GhostKellz/ghostflow/pkg/api"
	"github.com/GhostKellz/ghostflow/pkg/log"
)

type (
	// Format identifies the encoding of a flow document
	Format string

	// Registrar accepts loaded flow definitions
	Registrar interface {
		RegisterFlow(*api.Flow) error
	}
)

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported flow document format")
	ErrDecodeFlow        = errors.New("failed to decode flow")
	ErrReadFlows         = errors.New("failed to read flows")
)

var formatsByExt = map[string]Format{
	".json": FormatJSON,
	".yaml": FormatYAML,
	".yml":  FormatYAML,
}

// FormatOf returns the document format implied by a file name
func FormatOf(path string) (Format, bool) {
	f, ok := formatsByExt[strings.ToLower(filepath.Ext(path))]
	return f, ok
}

// Parse decodes a single flow definition. Unknown fields are rejected so
// that misspelled keys do not silently change a flow
func Parse(data []byte, format Format) (*api.Flow, error) {
	switch format {
	case FormatJSON:
	case FormatYAML:
		js, err := yaml.YAMLToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecodeFlow, err)
		}
		data = js
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var res api.Flow
	if err := dec.Decode(&res); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFlow, err)
	}
	return &res, nil
}

// LoadFile reads and decodes the flow definition stored at path
func LoadFile(path string) (*api.Flow, error) {
	format, ok := FormatOf(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	res, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return res, nil
}

// LoadDir decodes every flow document directly inside dir, in file name
// order. Files with other extensions are ignored
func LoadDir(dir string) ([]*api.Flow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadFlows, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := FormatOf(e.Name()); ok {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	res := make([]*api.Flow, 0, len(names))
	for _, name := range names {
		f, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, nil
}

// RegisterDir loads every flow document in dir and registers it. Loading
// stops at the first flow that fails to decode or register
func RegisterDir(r Registrar, dir string) (int, error) {
	flows, err := LoadDir(dir)
	if err != nil {
		return 0, err
	}
	for i, f := range flows {
		if err := r.RegisterFlow(f); err != nil {
			return i, fmt.Errorf("flow %s: %w", f.ID, err)
		}
		slog.Debug("Flow loaded",
			log.FlowID(f.ID),
			slog.String("version", f.Version))
	}
	return len(flows), nil
}
