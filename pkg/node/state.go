package node

import (
	"errors"
	"maps"
	"sync"

	"github.com/GhostKellz/ghostflow/pkg/api"
)

type (
	// RunState holds the variables, secrets, and artifacts shared by every
	// node of one execution. Reads return copies. Writes only arrive
	// through Merge, which is serialized
	RunState struct {
		variables map[string]api.Value
		secrets   map[string]string
		artifacts map[string]*api.Artifact
		mu        sync.RWMutex
	}

	// Outputs are the side effects a node stages while executing. They are
	// merged into the RunState only after the node completes successfully
	Outputs struct {
		Variables map[string]api.Value
		Artifacts []*PendingArtifact
	}

	// PendingArtifact is artifact content staged by a running node
	PendingArtifact struct {
		Name        string
		ContentType string
		Data        []byte
	}
)

var ErrArtifactExists = errors.New("artifact already exists")

// NewRunState creates the shared state for one execution. Secrets are
// resolved once by the caller and never change afterward
func NewRunState(
	vars map[string]api.Value, secrets map[string]string,
) *RunState {
	v := maps.Clone(vars)
	if v == nil {
		v = map[string]api.Value{}
	}
	s := maps.Clone(secrets)
	if s == nil {
		s = map[string]string{}
	}
	return &RunState{
		variables: v,
		secrets:   s,
		artifacts: map[string]*api.Artifact{},
	}
}

// Variable returns the named run variable
func (r *RunState) Variable(name string) (api.Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.variables[name]
	return v, ok
}

// Variables returns a snapshot of the run variables
func (r *RunState) Variables() map[string]api.Value {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.variables)
}

// Secret returns the named resolved secret
func (r *RunState) Secret(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.secrets[name]
	return s, ok
}

// Artifact returns the named artifact reference
func (r *RunState) Artifact(name string) (*api.Artifact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.artifacts[name]
	return a, ok
}

// Artifacts returns a snapshot of the run artifact references
func (r *RunState) Artifacts() map[string]*api.Artifact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.artifacts)
}

// Merge applies a completed node's variable writes and artifact references
// in one critical section. Artifacts are append-only: names already taken
// are left untouched and returned
func (r *RunState) Merge(
	vars map[string]api.Value, arts []*api.Artifact,
) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	maps.Copy(r.variables, vars)

	var skipped []string
	for _, a := range arts {
		if _, ok := r.artifacts[a.Name]; ok {
			skipped = append(skipped, a.Name)
			continue
		}
		r.artifacts[a.Name] = a
	}
	return skipped
}
