package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"gocloud.dev/blob/memblob"

	"github.com/GhostKellz/ghostflow/internal/artifact"
	"github.com/GhostKellz/ghostflow/internal/config"
	"github.com/GhostKellz/ghostflow/internal/engine"
	"github.com/GhostKellz/ghostflow/internal/events"
	"github.com/GhostKellz/ghostflow/internal/store"
	"github.com/GhostKellz/ghostflow/pkg/api"
	"github.com/GhostKellz/ghostflow/pkg/node"
)

// TestEngineEnv holds all the components needed for engine testing
type TestEngineEnv struct {
	Engine    *engine.Engine
	Store     store.Store
	Artifacts *artifact.Store
	Registry  *node.Registry
	Config    *config.Config
	Hub       *events.Hub
	Secrets   engine.StaticSecrets
	Metrics   *prometheus.Registry
	Cleanup   func()
}

// NewTestConfig creates a configuration with short timeouts and backoffs
// suited to tests
func NewTestConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.LogLevel = "debug"
	cfg.ExecutorID = "test-executor"
	cfg.Environment = "test"
	cfg.NodeTimeout = 5 * config.Second
	cfg.CancelGrace = 200
	cfg.PersistRetries = 2
	cfg.ExecutionCacheSize = 100
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.Retry = config.RetryConfig{
		InitBackoff: 1,
		MaxBackoff:  20,
		BackoffType: api.BackoffTypeExponential,
	}
	return cfg
}

// NewTestEngine creates a fully configured test engine environment with an
// in-memory store, a memory bucket, and the built-in node types
func NewTestEngine(t *testing.T) *TestEngineEnv {
	t.Helper()
	return NewTestEngineWith(t, NewTestConfig(), store.NewMemory())
}

// NewTestEngineWith creates a test engine environment over the provided
// configuration and store
func NewTestEngineWith(
	t *testing.T, cfg *config.Config, st store.Store,
) *TestEngineEnv {
	t.Helper()

	arts, err := artifact.New(memblob.OpenBucket(nil), "artifacts")
	assert.NoError(t, err)

	reg := node.NewRegistry()
	assert.NoError(t, node.RegisterBuiltins(reg))

	env := &TestEngineEnv{
		Store:     st,
		Artifacts: arts,
		Registry:  reg,
		Config:    cfg,
		Hub:       events.NewHub(),
		Secrets:   engine.StaticSecrets{},
	}
	env.Engine = env.NewEngineInstance()

	env.Cleanup = func() {
		_ = env.Engine.Stop()
		_ = arts.Close()
		_ = st.Close()
	}
	return env
}

// NewEngineInstance creates a new engine sharing the environment's store,
// artifacts, and registry. Used to simulate a process restart. Metrics of
// the new engine are recorded in Metrics
func (e *TestEngineEnv) NewEngineInstance() *engine.Engine {
	e.Metrics = prometheus.NewRegistry()
	eng, err := engine.New(e.Config, engine.Dependencies{
		Store:      e.Store,
		Artifacts:  e.Artifacts,
		Registry:   e.Registry,
		Hub:        e.Hub,
		Secrets:    e.Secrets,
		Registerer: e.Metrics,
	})
	if err != nil {
		panic(err)
	}
	return eng
}

// Register adds a test node type to the environment's registry
func (e *TestEngineEnv) Register(t *testing.T, typ string, n *TestNode) {
	t.Helper()
	assert.NoError(t, e.Registry.Register(typ, n.Factory()))
}

// Run registers flow if needed, starts an execution, and waits for it to
// reach a terminal state
func (e *TestEngineEnv) Run(
	t *testing.T, f *api.Flow, input api.Value,
) (*api.FlowExecution, error) {
	t.Helper()
	if _, err := e.Engine.GetFlowVersion(f.ID, f.Version); err != nil {
		assert.NoError(t, e.Engine.RegisterFlow(f))
	}
	id, err := e.Engine.StartExecution(context.Background(), f.ID,
		engine.StartRequest{Input: input},
	)
	if !assert.NoError(t, err) {
		return nil, err
	}
	return e.Wait(t, id)
}

// Wait waits for an execution to finish, failing the test on timeout
func (e *TestEngineEnv) Wait(
	t *testing.T, id api.ExecutionID,
) (*api.FlowExecution, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ex, err := e.Engine.Wait(ctx, id)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	return ex, err
}

// Nodes returns the node records of an execution keyed by node ID
func (e *TestEngineEnv) Nodes(
	t *testing.T, id api.ExecutionID,
) map[api.NodeID]*api.NodeExecution {
	t.Helper()
	nodes, err := e.Engine.ListNodeExecutions(context.Background(), id)
	assert.NoError(t, err)
	res := make(map[api.NodeID]*api.NodeExecution, len(nodes))
	for _, n := range nodes {
		res[n.NodeID] = n
	}
	return res
}

// WithTestEnv creates a test engine environment, executes the provided
// function with it, and ensures cleanup happens automatically
func WithTestEnv(t *testing.T, fn func(*TestEngineEnv)) {
	t.Helper()
	testEnv := NewTestEngine(t)
	defer testEnv.Cleanup()
	fn(testEnv)
}

// WithEngine creates a test engine, executes the provided function with it,
// and ensures cleanup happens automatically
func WithEngine(t *testing.T, fn func(*engine.Engine)) {
	t.Helper()
	WithTestEnv(t, func(env *TestEngineEnv) {
		fn(env.Engine)
	})
}

// WithStartedEngine creates a test engine, starts it, executes the provided
// function with the engine, and ensures cleanup happens automatically
func WithStartedEngine(t *testing.T, fn func(*TestEngineEnv)) {
	t.Helper()
	WithTestEnv(t, func(env *TestEngineEnv) {
		assert.NoError(t, env.Engine.Start(context.Background()))
		fn(env)
	})
}
