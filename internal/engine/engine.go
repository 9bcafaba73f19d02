package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"github.com/GhostKellz/ghostflow/internal/artifact"
	"github.com/GhostKellz/ghostflow/internal/config"
	"github.com/GhostKellz/ghostflow/internal/engine/scheduler"
	"github.com/GhostKellz/ghostflow/internal/events"
	"github.com/GhostKellz/ghostflow/internal/store"
	"github.com/GhostKellz/ghostflow/internal/util"
	"github.com/GhostKellz/ghostflow/pkg/api"
	"github.com/GhostKellz/ghostflow/pkg/log"
	"github.com/GhostKellz/ghostflow/pkg/node"
)

type (
	// Engine registers flows and runs their executions
	Engine struct {
		config    *config.Config
		store     store.Store
		artifacts *artifact.Store
		registry  *node.Registry
		hub       *events.Hub
		sched     *scheduler.Scheduler
		secrets   SecretResolver
		metrics   *Metrics
		sem       *semaphore.Weighted
		cache     *util.LRUCache[api.ExecutionID, *api.FlowExecution]
		now       scheduler.Clock
		ctx       context.Context
		cancel    context.CancelFunc
		flows     map[api.FlowID]*flowEntry
		runs      map[api.ExecutionID]*run
		flowsMu   sync.RWMutex
		runsMu    sync.Mutex
		closing   bool
		wg        sync.WaitGroup
		startOnce sync.Once
		stopOnce  sync.Once
	}

	// Dependencies are the collaborators an Engine is built from. Store,
	// Artifacts, and Registry are required
	Dependencies struct {
		Store      store.Store
		Artifacts  *artifact.Store
		Registry   *node.Registry
		Hub        *events.Hub
		Scheduler  *scheduler.Scheduler
		Secrets    SecretResolver
		Registerer prometheus.Registerer
		Clock      scheduler.Clock
	}
)

var (
	ErrStoreRequired        = errors.New("execution store is required")
	ErrArtifactsRequired    = errors.New("artifact store is required")
	ErrRegistryRequired     = errors.New("node registry is required")
	ErrShutdownTimeout      = errors.New("shutdown timeout exceeded")
	ErrEngineStopped        = errors.New("engine stopped")
	ErrFlowNotFound         = errors.New("flow not found")
	ErrFlowExists           = errors.New("flow version already registered")
	ErrTriggerNotFound      = errors.New("trigger not found")
	ErrTriggerDisabled      = errors.New("trigger disabled")
	ErrTriggerKind          = errors.New("trigger kind mismatch")
	ErrExecutionNotFound    = errors.New("execution not found")
	ErrExecutionTerminal    = errors.New("execution already terminal")
	ErrExecutionNotTerminal = errors.New("execution not terminal")
	ErrExecutionNotActive   = errors.New("execution not active")
	ErrMissingParameter     = errors.New("required parameter missing")
	ErrInvalidInput         = errors.New("execution input must be a mapping")
	ErrParameterType        = errors.New("parameter type mismatch")
)

// New creates an Engine. It does not run anything until Start is called
func New(cfg *config.Config, deps Dependencies) (*Engine, error) {
	if deps.Store == nil {
		return nil, ErrStoreRequired
	}
	if deps.Artifacts == nil {
		return nil, ErrArtifactsRequired
	}
	if deps.Registry == nil {
		return nil, ErrRegistryRequired
	}
	if deps.Hub == nil {
		deps.Hub = events.NewHub()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Scheduler == nil {
		deps.Scheduler = scheduler.New(deps.Clock, scheduler.NewTimer)
	}
	if deps.Secrets == nil {
		deps.Secrets = EnvSecrets{}
	}
	if deps.Registerer == nil {
		deps.Registerer = prometheus.NewRegistry()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		config:    cfg,
		store:     deps.Store,
		artifacts: deps.Artifacts,
		registry:  deps.Registry,
		hub:       deps.Hub,
		sched:     deps.Scheduler,
		secrets:   deps.Secrets,
		metrics:   NewMetrics(deps.Registerer),
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		cache: util.NewLRUCache[api.ExecutionID, *api.FlowExecution](
			cfg.ExecutionCacheSize,
		),
		now:    deps.Clock,
		ctx:    ctx,
		cancel: cancel,
		flows:  map[api.FlowID]*flowEntry{},
		runs:   map[api.ExecutionID]*run{},
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.sched.Run(ctx)
	}()
	return e, nil
}

// Start recovers executions interrupted by a previous process. Flows
// should be registered first so their executions can be recognized
func (e *Engine) Start(ctx context.Context) error {
	var err error
	e.startOnce.Do(func() {
		slog.Info("Engine starting",
			slog.String("executor_id", e.config.ExecutorID))
		err = e.recoverExecutions(ctx)
	})
	return err
}

// Stop cancels active executions and waits for them to finish, up to the
// configured shutdown timeout
func (e *Engine) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		e.runsMu.Lock()
		e.closing = true
		e.runsMu.Unlock()

		for _, r := range e.activeRuns() {
			r.requestCancel()
		}

		done := make(chan struct{})
		go func() {
			e.waitRuns()
			close(done)
		}()

		select {
		case <-done:
			slog.Info("Engine stopped")
		case <-time.After(e.config.ShutdownTimeout):
			err = ErrShutdownTimeout
		}
		e.cancel()
		e.wg.Wait()
		e.hub.Close()
	})
	return err
}

// Events returns the lifecycle event hub
func (e *Engine) Events() *events.Hub {
	return e.hub
}

// Metrics returns the engine's metric collectors
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// NodeTypes returns the definitions of every registered node type
func (e *Engine) NodeTypes() []*api.NodeDefinition {
	return e.registry.Definitions()
}

func (e *Engine) activeRuns() []*run {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	res := make([]*run, 0, len(e.runs))
	for _, r := range e.runs {
		res = append(res, r)
	}
	return res
}

// acquireSlot takes one of the engine's MaxConcurrency node slots if one
// is free
func (e *Engine) acquireSlot() bool {
	if !e.sem.TryAcquire(1) {
		return false
	}
	e.metrics.NodesInFlight.Inc()
	return true
}

// releaseSlot returns a node slot and wakes every active run so queued
// nodes can claim it
func (e *Engine) releaseSlot() {
	e.metrics.NodesInFlight.Dec()
	e.sem.Release(1)
	for _, r := range e.activeRuns() {
		r.wakeUp()
	}
}

func (e *Engine) waitRuns() {
	for _, r := range e.activeRuns() {
		<-r.done
	}
}

func (e *Engine) lookupRun(id api.ExecutionID) (*run, bool) {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	r, ok := e.runs[id]
	return r, ok
}

// addRun tracks a run. It reports false once Stop has begun, in which
// case the run is still tracked but should be cancelled immediately
func (e *Engine) addRun(r *run) bool {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	e.runs[r.exec.ID] = r
	return !e.closing
}

func (e *Engine) removeRun(id api.ExecutionID) {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	delete(e.runs, id)
}

// Stopped reports whether Stop has been called
func (e *Engine) Stopped() bool {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	return e.closing
}

func logError(msg string, err error, attrs ...any) {
	slog.Warn(msg, append(attrs, log.Error(err))...)
}
