package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/GhostKellz/ghostflow/internal/engine/scheduler"
	"github.com/GhostKellz/ghostflow/pkg/api"
	"github.com/GhostKellz/ghostflow/pkg/log"
	"github.com/GhostKellz/ghostflow/pkg/node"
)

type (
	// run drives one execution. All fields except the channels are owned
	// by the loop goroutine
	run struct {
		engine  *Engine
		flow    *flowVersion
		exec    *api.FlowExecution
		nodes   map[api.NodeID]*nodeRun
		state   *node.RunState
		ctx     context.Context
		cancel  context.CancelFunc
		inbox   chan any
		wake    chan struct{}
		cancels chan struct{}
		done    chan struct{}
		result  *api.FlowExecution
		err     error
		failure *api.ErrorInfo
		once    sync.Once

		pending   []api.NodeID
		workers   int
		aborting  bool
		cancelled bool
	}

	nodeRun struct {
		def   *api.Node
		cap   node.Capability
		rec   *api.NodeExecution
		retry api.RetryConfig
		input api.Value
		phase nodePhase
	}

	nodePhase uint8

	// attempt is handed to a worker once the loop has recorded the node
	// as running. release returns the node's slot
	attempt struct {
		cap     node.Capability
		nc      *node.Context
		release func()
		timeout time.Duration
	}

	resultMsg struct {
		finished time.Time
		err      error
		staged   node.Outputs
		output   api.Value
		id       api.NodeID
	}

	retryMsg struct {
		id api.NodeID
	}
)

const (
	phaseIdle nodePhase = iota
	phaseQueued
	phaseRunning
	phaseBackoff
	phaseDone
)

const (
	retryKeyRoot = "retry"
	inboxBuffer  = 16
)

func newRun(
	e *Engine, fv *flowVersion, ex *api.FlowExecution,
	recs map[api.NodeID]*api.NodeExecution, state *node.RunState,
) *run {
	ctx, cancel := context.WithCancel(context.Background())
	nodes := make(map[api.NodeID]*nodeRun, len(recs))
	for _, n := range fv.flow.Nodes {
		nodes[n.ID] = &nodeRun{
			def:   n,
			cap:   fv.caps[n.ID],
			rec:   recs[n.ID],
			retry: e.effectiveRetry(n),
		}
	}
	return &run{
		engine:  e,
		flow:    fv,
		exec:    ex,
		nodes:   nodes,
		state:   state,
		ctx:     ctx,
		cancel:  cancel,
		inbox:   make(chan any, inboxBuffer),
		wake:    make(chan struct{}, 1),
		cancels: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// discard releases a run whose loop never started
func (r *run) discard(err error) {
	r.err = err
	r.result = r.exec.Clone()
	r.cancel()
	r.engine.removeRun(r.exec.ID)
	close(r.done)
}

// requestCancel asks the loop to cancel the execution. Safe to call any
// number of times from any goroutine
func (r *run) requestCancel() {
	r.once.Do(func() {
		close(r.cancels)
	})
}

// wakeUp tells the loop that an engine slot may have been freed
func (r *run) wakeUp() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *run) loop() {
	cancels := r.cancels
	select {
	case <-cancels:
		cancels = nil
		r.onCancel()
	default:
		r.dispatchReady()
	}
	for !r.settled() {
		select {
		case <-cancels:
			cancels = nil
			r.onCancel()
		case <-r.wake:
			r.pump()
		case msg := <-r.inbox:
			switch msg := msg.(type) {
			case *resultMsg:
				r.onResult(msg)
			case *retryMsg:
				r.onRetry(msg)
			}
		}
	}
	r.finish()
}

func (r *run) onCancel() {
	if r.aborting {
		return
	}
	r.logf("", api.LogWarn, "Execution cancellation requested")
	r.cancelled = true
	r.abort()
}

// settled reports whether no worker, queued node, or pending retry can
// still change a node's state
func (r *run) settled() bool {
	if r.workers > 0 {
		return false
	}
	for _, nr := range r.nodes {
		if nr.phase == phaseQueued || nr.phase == phaseBackoff {
			return false
		}
	}
	return true
}

// dispatchReady walks the graph in topological order, cancelling nodes
// that can no longer run and dispatching those whose incoming edges are
// all satisfied. Nodes becoming ready together start in definition order
func (r *run) dispatchReady() {
	if r.aborting {
		return
	}
	g := r.flow.graph
	var ready []api.NodeID
	for _, id := range g.TopologicalOrder() {
		nr := r.nodes[id]
		if nr.phase != phaseIdle {
			continue
		}
		switch r.readiness(id) {
		case edgeSatisfied:
			ready = append(ready, id)
		case edgeUnsatisfiable:
			r.skipNode(nr)
		}
	}
	if r.aborting {
		return
	}

	g.SortByDefinition(ready)
	for _, id := range ready {
		r.dispatch(r.nodes[id])
	}
}

type edgeState uint8

const (
	edgeSatisfied edgeState = iota
	edgeWaiting
	edgeUnsatisfiable
)

func (r *run) readiness(id api.NodeID) edgeState {
	res := edgeSatisfied
	for _, e := range r.flow.graph.Incoming(id) {
		src := r.nodes[e.Source]
		if src.phase != phaseDone {
			res = edgeWaiting
			continue
		}
		switch st := src.rec.Status; {
		case e.IsError() && st == api.StatusFailed:
		case !e.IsError() && st == api.StatusCompleted:
		default:
			return edgeUnsatisfiable
		}
	}
	return res
}

func (r *run) dispatch(nr *nodeRun) {
	id := nr.def.ID
	nr.input = nodeInput(r.flow.graph, id, r.exec.Input, r.record)
	r.queue(nr)
}

func (r *run) queue(nr *nodeRun) {
	nr.phase = phaseQueued
	r.pending = append(r.pending, nr.def.ID)
	r.pump()
}

func (r *run) record(id api.NodeID) *api.NodeExecution {
	return r.nodes[id].rec
}

// pump starts queued nodes in the order they were queued for as long as
// the engine has free slots. A node is recorded as running before its
// worker is started
func (r *run) pump() {
	e := r.engine
	for len(r.pending) > 0 && !r.aborting {
		nr := r.nodes[r.pending[0]]
		if nr.phase != phaseQueued {
			r.pending = r.pending[1:]
			continue
		}
		if !e.acquireSlot() {
			return
		}
		r.pending = r.pending[1:]
		a, ok := r.startNode(nr)
		if !ok {
			e.releaseSlot()
			continue
		}
		r.workers++
		go r.work(nr.def.ID, a)
	}
}

// startNode records the next attempt of a queued node as running
func (r *run) startNode(nr *nodeRun) (*attempt, bool) {
	now := r.engine.now()
	rec := nr.rec
	prev := rec.Clone()
	rec.Status = api.StatusRunning
	rec.Input = nr.input
	rec.Error = nil
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	rec.Attempts = append(rec.Attempts, &api.Attempt{
		Number:    len(rec.Attempts) + 1,
		StartedAt: now,
		Input:     nr.input,
	})
	if err := r.saveNode(rec); err != nil {
		nr.rec = prev
		r.persistenceFailed(err)
		return nil, false
	}

	nr.phase = phaseRunning
	r.engine.publishNode(r.exec, rec, api.EventNodeStarted)
	r.logf(rec.NodeID, api.LogInfo,
		fmt.Sprintf("Node started (attempt %d)", len(rec.Attempts)))

	return &attempt{
		cap:     nr.cap,
		nc:      r.nodeContext(nr),
		release: r.engine.releaseSlot,
		timeout: r.timeout(nr.def),
	}, true
}

// work runs one attempt of a node outside the loop goroutine. The node's
// slot is returned by invoke once the node itself has returned
func (r *run) work(id api.NodeID, a *attempt) {
	e := r.engine
	out, staged, err := e.invoke(r.ctx, a)
	r.inbox <- &resultMsg{
		id:       id,
		output:   out,
		staged:   staged,
		err:      err,
		finished: e.now(),
	}
}

func (r *run) nodeContext(nr *nodeRun) *node.Context {
	id := node.Identity{
		ExecutionID: r.exec.ID,
		FlowID:      r.exec.FlowID,
		NodeID:      nr.def.ID,
		NodeType:    nr.def.Type,
		TraceID:     r.exec.Metadata.TraceID,
		Attempt:     len(nr.rec.Attempts),
	}
	return node.NewContext(r.state, id, nr.input, nr.def.Parameters,
		func(level api.LogLevel, msg string, fields map[string]api.Value) {
			r.engine.appendLog(r.exec.ID, nr.def.ID, level, msg, fields)
		},
	)
}

func (r *run) timeout(n *api.Node) time.Duration {
	if d := n.Timeout(); d > 0 {
		return d
	}
	return r.engine.config.NodeTimeoutDuration()
}

func (r *run) onResult(msg *resultMsg) {
	r.workers--
	nr := r.nodes[msg.id]
	rec := nr.rec
	if a := rec.LastAttempt(); a != nil {
		a.CompletedAt = msg.finished
		a.Output = msg.output
		if msg.err != nil {
			a.Error = classify(rec.NodeID, msg.err)
		}
		r.engine.metrics.NodeDuration.WithLabelValues(rec.NodeType).
			Observe(msg.finished.Sub(a.StartedAt).Seconds())
	}

	switch {
	case msg.err == nil:
		if r.completeNode(nr, msg) {
			r.dispatchReady()
		}
	case r.aborting:
		info := classify(rec.NodeID, msg.err)
		info.Kind = api.KindCancelled
		info.Retryable = false
		r.cancelNode(nr, msg.output, info)
	default:
		r.failNode(nr, classify(rec.NodeID, msg.err))
	}
}

// completeNode stores staged artifacts, persists the node as completed,
// and merges its writes into the run state. It reports whether the node
// completed
func (r *run) completeNode(nr *nodeRun, msg *resultMsg) bool {
	rec := nr.rec
	arts, err := r.storeArtifacts(nr, msg.staged.Artifacts)
	var pe *api.PersistenceError
	switch {
	case errors.As(err, &pe):
		r.persistenceFailed(err)
		return false
	case err != nil && r.aborting:
		r.cancelNode(nr, msg.output, classify(rec.NodeID, err))
		return false
	case err != nil:
		r.failNode(nr, classify(rec.NodeID, err))
		return false
	}

	now := msg.finished
	prev := rec.Clone()
	rec.Status = api.StatusCompleted
	rec.Output = msg.output
	rec.Error = nil
	rec.CompletedAt = now
	rec.DurationMs = now.Sub(rec.StartedAt).Milliseconds()
	if err := r.saveNode(rec); err != nil {
		nr.rec = prev
		r.persistenceFailed(err)
		return false
	}
	nr.phase = phaseDone

	vars := maps.Clone(msg.staged.Variables)
	if vars == nil {
		vars = map[string]api.Value{}
	}
	vars[string(rec.NodeID)] = msg.output
	if skipped := r.state.Merge(vars, arts); len(skipped) > 0 {
		r.logf(rec.NodeID, api.LogWarn,
			fmt.Sprintf("Artifacts already recorded: %v", skipped))
	}

	r.engine.metrics.nodeFinished(rec)
	r.engine.publishNode(r.exec, rec, api.EventNodeCompleted)
	r.logf(rec.NodeID, api.LogInfo, "Node completed")
	return true
}

func (r *run) storeArtifacts(
	nr *nodeRun, pending []*node.PendingArtifact,
) ([]*api.Artifact, error) {
	if len(pending) == 0 {
		return nil, nil
	}
	e := r.engine
	sctx := context.Background()
	res := make([]*api.Artifact, 0, len(pending))
	for _, p := range pending {
		a, err := e.artifacts.Put(sctx, r.exec.ID, nr.def.ID,
			p.Name, p.ContentType, p.Data)
		if err != nil {
			return nil, artifactError(err)
		}
		if err := e.persist(sctx, opPutArtifact, func(ctx context.Context) error {
			return e.store.PutArtifact(ctx, a)
		}); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, nil
}

// failNode records a failed attempt, then either schedules a retry or
// marks the node terminally failed
func (r *run) failNode(nr *nodeRun, info *api.ErrorInfo) {
	rec := nr.rec
	prev := rec.Clone()
	rec.Status = api.StatusFailed
	rec.Error = info
	rec.CompletedAt = r.engine.now()
	rec.DurationMs = rec.CompletedAt.Sub(rec.StartedAt).Milliseconds()
	if !shouldRetry(nr.retry, nr.cap.SupportsRetry(), rec.RetryCount, info) {
		r.failTerminal(nr, prev)
		return
	}

	delay := backoffDelay(nr.retry, rec.RetryCount)
	if a := rec.LastAttempt(); a != nil {
		a.BackoffMs = delay.Milliseconds()
	}
	if err := r.saveNode(rec); err != nil {
		nr.rec = prev
		r.persistenceFailed(err)
		return
	}

	failed := rec.Clone()
	rec.Status = api.StatusRetrying
	rec.RetryCount++
	if err := r.saveNode(rec); err != nil {
		nr.rec = failed
		r.persistenceFailed(err)
		return
	}

	nr.phase = phaseBackoff
	r.engine.metrics.NodeRetries.WithLabelValues(rec.NodeType).Inc()
	r.engine.publishNode(r.exec, rec, api.EventNodeRetrying)
	r.logf(rec.NodeID, api.LogWarn, fmt.Sprintf(
		"Node failed, retry %d of %d in %s: %s",
		rec.RetryCount, nr.retry.MaxRetries, delay, info.Message,
	))
	r.scheduleRetry(rec.NodeID, delay)
}

func (r *run) failTerminal(nr *nodeRun, prev *api.NodeExecution) {
	rec := nr.rec
	if err := r.saveNode(rec); err != nil {
		nr.rec = prev
		r.persistenceFailed(err)
		return
	}
	nr.phase = phaseDone

	r.engine.metrics.nodeFinished(rec)
	r.engine.publishNode(r.exec, rec, api.EventNodeFailed)
	r.logf(rec.NodeID, api.LogError, "Node failed: "+rec.Error.Message)

	if r.flow.graph.HasErrorHandler(rec.NodeID) {
		r.dispatchReady()
		return
	}
	r.failure = rec.Error
	r.abort()
}

func (r *run) scheduleRetry(id api.NodeID, delay time.Duration) {
	key := r.retryKey(id)
	r.engine.sched.After(r.engine.ctx, key, delay, func(context.Context) error {
		go func() {
			select {
			case r.inbox <- &retryMsg{id: id}:
			case <-r.done:
			}
		}()
		return nil
	})
}

func (r *run) onRetry(msg *retryMsg) {
	nr := r.nodes[msg.id]
	if r.aborting || nr.phase != phaseBackoff {
		return
	}
	r.queue(nr)
}

func (r *run) retryKey(id api.NodeID) scheduler.Key {
	return scheduler.Key{retryKeyRoot, string(r.exec.ID), string(id)}
}

// skipNode cancels a node whose branch can no longer be taken
func (r *run) skipNode(nr *nodeRun) {
	info := &api.ErrorInfo{
		Kind:    api.KindCancelled,
		Message: "upstream dependency not satisfied",
		NodeID:  nr.def.ID,
	}
	r.cancelNode(nr, api.Null(), info)
}

// cancelNode marks a node cancelled. Failures to persist are recorded but
// do not stop the cancellation of other nodes
func (r *run) cancelNode(nr *nodeRun, output api.Value, info *api.ErrorInfo) {
	rec := nr.rec
	nr.phase = phaseDone
	if rec.Status.IsTerminal() {
		return
	}

	prev := rec.Clone()
	now := r.engine.now()
	rec.Status = api.StatusCancelled
	rec.Output = output
	rec.Error = info
	rec.CompletedAt = now
	if !rec.StartedAt.IsZero() {
		rec.DurationMs = now.Sub(rec.StartedAt).Milliseconds()
	}
	if err := r.saveNode(rec); err != nil {
		nr.rec = prev
		r.persistenceFailed(err)
		return
	}
	r.engine.metrics.nodeFinished(rec)
	r.engine.publishNode(r.exec, rec, api.EventNodeCancelled)
}

// abort stops the run. Idle, queued, and backing-off nodes are cancelled
// at once; running nodes are signalled and recorded when they return
func (r *run) abort() {
	if r.aborting {
		return
	}
	r.aborting = true
	r.pending = nil
	r.cancel()
	r.engine.sched.CancelPrefix(r.engine.ctx,
		scheduler.Key{retryKeyRoot, string(r.exec.ID)},
	)

	info := api.ErrorInfoOf(api.ErrCancelled)
	for _, id := range r.flow.graph.TopologicalOrder() {
		nr := r.nodes[id]
		switch nr.phase {
		case phaseIdle, phaseQueued, phaseBackoff:
			r.cancelNode(nr, api.Null(), info)
		}
	}
}

func (r *run) persistenceFailed(err error) {
	if r.err == nil {
		r.err = err
	}
	slog.Error("Execution persistence failed",
		log.ExecutionID(r.exec.ID), log.Error(err))
	if r.aborting {
		return
	}
	r.failure = api.ErrorInfoOf(err)
	r.abort()
}

func (r *run) saveNode(rec *api.NodeExecution) error {
	e := r.engine
	return e.persist(context.Background(), opUpdateNode,
		func(ctx context.Context) error {
			return e.store.UpdateNodeExecution(ctx, rec)
		},
	)
}

// finish derives the terminal status of the execution, persists it last,
// and releases any waiters
func (r *run) finish() {
	e := r.engine
	defer close(r.done)
	defer e.removeRun(r.exec.ID)
	defer r.cancel()

	for _, nr := range r.nodes {
		if nr.phase != phaseDone {
			r.cancelNode(nr, api.Null(), api.ErrorInfoOf(api.ErrCancelled))
		}
	}

	ex := r.exec
	now := e.now()
	switch {
	case r.failure != nil:
		ex.Status = api.StatusFailed
		ex.Error = r.failure
	case r.cancelled:
		ex.Status = api.StatusCancelled
		ex.Error = api.ErrorInfoOf(api.ErrCancelled)
	default:
		ex.Status = api.StatusCompleted
		ex.Output = r.output()
	}
	ex.CompletedAt = now
	ex.DurationMs = now.Sub(ex.StartedAt).Milliseconds()

	err := e.persist(context.Background(), opUpdateExecution,
		func(ctx context.Context) error {
			return e.store.UpdateFlowExecutionStatus(ctx, ex)
		},
	)
	if err != nil && r.err == nil {
		r.err = err
	}
	r.result = ex.Clone()
	if err == nil {
		e.cache.Put(ex.ID, r.result)
	}

	e.metrics.executionFinished(ex, now.Sub(ex.StartedAt))
	e.publishExecution(ex, terminalEvents[ex.Status])
	slog.Info("Execution finished",
		log.ExecutionID(ex.ID),
		log.FlowID(ex.FlowID),
		log.Status(ex.Status),
		slog.Int64("duration_ms", ex.DurationMs))
}

var terminalEvents = map[api.Status]api.EventType{
	api.StatusCompleted: api.EventExecutionCompleted,
	api.StatusFailed:    api.EventExecutionFailed,
	api.StatusCancelled: api.EventExecutionCancelled,
}

// output maps every completed sink node to its output
func (r *run) output() api.Value {
	res := map[string]api.Value{}
	for _, id := range r.flow.graph.Sinks() {
		if rec := r.nodes[id].rec; rec.Status == api.StatusCompleted {
			res[string(id)] = rec.Output
		}
	}
	return api.Mapping(res)
}

func (r *run) logf(nodeID api.NodeID, level api.LogLevel, msg string) {
	r.engine.appendLog(r.exec.ID, nodeID, level, msg, nil)
}
