package wait

import (
	"testing"
	"time"

	"github.com/kode4food/caravan/topic"

	"github.com/GhostKellz/ghostflow/internal/events"
	"github.com/GhostKellz/ghostflow/pkg/api"
	"github.com/GhostKellz/ghostflow/pkg/util"
)

type Wait struct {
	t        *testing.T
	consumer topic.Consumer[*api.LifecycleEvent]
	timeout  time.Duration
}

const DefaultTimeout = time.Second * 5

func On(t *testing.T, consumer topic.Consumer[*api.LifecycleEvent]) *Wait {
	return &Wait{
		t:        t,
		consumer: consumer,
		timeout:  DefaultTimeout,
	}
}

func (w *Wait) WithTimeout(timeout time.Duration) *Wait {
	res := *w
	res.timeout = timeout
	return &res
}

// ForEvents waits for matching events from the consumer and returns them
// in arrival order
func (w *Wait) ForEvents(
	count int, filter api.EventFilter,
) []*api.LifecycleEvent {
	w.t.Helper()

	deadline := time.NewTimer(w.timeout)
	defer deadline.Stop()

	res := make([]*api.LifecycleEvent, 0, count)
	for len(res) < count {
		select {
		case ev, ok := <-w.consumer.Receive():
			if !ok {
				w.t.Fatalf(
					"event consumer closed before receiving %d events", count,
				)
			}
			if filter(ev) {
				res = append(res, ev)
			}
		case <-deadline.C:
			w.t.Fatalf("timeout waiting for %d events, got %d", count, len(res))
		}
	}
	return res
}

// ForEvent waits for a single matching event
func (w *Wait) ForEvent(filter api.EventFilter) *api.LifecycleEvent {
	w.t.Helper()
	return w.ForEvents(1, filter)[0]
}

// Type creates a filter for a single event type
func Type(eventType api.EventType) api.EventFilter {
	return Types(eventType)
}

// Types creates a filter for the given event types
func Types(eventTypes ...api.EventType) api.EventFilter {
	lookup := util.SetOf(eventTypes...)
	return func(ev *api.LifecycleEvent) bool {
		return lookup.Contains(ev.Type)
	}
}

// ExecutionIDs matches events for any of the provided executions
func ExecutionIDs(ids ...api.ExecutionID) api.EventFilter {
	lookup := util.SetOf(ids...)
	return func(ev *api.LifecycleEvent) bool {
		return lookup.Contains(ev.ExecutionID)
	}
}

// NodeIDs matches node events for any of the provided nodes
func NodeIDs(ids ...api.NodeID) api.EventFilter {
	lookup := util.SetOf(ids...)
	return func(ev *api.LifecycleEvent) bool {
		return lookup.Contains(ev.NodeID)
	}
}

// ExecutionStarted matches execution started events
func ExecutionStarted(ids ...api.ExecutionID) api.EventFilter {
	return events.And(Type(api.EventExecutionStarted), ExecutionIDs(ids...))
}

// ExecutionTerminal matches the terminal events of the given executions
func ExecutionTerminal(ids ...api.ExecutionID) api.EventFilter {
	return events.And(events.Terminal, ExecutionIDs(ids...))
}

// AnyExecutionTerminal matches the terminal event of any execution
func AnyExecutionTerminal(ev *api.LifecycleEvent) bool {
	return events.Terminal(ev)
}

// NodeStarted matches node started events for one execution
func NodeStarted(id api.ExecutionID, nodes ...api.NodeID) api.EventFilter {
	return nodeEvent(api.EventNodeStarted, id, nodes)
}

// NodeRetrying matches node retrying events for one execution
func NodeRetrying(id api.ExecutionID, nodes ...api.NodeID) api.EventFilter {
	return nodeEvent(api.EventNodeRetrying, id, nodes)
}

// NodeCompleted matches node completed events for one execution
func NodeCompleted(id api.ExecutionID, nodes ...api.NodeID) api.EventFilter {
	return nodeEvent(api.EventNodeCompleted, id, nodes)
}

// NodeFailed matches node failed events for one execution
func NodeFailed(id api.ExecutionID, nodes ...api.NodeID) api.EventFilter {
	return nodeEvent(api.EventNodeFailed, id, nodes)
}

func nodeEvent(
	typ api.EventType, id api.ExecutionID, nodes []api.NodeID,
) api.EventFilter {
	filters := []api.EventFilter{Type(typ), ExecutionIDs(id)}
	if len(nodes) > 0 {
		filters = append(filters, NodeIDs(nodes...))
	}
	return events.And(filters...)
}
