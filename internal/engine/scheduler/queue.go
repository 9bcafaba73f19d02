package scheduler

import (
	"container/heap"
	"time"

	"github.com/GhostKellz/ghostflow/pkg/util"
)

type (
	// Task is a keyed function due at a point in time
	Task struct {
		Func  TaskFunc
		At    time.Time
		Key   Key
		seq   uint64
		index int
	}

	// Key addresses a task. Keys form a hierarchy so that a prefix can
	// cancel a group of related tasks
	Key []string

	// Queue orders tasks by due time, breaking ties by insertion order.
	// Adding a task under an existing key replaces it
	Queue struct {
		entries taskHeap
		byKey   *util.PathTree[*Task]
		seq     uint64
	}

	taskHeap []*Task
)

// NewQueue creates an empty Queue
func NewQueue() *Queue {
	return &Queue{
		byKey: util.NewPathTree[*Task](),
	}
}

// Add inserts t, replacing any task already registered under its key.
// Tasks without a function, due time, or key are ignored
func (q *Queue) Add(t *Task) {
	if t == nil || t.Func == nil || t.At.IsZero() || len(t.Key) == 0 {
		return
	}
	q.seq++
	if old, ok := q.byKey.Get(t.Key); ok {
		old.Func = t.Func
		old.At = t.At
		old.seq = q.seq
		heap.Fix(&q.entries, old.index)
		return
	}
	t.seq = q.seq
	heap.Push(&q.entries, t)
	q.byKey.Insert(t.Key, t)
}

// Peek returns the next due task without removing it
func (q *Queue) Peek() *Task {
	if len(q.entries) == 0 {
		return nil
	}
	return q.entries[0]
}

// PopDue removes and returns the next task if it is due at now
func (q *Queue) PopDue(now time.Time) *Task {
	next := q.Peek()
	if next == nil || next.At.After(now) {
		return nil
	}
	t := heap.Pop(&q.entries).(*Task)
	q.byKey.Remove(t.Key)
	return t
}

// Remove deletes the task registered under key
func (q *Queue) Remove(key Key) {
	if len(key) == 0 {
		return
	}
	if t, ok := q.byKey.Get(key); ok {
		heap.Remove(&q.entries, t.index)
		q.byKey.Remove(key)
	}
}

// RemovePrefix deletes every task whose key starts with prefix
func (q *Queue) RemovePrefix(prefix Key) {
	if len(prefix) == 0 {
		return
	}
	q.byKey.DetachWith(prefix, func(t *Task) {
		heap.Remove(&q.entries, t.index)
	})
}

// Len returns the number of pending tasks
func (q *Queue) Len() int {
	return len(q.entries)
}

func (h taskHeap) Len() int {
	return len(h)
}

func (h taskHeap) Less(i, j int) bool {
	if h[i].At.Equal(h[j].At) {
		return h[i].seq < h[j].seq
	}
	return h[i].At.Before(h[j].At)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	t.index = -1
	return t
}
