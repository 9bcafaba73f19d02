// Package scheduler runs keyed tasks at a future time. A single goroutine
// owns the queue and all mutation goes through it
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/GhostKellz/ghostflow/pkg/log"
)

type (
	// Scheduler runs delayed tasks. Scheduling under an existing key
	// replaces the earlier task
	Scheduler struct {
		now      Clock
		newTimer TimerFactory
		requests chan request
	}

	// TaskFunc is invoked on the scheduler goroutine when a task is due. It
	// must not block
	TaskFunc func(context.Context) error

	requestKind uint8

	request struct {
		task *Task
		key  Key
		kind requestKind
	}
)

const (
	requestAdd requestKind = iota
	requestRemove
	requestRemovePrefix
)

const requestBuffer = 128

// New creates a Scheduler using the given clock and timer factory
func New(now Clock, newTimer TimerFactory) *Scheduler {
	return &Scheduler{
		now:      now,
		newTimer: newTimer,
		requests: make(chan request, requestBuffer),
	}
}

// NewSystem creates a Scheduler driven by the wall clock
func NewSystem() *Scheduler {
	return New(time.Now, NewTimer)
}

// At schedules fn to run at the given time under key
func (s *Scheduler) At(ctx context.Context, key Key, at time.Time, fn TaskFunc) {
	s.send(ctx, request{
		kind: requestAdd,
		task: &Task{Key: key, At: at, Func: fn},
	})
}

// After schedules fn to run once d has elapsed
func (s *Scheduler) After(
	ctx context.Context, key Key, d time.Duration, fn TaskFunc,
) {
	s.At(ctx, key, s.now().Add(d), fn)
}

// Cancel removes the task registered under key
func (s *Scheduler) Cancel(ctx context.Context, key Key) {
	s.send(ctx, request{kind: requestRemove, key: key})
}

// CancelPrefix removes every task whose key starts with prefix
func (s *Scheduler) CancelPrefix(ctx context.Context, prefix Key) {
	s.send(ctx, request{kind: requestRemovePrefix, key: prefix})
}

// Run services the queue until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	q := NewQueue()
	timer := s.newTimer(0)
	var wake <-chan time.Time

	rearm := func() {
		next := q.Peek()
		if next == nil {
			timer.Stop()
			wake = nil
			return
		}
		timer.Reset(max(next.At.Sub(s.now()), 0))
		wake = timer.C()
	}
	rearm()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case req := <-s.requests:
			switch req.kind {
			case requestAdd:
				q.Add(req.task)
			case requestRemove:
				q.Remove(req.key)
			case requestRemovePrefix:
				q.RemovePrefix(req.key)
			}
			rearm()
		case <-wake:
			now := s.now()
			for t := q.PopDue(now); t != nil; t = q.PopDue(now) {
				s.run(ctx, t)
			}
			rearm()
		}
	}
}

func (s *Scheduler) run(ctx context.Context, t *Task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Scheduled task panicked",
				slog.Any("key", []string(t.Key)),
				log.Error(fmt.Errorf("%v", r)))
		}
	}()
	if err := t.Func(ctx); err != nil {
		slog.Error("Scheduled task failed",
			slog.Any("key", []string(t.Key)),
			log.Error(err))
	}
}

func (s *Scheduler) send(ctx context.Context, req request) {
	select {
	case s.requests <- req:
	case <-ctx.Done():
	}
}
