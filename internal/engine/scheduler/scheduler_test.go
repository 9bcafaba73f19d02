package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GhostKellz/ghostflow/internal/engine/scheduler"
)

type (
	manualClock struct {
		now time.Time
		mu  sync.Mutex
	}

	fakeTimer struct {
		ch     chan time.Time
		resets chan time.Duration
		stops  chan struct{}
	}
)

const waitTimeout = time.Second

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{
		ch:     make(chan time.Time, 1),
		resets: make(chan time.Duration, 64),
		stops:  make(chan struct{}, 64),
	}
}

func (f *fakeTimer) C() <-chan time.Time {
	return f.ch
}

func (f *fakeTimer) Reset(d time.Duration) bool {
	f.resets <- d
	return true
}

func (f *fakeTimer) Stop() bool {
	f.stops <- struct{}{}
	return true
}

func (f *fakeTimer) Fire(at time.Time) {
	f.ch <- at
}

func (f *fakeTimer) WaitReset(t *testing.T) time.Duration {
	t.Helper()
	select {
	case d := <-f.resets:
		return d
	case <-time.After(waitTimeout):
		t.Fatal("timer was not reset")
		return 0
	}
}

func (f *fakeTimer) WaitStop(t *testing.T) {
	t.Helper()
	select {
	case <-f.stops:
	case <-time.After(waitTimeout):
		t.Fatal("timer was not stopped")
	}
}

func withScheduler(
	t *testing.T,
	fn func(ctx context.Context, s *scheduler.Scheduler, clock *manualClock,
		timer *fakeTimer),
) {
	t.Helper()
	clock := &manualClock{now: epoch}
	timer := newFakeTimer()
	s := scheduler.New(clock.Now, func(time.Duration) scheduler.Timer {
		return timer
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// initial arm with an empty queue
	timer.WaitStop(t)
	fn(ctx, s, clock, timer)
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitTimeout):
		t.Fatal("task did not run")
	}
}

func TestSchedulerRunsDueTask(t *testing.T) {
	withScheduler(t, func(
		ctx context.Context, s *scheduler.Scheduler, clock *manualClock,
		timer *fakeTimer,
	) {
		done := make(chan struct{}, 1)
		s.After(ctx, scheduler.Key{"run"}, 40*time.Millisecond,
			func(context.Context) error {
				done <- struct{}{}
				return nil
			},
		)
		assert.Equal(t, 40*time.Millisecond, timer.WaitReset(t))

		timer.Fire(clock.Advance(40 * time.Millisecond))
		waitFor(t, done)
	})
}

func TestSchedulerEarlyWakeDoesNotRun(t *testing.T) {
	withScheduler(t, func(
		ctx context.Context, s *scheduler.Scheduler, clock *manualClock,
		timer *fakeTimer,
	) {
		var ran atomic.Bool
		s.After(ctx, scheduler.Key{"late"}, time.Second,
			func(context.Context) error {
				ran.Store(true)
				return nil
			},
		)
		assert.Equal(t, time.Second, timer.WaitReset(t))

		timer.Fire(clock.Advance(400 * time.Millisecond))
		assert.Equal(t, 600*time.Millisecond, timer.WaitReset(t))
		assert.False(t, ran.Load())
	})
}

func TestSchedulerReplacesSameKey(t *testing.T) {
	withScheduler(t, func(
		ctx context.Context, s *scheduler.Scheduler, clock *manualClock,
		timer *fakeTimer,
	) {
		var first, second atomic.Int32
		done := make(chan struct{}, 1)
		key := scheduler.Key{"retry", "e1", "n1"}

		s.After(ctx, key, 300*time.Millisecond, func(context.Context) error {
			first.Add(1)
			return nil
		})
		assert.Equal(t, 300*time.Millisecond, timer.WaitReset(t))

		s.After(ctx, key, 40*time.Millisecond, func(context.Context) error {
			second.Add(1)
			done <- struct{}{}
			return nil
		})
		assert.Equal(t, 40*time.Millisecond, timer.WaitReset(t))

		timer.Fire(clock.Advance(time.Second))
		waitFor(t, done)
		assert.Zero(t, first.Load())
		assert.Equal(t, int32(1), second.Load())
	})
}

func TestSchedulerCancel(t *testing.T) {
	withScheduler(t, func(
		ctx context.Context, s *scheduler.Scheduler, clock *manualClock,
		timer *fakeTimer,
	) {
		var ran atomic.Bool
		key := scheduler.Key{"trigger", "f1", "t1"}
		s.After(ctx, key, 100*time.Millisecond, func(context.Context) error {
			ran.Store(true)
			return nil
		})
		timer.WaitReset(t)

		s.Cancel(ctx, key)
		timer.WaitStop(t)

		timer.Fire(clock.Advance(time.Second))
		time.Sleep(50 * time.Millisecond)
		assert.False(t, ran.Load())
	})
}

func TestSchedulerCancelPrefix(t *testing.T) {
	withScheduler(t, func(
		ctx context.Context, s *scheduler.Scheduler, clock *manualClock,
		timer *fakeTimer,
	) {
		var cancelled atomic.Int32
		done := make(chan struct{}, 1)
		for _, n := range []string{"a", "b"} {
			s.After(ctx, scheduler.Key{"retry", "e1", n}, 100*time.Millisecond,
				func(context.Context) error {
					cancelled.Add(1)
					return nil
				},
			)
			timer.WaitReset(t)
		}
		s.After(ctx, scheduler.Key{"retry", "e2", "a"}, 100*time.Millisecond,
			func(context.Context) error {
				done <- struct{}{}
				return nil
			},
		)
		timer.WaitReset(t)

		s.CancelPrefix(ctx, scheduler.Key{"retry", "e1"})
		timer.WaitReset(t)

		timer.Fire(clock.Advance(time.Second))
		waitFor(t, done)
		assert.Zero(t, cancelled.Load())
	})
}

func TestSchedulerSurvivesFailingTasks(t *testing.T) {
	withScheduler(t, func(
		ctx context.Context, s *scheduler.Scheduler, clock *manualClock,
		timer *fakeTimer,
	) {
		done := make(chan struct{}, 1)
		s.After(ctx, scheduler.Key{"panic"}, 10*time.Millisecond,
			func(context.Context) error { panic("boom") },
		)
		timer.WaitReset(t)
		s.After(ctx, scheduler.Key{"error"}, 10*time.Millisecond,
			func(context.Context) error { return errors.New("failed") },
		)
		timer.WaitReset(t)
		s.After(ctx, scheduler.Key{"ok"}, 20*time.Millisecond,
			func(context.Context) error {
				done <- struct{}{}
				return nil
			},
		)
		timer.WaitReset(t)

		timer.Fire(clock.Advance(time.Second))
		waitFor(t, done)
	})
}

func TestSystemScheduler(t *testing.T) {
	s := scheduler.NewSystem()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	done := make(chan struct{}, 1)
	s.After(ctx, scheduler.Key{"wall"}, 5*time.Millisecond,
		func(context.Context) error {
			done <- struct{}{}
			return nil
		},
	)
	waitFor(t, done)
}

func TestSystemTimer(t *testing.T) {
	timer := scheduler.NewTimer(time.Hour)
	require.True(t, timer.Stop())
	timer.Reset(time.Millisecond)
	select {
	case <-timer.C():
	case <-time.After(waitTimeout):
		t.Fatal("timer did not fire")
	}
}
