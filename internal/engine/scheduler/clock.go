package scheduler

import "time"

type (
	// Clock returns the current time
	Clock func() time.Time

	// Timer is a resettable wake-up source
	Timer interface {
		C() <-chan time.Time
		Reset(d time.Duration) bool
		Stop() bool
	}

	// TimerFactory creates a Timer firing after d
	TimerFactory func(d time.Duration) Timer

	wallTimer struct {
		t *time.Timer
	}
)

// NewTimer creates a Timer backed by the runtime timer
func NewTimer(d time.Duration) Timer {
	return &wallTimer{t: time.NewTimer(d)}
}

func (w *wallTimer) C() <-chan time.Time {
	return w.t.C
}

func (w *wallTimer) Reset(d time.Duration) bool {
	return w.t.Reset(d)
}

func (w *wallTimer) Stop() bool {
	return w.t.Stop()
}
