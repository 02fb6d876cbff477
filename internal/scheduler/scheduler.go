// Package scheduler abstracts one-shot timer scheduling so game logic
// can be driven by real timers in production and by a manual clock in
// tests.
package scheduler

import (
	"sync"
	"time"
)

// Scheduler schedules a function to run once after a delay. A non-nil
// error means the callback will never fire and the caller must fall
// back to polling.
type Scheduler interface {
	ScheduleOnce(delay time.Duration, fn func()) error
}

// TimerScheduler runs callbacks on real timers via time.AfterFunc.
type TimerScheduler struct{}

// NewTimerScheduler creates the production scheduler.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{}
}

// ScheduleOnce fires fn on its own goroutine after delay. A
// non-positive delay fires immediately.
func (s *TimerScheduler) ScheduleOnce(delay time.Duration, fn func()) error {
	if delay < 0 {
		delay = 0
	}
	time.AfterFunc(delay, fn)
	return nil
}

// ManualScheduler collects scheduled callbacks and fires them only when
// told to, giving tests deterministic control over timer-driven paths.
type ManualScheduler struct {
	mu      sync.Mutex
	pending []pendingTask
	err     error
}

type pendingTask struct {
	delay time.Duration
	fn    func()
}

// NewManualScheduler creates a scheduler for tests.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// Fail makes every subsequent ScheduleOnce return err, simulating an
// unavailable scheduling backend.
func (s *ManualScheduler) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// ScheduleOnce records fn without running it.
func (s *ManualScheduler) ScheduleOnce(delay time.Duration, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.pending = append(s.pending, pendingTask{delay: delay, fn: fn})
	return nil
}

// Pending reports the number of callbacks waiting to fire.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Delays returns the delays of all pending callbacks in schedule order.
func (s *ManualScheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.pending))
	for i, task := range s.pending {
		out[i] = task.delay
	}
	return out
}

// FireAll runs every pending callback synchronously, in schedule order,
// and clears the queue. Callbacks scheduled while firing are queued for
// the next FireAll.
func (s *ManualScheduler) FireAll() {
	s.mu.Lock()
	tasks := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, task := range tasks {
		task.fn()
	}
}

// FireNext runs the earliest pending callback, if any.
func (s *ManualScheduler) FireNext() bool {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return false
	}
	task := s.pending[0]
	s.pending = s.pending[1:]
	s.mu.Unlock()
	task.fn()
	return true
}
