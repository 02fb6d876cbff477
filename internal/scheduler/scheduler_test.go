package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerSchedulerFires(t *testing.T) {
	s := NewTimerScheduler()
	done := make(chan struct{})
	require.NoError(t, s.ScheduleOnce(5*time.Millisecond, func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduled callback did not fire")
	}
}

func TestTimerSchedulerNegativeDelayFiresImmediately(t *testing.T) {
	s := NewTimerScheduler()
	done := make(chan struct{})
	require.NoError(t, s.ScheduleOnce(-time.Second, func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduled callback did not fire")
	}
}

func TestManualSchedulerFiresInOrder(t *testing.T) {
	s := NewManualScheduler()
	var order []int
	require.NoError(t, s.ScheduleOnce(time.Minute, func() { order = append(order, 1) }))
	require.NoError(t, s.ScheduleOnce(time.Second, func() { order = append(order, 2) }))

	require.Equal(t, 2, s.Pending())
	assert.Equal(t, []time.Duration{time.Minute, time.Second}, s.Delays())

	s.FireAll()
	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, 0, s.Pending())
}

func TestManualSchedulerFireNext(t *testing.T) {
	s := NewManualScheduler()
	var fired atomic.Int64
	require.NoError(t, s.ScheduleOnce(0, func() { fired.Add(1) }))

	assert.True(t, s.FireNext())
	assert.False(t, s.FireNext())
	assert.Equal(t, int64(1), fired.Load())
}

func TestManualSchedulerReschedulingDuringFire(t *testing.T) {
	s := NewManualScheduler()
	var fired int
	require.NoError(t, s.ScheduleOnce(0, func() {
		fired++
		_ = s.ScheduleOnce(0, func() { fired++ })
	}))

	s.FireAll()
	assert.Equal(t, 1, fired, "callback scheduled mid-fire must wait for the next round")
	s.FireAll()
	assert.Equal(t, 2, fired)
}

func TestManualSchedulerFail(t *testing.T) {
	s := NewManualScheduler()
	sentinel := errors.New("backend down")
	s.Fail(sentinel)

	err := s.ScheduleOnce(time.Second, func() { t.Fatal("must not be queued") })
	assert.ErrorIs(t, err, sentinel)
	assert.Zero(t, s.Pending())
}
