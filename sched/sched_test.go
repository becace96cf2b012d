package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, workers int) (*Scheduler, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	s := New(Config{Workers: workers}, Deps{Clock: clk})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(time.Second) })
	return s, clk
}

func TestScheduler_SubmitRunsImmediately(t *testing.T) {
	s, _ := newTestScheduler(t, 2)

	var ran atomic.Bool
	h := s.Submit("dev1", func(context.Context) { ran.Store(true) })

	assert.True(t, h.Done(), "immediate work is never pending")
	assert.Eventually(t, ran.Load, time.Second, 5*time.Millisecond)
	assert.Eventually(t, h.Finished, time.Second, 5*time.Millisecond)
}

func TestScheduler_DelayedTask(t *testing.T) {
	s, clk := newTestScheduler(t, 2)

	var ran atomic.Bool
	h := s.Schedule("dev1", 5*time.Second, func(context.Context) { ran.Store(true) })

	assert.False(t, h.Done())
	assert.Equal(t, 1, s.Pending())
	assert.Equal(t, 5*time.Second, h.Delay())

	clk.Add(4 * time.Second)
	assert.False(t, ran.Load())
	assert.False(t, h.Done())

	clk.Add(time.Second)
	assert.Eventually(t, ran.Load, time.Second, 5*time.Millisecond)
	assert.True(t, h.Done())
	assert.Equal(t, 0, s.Pending())
}

func TestScheduler_CancelBeforeDue(t *testing.T) {
	s, clk := newTestScheduler(t, 2)

	var ran atomic.Bool
	h := s.Schedule("dev1", time.Second, func(context.Context) { ran.Store(true) })

	assert.True(t, h.Cancel())
	assert.True(t, h.Cancelled())
	assert.True(t, h.Done())

	clk.Add(2 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestScheduler_SameKeyIsSerialized(t *testing.T) {
	s, _ := newTestScheduler(t, 4)

	release := make(chan struct{})
	var order []int
	var mu sync.Mutex
	record := func(i int) {
		mu.Lock()
		order = append(order, i)
		mu.Unlock()
	}

	s.Submit("dev1", func(context.Context) {
		<-release
		record(1)
	})
	second := s.Submit("dev1", func(context.Context) { record(2) })

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Empty(t, order, "second task waits for the first")
	mu.Unlock()

	close(release)
	assert.Eventually(t, second.Finished, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []int{1, 2}, order)
	mu.Unlock()
}

func TestScheduler_DifferentKeysDoNotBlock(t *testing.T) {
	s, _ := newTestScheduler(t, 2)

	release := make(chan struct{})
	defer close(release)
	s.Submit("slow", func(context.Context) { <-release })

	var ran atomic.Bool
	s.Submit("fast", func(context.Context) { ran.Store(true) })
	assert.Eventually(t, ran.Load, time.Second, 5*time.Millisecond)
}

func TestScheduler_QueuedBeforeStart(t *testing.T) {
	clk := clock.NewMock()
	s := New(Config{Workers: 1}, Deps{Clock: clk})

	var ran atomic.Bool
	s.Submit("dev1", func(context.Context) { ran.Store(true) })
	time.Sleep(10 * time.Millisecond)
	assert.False(t, ran.Load())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(time.Second)
	assert.Eventually(t, ran.Load, time.Second, 5*time.Millisecond)
	assert.Error(t, s.Start(context.Background()))
}

func TestScheduler_PanicDoesNotKillLane(t *testing.T) {
	s, _ := newTestScheduler(t, 1)

	s.Submit("dev1", func(context.Context) { panic("boom") })
	var ran atomic.Bool
	s.Submit("dev1", func(context.Context) { ran.Store(true) })

	assert.Eventually(t, ran.Load, time.Second, 5*time.Millisecond)
}

func TestScheduler_StopCancelsTimers(t *testing.T) {
	clk := clock.NewMock()
	s := New(Config{Workers: 1}, Deps{Clock: clk})
	require.NoError(t, s.Start(context.Background()))

	h := s.Schedule("dev1", time.Minute, func(context.Context) {})
	require.NoError(t, s.Stop(time.Second))

	assert.True(t, h.Cancelled())
	late := s.Schedule("dev1", time.Second, func(context.Context) {})
	assert.True(t, late.Cancelled())
	assert.NoError(t, s.Stop(time.Second))
}

func TestHandle_NilIsDone(t *testing.T) {
	var h *Handle
	assert.True(t, h.Done())
	assert.False(t, h.Cancel())
	assert.Equal(t, "none", h.String())
}

func TestHandle_RunningOnlyWhileTaskRuns(t *testing.T) {
	m := NewManual()
	var h *Handle
	var during bool
	h = m.Submit("a", func(context.Context) { during = h.Running() })

	assert.False(t, h.Running())
	require.True(t, m.RunNext("a"))
	assert.True(t, during)
	assert.False(t, h.Running())
	assert.True(t, h.Finished())
	assert.False(t, (*Handle)(nil).Running())
}
