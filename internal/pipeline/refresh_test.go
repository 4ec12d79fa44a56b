package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRefreshSchedulerFiresAfterDelay(t *testing.T) {
	t.Parallel()

	s := NewRefreshScheduler(nil)
	defer s.Close(context.Background())

	var fired atomic.Int64
	s.Schedule("dashboard_a_standard", 5*time.Millisecond, func(context.Context) {
		fired.Add(1)
	})
	require.Equal(t, 1, s.Len())

	require.Eventually(t, func() bool {
		return fired.Load() == 1
	}, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return s.Len() == 0
	}, 2*time.Second, time.Millisecond, "fired task should leave the pending set")
}

func TestRefreshSchedulerReplacesPendingTaskForSameKey(t *testing.T) {
	t.Parallel()

	s := NewRefreshScheduler(nil)
	defer s.Close(context.Background())

	var first, second atomic.Int64
	s.Schedule("k", time.Hour, func(context.Context) { first.Add(1) })
	s.Schedule("k", 5*time.Millisecond, func(context.Context) { second.Add(1) })
	require.Equal(t, 1, s.Len())

	require.Eventually(t, func() bool {
		return second.Load() == 1
	}, 2*time.Second, time.Millisecond)
	require.EqualValues(t, 0, first.Load(), "replaced task must never fire")
}

func TestRefreshSchedulerCancelKey(t *testing.T) {
	t.Parallel()

	s := NewRefreshScheduler(nil)
	defer s.Close(context.Background())

	var fired atomic.Int64
	s.Schedule("k", 10*time.Millisecond, func(context.Context) { fired.Add(1) })
	require.True(t, s.CancelKey("k"))
	require.False(t, s.CancelKey("k"), "second cancel finds nothing")
	require.False(t, s.CancelKey("never-scheduled"))

	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 0, fired.Load())
	require.Equal(t, 0, s.Len())
}

func TestRefreshSchedulerCloseStopsPendingTasks(t *testing.T) {
	t.Parallel()

	s := NewRefreshScheduler(nil)

	var fired atomic.Int64
	s.Schedule("a", time.Hour, func(context.Context) { fired.Add(1) })
	s.Schedule("b", time.Hour, func(context.Context) { fired.Add(1) })
	require.Equal(t, 2, s.Len())

	require.NoError(t, s.Close(context.Background()))
	require.EqualValues(t, 0, fired.Load())
	require.Equal(t, 0, s.Len())

	// Scheduling after close is a noop.
	s.Schedule("c", time.Millisecond, func(context.Context) { fired.Add(1) })
	require.Equal(t, 0, s.Len())
}

func TestRefreshSchedulerTaskContextEndsOnClose(t *testing.T) {
	t.Parallel()

	s := NewRefreshScheduler(nil)

	started := make(chan struct{})
	ended := make(chan struct{})
	s.Schedule("k", 0, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(ended)
	})

	<-started
	require.NoError(t, s.Close(context.Background()))
	select {
	case <-ended:
	default:
		t.Fatal("running task did not observe scheduler shutdown")
	}
}
