package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *captureSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestHubDeliversEventsToSinks(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond}, sink)
	defer func() { _ = hub.Close(context.Background()) }()

	for i := 0; i < 5; i++ {
		hub.Emit(testEvent("FETCHING", 20, false))
	}

	require.Eventually(t, func() bool {
		return sink.count() == 5
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond}, sink)
	defer func() { _ = hub.Close(context.Background()) }()

	hub.Emit(Event{}) // missing run ID, stage, timestamp
	hub.Emit(testEvent("VALIDATING", 75, false))

	require.Eventually(t, func() bool {
		return sink.count() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubCloseFlushesBufferedEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	// A long batch wait forces the flush to happen in Close, not the ticker.
	hub := NewHub(Config{MaxBatchWait: time.Minute}, sink)

	for i := 0; i < 3; i++ {
		hub.Emit(testEvent("RENDERING", 85, false))
	}
	require.NoError(t, hub.Close(context.Background()))

	require.Equal(t, 3, sink.count())
	require.True(t, sink.closed)
}

func TestHubEmitAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{}, sink)
	require.NoError(t, hub.Close(context.Background()))

	hub.Emit(testEvent("FETCHING", 20, false))
	require.Zero(t, sink.count())
}

func TestHubNeverBlocksEmitters(t *testing.T) {
	t.Parallel()

	slow := &blockingSink{release: make(chan struct{})}
	hub := NewHub(Config{BufferSize: 1, MaxBatchEvents: 1, MaxBatchWait: time.Millisecond}, slow)
	defer func() {
		close(slow.release)
		_ = hub.Close(context.Background())
	}()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Emit(testEvent("FETCHING", 20, false))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked under backpressure")
	}
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Consume(ctx context.Context, _ []Event) error {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil
}

func (s *blockingSink) Close(context.Context) error { return nil }
