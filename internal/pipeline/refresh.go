package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orbitlabs/orbit/internal/metrics"
)

// RefreshScheduler owns the refresh-ahead background tasks. One pending task
// exists per cache key; rescheduling a key replaces its pending task. Tasks
// are visible through Len, cancellable per key, and drained on Close instead
// of floating unobserved.
type RefreshScheduler struct {
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]*refreshTask
	wg      sync.WaitGroup
	closed  bool
}

type refreshTask struct {
	cancel context.CancelFunc
}

// NewRefreshScheduler returns a running scheduler.
func NewRefreshScheduler(logger *zap.Logger) *RefreshScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RefreshScheduler{
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]*refreshTask),
	}
}

// Schedule arranges for fn to run after delay, replacing any pending task for
// the same key. fn receives a context that ends when the scheduler closes.
func (s *RefreshScheduler) Schedule(key string, delay time.Duration, fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if prev, ok := s.pending[key]; ok {
		prev.cancel()
	}
	taskCtx, cancelTask := context.WithCancel(s.ctx)
	task := &refreshTask{cancel: cancelTask}
	s.pending[key] = task
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.remove(key, task)

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-taskCtx.Done():
			return
		case <-timer.C:
		}

		s.logger.Info("background refresh firing",
			zap.String("key", key),
			zap.Duration("after", delay),
		)
		metrics.ObserveBackgroundRefresh()
		fn(taskCtx)
	}()
}

// CancelKey drops the pending task for key, reporting whether one existed.
func (s *RefreshScheduler) CancelKey(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.pending[key]
	if !ok {
		return false
	}
	task.cancel()
	delete(s.pending, key)
	return true
}

// Len reports the number of pending refresh tasks.
func (s *RefreshScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close cancels pending tasks and waits for running ones to finish, honoring
// ctx. Safe to call more than once.
func (s *RefreshScheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("refresh scheduler close wait: %w", ctx.Err())
	}
}

// remove clears the pending slot unless the key was rescheduled to a newer
// task in the meantime.
func (s *RefreshScheduler) remove(key string, task *refreshTask) {
	task.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.pending[key]; ok && current == task {
		delete(s.pending, key)
	}
}
