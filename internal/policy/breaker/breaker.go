// Package breaker implements a circuit breaker guarding one logical remote
// operation. Callers needing to guard several operations hold one Breaker per
// operation key.
package breaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orbitlabs/orbit/internal/metrics"
)

// ErrOpen is returned when the circuit rejects a call without attempting it.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker position.
type State string

// Breaker states.
const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Config controls state transitions.
type Config struct {
	// Operation labels logs and metrics for this breaker.
	Operation string
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit from CLOSED.
	FailureThreshold int
	// RecoveryTimeout is how long an open circuit rejects calls before
	// permitting a single trial.
	RecoveryTimeout time.Duration
}

const (
	defaultFailureThreshold = 5
	defaultRecoveryTimeout  = 60 * time.Second
)

// Breaker tracks consecutive failures for one operation and fails fast while
// the dependency is presumed down. Safe for concurrent use.
type Breaker struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

// New constructs a closed Breaker.
func New(cfg Config, logger *zap.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = defaultRecoveryTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		state:  StateClosed,
	}
}

// State returns the current position, applying the OPEN to HALF_OPEN timeout
// check so callers observe the same state a call would see.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Do runs op under the breaker. The op's own error propagates unchanged; the
// breaker only decides whether the call is attempted at all.
func (b *Breaker) Do(op func() error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}
	err := op()
	b.afterCall(err)
	return err
}

// Call is the generic form of Do for operations with a result.
func Call[T any](b *Breaker, op func() (T, error)) (T, error) {
	var out T
	err := b.Do(func() error {
		var opErr error
		out, opErr = op()
		return opErr
	})
	return out, err
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return nil
	}
	if b.now().Sub(b.openedAt) < b.cfg.RecoveryTimeout {
		return ErrOpen
	}
	b.transition(StateHalfOpen)
	return nil
}

func (b *Breaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		if b.state == StateHalfOpen {
			b.logger.Info("circuit breaker recovered", zap.String("operation", b.cfg.Operation))
		}
		b.failures = 0
		b.transition(StateClosed)
		return
	}

	switch b.state {
	case StateHalfOpen:
		// Trial failed; back to open with a fresh cooldown.
		b.openedAt = b.now()
		b.transition(StateOpen)
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.openedAt = b.now()
			b.transition(StateOpen)
			b.logger.Warn("circuit breaker opened",
				zap.String("operation", b.cfg.Operation),
				zap.Int("consecutive_failures", b.failures),
			)
		}
	}
}

// transition assumes b.mu is held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	b.state = to
	metrics.SetBreakerState(b.cfg.Operation, string(to))
	metrics.ObserveBreakerTransition(b.cfg.Operation, string(to))
}
