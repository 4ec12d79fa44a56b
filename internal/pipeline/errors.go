package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/orbitlabs/orbit/internal/policy/breaker"
)

// Kind classifies failures for retry and reporting decisions.
type Kind string

// Failure kinds.
const (
	// KindTransient covers timeouts, upstream rate limiting and 5xx-style
	// failures; retryable.
	KindTransient Kind = "transient"
	// KindPermanent covers malformed input, 4xx-style and schema failures;
	// never retried.
	KindPermanent Kind = "permanent"
	// KindBreakerOpen is the synthetic rejection from an open circuit.
	KindBreakerOpen Kind = "breaker_open"
	// KindCache marks persistence I/O failures; degraded, never fatal to a run.
	KindCache Kind = "cache"
)

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// Transient marks err retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: KindTransient, err: err}
}

// Permanent marks err non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: KindPermanent, err: err}
}

// Transientf wraps a formatted error as retryable.
func Transientf(format string, args ...any) error {
	return Transient(fmt.Errorf(format, args...))
}

// Permanentf wraps a formatted error as non-retryable.
func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}

// KindOf reports the failure kind of err. Context cancellation is permanent
// so retries stop immediately on shutdown, even when a collaborator wrapped
// the error. Beyond that an explicit Transient/Permanent mark wins, and
// unmarked errors default to transient, matching the source system's
// catch-and-retry posture. Deadline errors carry no special case: a timed-out
// attempt is the canonical transient failure, and the next attempt runs under
// its own fresh timeout.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, breaker.ErrOpen) {
		return KindBreakerOpen
	}
	if errors.Is(err, context.Canceled) {
		return KindPermanent
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindTransient
}

// Retryable is the retry classifier used when wiring stage calls. Treating
// breaker-open as non-retryable is a wiring decision, not breaker policy:
// retrying into an open circuit burns attempts and delay for a call that will
// be rejected without reaching the dependency.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}

// StageError is the typed failure surfaced by a FAILED run: which stage broke,
// what kind of failure it was, and the final underlying error unchanged.
type StageError struct {
	Stage Stage
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError tags err with its failing stage and classified kind.
func NewStageError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Kind: KindOf(err), Err: err}
}
