// Package progress defines the event structures emitted by pipeline runs and
// the machinery that delivers them to callers and sinks.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInfo describes a run failure inside an event, already classified.
type ErrInfo struct {
	Stage   string `json:"stage"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Event is an immutable snapshot of run progress, emitted on every stage
// transition. Consumed by zero or more listeners.
type Event struct {
	// RunID identifies the pipeline run this event belongs to.
	RunID uuid.UUID `json:"run_id"`
	// SubjectKey and Variant scope the event to one dashboard.
	SubjectKey string `json:"subject_key"`
	Variant    string `json:"variant"`
	// Stage is the lifecycle milestone (INITIALIZED ... COMPLETED/FAILED/CANCELLED).
	Stage string `json:"stage"`
	// Pct is the run's completion percentage; non-decreasing within a run.
	Pct float64 `json:"progress_pct"`
	// Message is a short human-readable description of the milestone.
	Message string `json:"message"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"timestamp"`
	// Metadata carries low-volume milestone context (counts, scores).
	Metadata map[string]any `json:"metadata,omitempty"`
	// Artifact is set only on COMPLETED events.
	Artifact json.RawMessage `json:"artifact,omitempty"`
	// Err is set only on FAILED events.
	Err *ErrInfo `json:"error,omitempty"`
	// Terminal marks the last event of a run's stream.
	Terminal bool `json:"terminal"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Stage == "" {
		return errors.New("stage is required")
	}
	if e.Pct < 0 || e.Pct > 100 {
		return fmt.Errorf("progress pct %v out of range", e.Pct)
	}
	return nil
}
