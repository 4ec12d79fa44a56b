package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/orbitlabs/orbit/internal/pipeline"
	"github.com/orbitlabs/orbit/internal/progress"
)

// PrometheusSink exports run-level progress metrics via Prometheus. It owns
// collectors for runs started/completed/in-flight and per-stage transitions.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsInFlight  prometheus.Gauge
	stageEvents   *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orbit_progress_runs_started_total",
			Help: "Total pipeline runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orbit_progress_runs_completed_total",
			Help: "Total pipeline runs completed, partitioned by result.",
		}, []string{"result"}),
		runsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orbit_progress_runs_in_flight",
			Help: "Runs currently between their first and terminal event.",
		}),
		stageEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orbit_progress_stage_events_total",
			Help: "Progress events observed, partitioned by stage.",
		}, []string{"stage"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsInFlight,
		s.stageEvents,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	s.stageEvents.WithLabelValues(evt.Stage).Inc()

	if evt.Stage == string(pipeline.StageInitialized) {
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsInFlight.Inc()
		}
		return
	}
	if !evt.Terminal {
		return
	}
	switch evt.Stage {
	case string(pipeline.StageCompleted):
		s.runsCompleted.WithLabelValues("success").Inc()
	case string(pipeline.StageCancelled):
		s.runsCompleted.WithLabelValues("cancelled").Inc()
	default:
		s.runsCompleted.WithLabelValues("error").Inc()
	}
	if s.tracker.complete(evt.RunID) {
		s.runsInFlight.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[uuid.UUID]struct{})}
}

func (t *runTracker) start(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
