// Package sinks contains progress.Sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/orbitlabs/orbit/internal/progress"
)

// LogSink emits structured logs for progress streams. Useful during
// development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID.String()),
			zap.String("subject", evt.SubjectKey),
			zap.String("variant", evt.Variant),
			zap.String("stage", evt.Stage),
			zap.Float64("pct", evt.Pct),
			zap.String("message", evt.Message),
		}
		if evt.Err != nil {
			fields = append(fields,
				zap.String("error_kind", evt.Err.Kind),
				zap.String("error", evt.Err.Message),
			)
		}
		s.logger.Info("pipeline progress", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
