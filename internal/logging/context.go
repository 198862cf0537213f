package logging

import (
	"context"
	"log/slog"

	"reelay/internal/outcome"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldRequestKey is the standardized structured logging key for request identifiers.
	FieldRequestKey = "request_key"
	// FieldStage is the standardized structured logging key for state machine stage names.
	FieldStage = "stage"
	// FieldStepID is the standardized structured logging key for journal step identifiers.
	FieldStepID = "step_id"
	// FieldAttempt is the standardized structured logging key for 1-based attempt counters.
	FieldAttempt = "attempt"
	// FieldCorrelationID is the standardized structured logging key for activation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType tags lifecycle events (step_start, step_complete, step_failure).
	FieldEventType = "event_type"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if key, ok := outcome.RequestKeyFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRequestKey, key))
	}
	if stage, ok := outcome.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if id, ok := outcome.CorrelationIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, id))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from
// the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
