package logging

import (
	"context"
	"log/slog"

	"mediaminer/internal/services"
)

// Standardized structured logging keys.
const (
	FieldComponent     = "component"
	FieldProvider      = "provider"
	FieldModel         = "model"
	FieldCredential    = "credential"
	FieldAttempt       = "attempt"
	FieldErrorKind     = "error_kind"
	FieldDelay         = "delay"
	FieldWorkers       = "workers"
	FieldCorrelationID = "correlation_id"
	FieldBatchID       = "batch_id"
	FieldItem          = "item"
	FieldEventType     = "event_type"
	FieldErrorHint     = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	FieldError  = "error"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	if id, ok := services.BatchIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldBatchID, id))
	}
	if item, ok := services.ItemFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldItem, item))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
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
