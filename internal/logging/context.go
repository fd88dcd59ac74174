package logging

import (
	"context"
	"log/slog"

	"stockwatch/internal/faults"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldRunID is the standardized structured logging key for run audit identifiers.
	FieldRunID = "run_id"
	// FieldStage is the standardized structured logging key for cycle stage names.
	FieldStage = "stage"
	// FieldCorrelationID is the standardized structured logging key for cycle correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldChannel is the standardized structured logging key for notification channel names.
	FieldChannel = "channel"
	// FieldItemCode is the standardized structured logging key for catalogue item codes.
	FieldItemCode = "item_code"
	// FieldChangeType is the standardized structured logging key for change classifications.
	FieldChangeType = "change_type"
	// FieldEventType tags a log line with a machine-readable event name.
	FieldEventType = "event_type"
	// FieldErrorHint carries the operator next step for warnings and errors.
	FieldErrorHint = "error_hint"
	// FieldErrorKind carries the faults.Kind of a failure.
	FieldErrorKind = "error_kind"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := faults.RunIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldRunID, id))
	}
	if stage, ok := faults.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if cid, ok := faults.CorrelationIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, cid))
	}
	if channel, ok := faults.ChannelFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldChannel, channel))
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
	return logger.With(attrsToArgs(fields)...)
}
