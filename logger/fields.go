package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings.
const (
	// Identity
	FieldJobID        = "job_id"
	FieldDefinitionID = "definition_id"
	FieldWorkerID     = "worker_id"
	FieldTenantID     = "tenant_id"
	FieldRequestID    = "request_id"

	// Components
	FieldComponent = "component"
	FieldProcessor = "processor"
	FieldStage     = "stage"

	// Ingestion
	FieldIntegrationType = "integration_type"
	FieldDataType        = "data_type"
	FieldPage            = "page"
	FieldPages           = "pages"
	FieldFailures        = "failures"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors and state
	FieldError  = "error"
	FieldStatus = "status"
	FieldCount  = "count"
)

// Context keys for propagating logging context
type contextKey string

const (
	jobIDKey     contextKey = "logger_job_id"
	workerIDKey  contextKey = "logger_worker_id"
	requestIDKey contextKey = "logger_request_id"
)

// WithJobID adds a job instance ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithWorkerID adds a worker ID to the context for logging
func WithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, workerIDKey, workerID)
}

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if workerID, ok := ctx.Value(workerIDKey).(string); ok && workerID != "" {
		fields = append(fields, FieldWorkerID, workerID)
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}

	return fields
}

// FromContext returns base enriched with the fields carried by ctx.
// A nil base falls back to the global Logger.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
//
//	pool := &Pool{logger: logger.ComponentLogger("worker")}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
