package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging.
const (
	FieldRequestID = "request_id"
	FieldComponent = "component"
	FieldOperation = "operation"
	FieldPath      = "path"
	FieldMethod    = "method"

	FieldDurationMS = "duration_ms"

	FieldError = "error"
	FieldCount = "count"
	FieldState = "state"

	FieldAddress = "address"
	FieldPort    = "port"

	// Fact pipeline
	FieldFactID       = "fact_id"
	FieldFactKey      = "fact_key"
	FieldEntityType   = "entity_type"
	FieldEntityID     = "entity_id"
	FieldField        = "field"
	FieldSource       = "source"
	FieldImportance   = "importance"
	FieldConfidence   = "confidence"
	FieldSequence     = "sequence"
	FieldSubscriberID = "subscriber_id"
	FieldDropped      = "dropped"
	FieldProducer     = "producer"
)

type contextKey string

const (
	requestIDKey contextKey = "logger_request_id"
	componentKey contextKey = "logger_component"
	producerKey  contextKey = "logger_producer"
)

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// WithProducer tags the context with the submitting producer's name
func WithProducer(ctx context.Context, producer string) context.Context {
	return context.WithValue(ctx, producerKey, producer)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}
	if producer, ok := ctx.Value(producerKey).(string); ok && producer != "" {
		fields = append(fields, FieldProducer, producer)
	}

	return fields
}

// FromContext returns base with the context's logging fields attached.
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
//	bus.New(bus.WithLogger(logger.ComponentLogger("bus")))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// FactFields returns the standard key-value pairs identifying a fact slot.
func FactFields(id, entityType, entityID, field string) []interface{} {
	return []interface{}{
		FieldFactID, id,
		FieldEntityType, entityType,
		FieldEntityID, entityID,
		FieldField, field,
	}
}
