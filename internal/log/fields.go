package log

import (
	"time"

	"caixa/internal/core"
)

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldOperation   = "operation"
	FieldError       = "error"
	FieldErrorType   = "error_type"
	FieldDuration    = "duration_ms"
	FieldMetric      = "metric"
	FieldGranularity = "granularity"
	FieldCacheKey    = "cache_key"
	FieldLedgerKind  = "ledger_kind"
	FieldOccurredAt  = "occurred_at"
	FieldPreviousAt  = "previous_occurred_at"
	FieldKeysDropped = "keys_dropped"
	FieldOrigin      = "origin"
	FieldMessageID   = "message_id"
	FieldRecordID    = "record_id"
)

// Components defines standard component names
const (
	ComponentApp          = "app"
	ComponentEngine       = "engine"
	ComponentInvalidation = "invalidation"
	ComponentCache        = "cache"
	ComponentStorage      = "storage"
	ComponentLedger       = "ledger"
	ComponentAMQP         = "amqp"
	ComponentWorker       = "worker"
	ComponentReport       = "report"
	ComponentBackend      = "backend"
)

// Operations defines standard operation names
const (
	OpRead       = "read"
	OpRecompute  = "recompute"
	OpStore      = "store"
	OpInvalidate = "invalidate"
	OpRecord     = "record"
	OpPublish    = "publish"
	OpConsume    = "consume"
	OpWarmUp     = "warm_up"
	OpShutdown   = "shutdown"
	OpStartup    = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeDatabase      = "database_error"
	ErrorTypeCacheStore    = "cache_store_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeInternal      = "internal_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithErrorType tags the failure category
func (f LogFields) WithErrorType(kind string) LogFields {
	f[FieldErrorType] = kind
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithMetric adds the metric, granularity and key being read
func (f LogFields) WithMetric(metric, granularity, key string) LogFields {
	f[FieldMetric] = metric
	f[FieldGranularity] = granularity
	if key != "" {
		f[FieldCacheKey] = key
	}
	return f
}

// WithWrite adds the fields of a ledger write event
func (f LogFields) WithWrite(ev core.WriteEvent) LogFields {
	f[FieldLedgerKind] = string(ev.Kind)
	f[FieldOccurredAt] = ev.OccurredAt.Format(time.RFC3339)
	if !ev.PreviousOccurredAt.IsZero() {
		f[FieldPreviousAt] = ev.PreviousOccurredAt.Format(time.RFC3339)
	}
	if ev.Origin != "" {
		f[FieldOrigin] = ev.Origin
	}
	return f
}

// WithRecordID adds the id of the ledger row written
func (f LogFields) WithRecordID(id int64) LogFields {
	f[FieldRecordID] = id
	return f
}

// WithDuration adds an elapsed time in milliseconds
func (f LogFields) WithDuration(d time.Duration) LogFields {
	f[FieldDuration] = d.Milliseconds()
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
