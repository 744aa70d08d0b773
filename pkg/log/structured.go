package log

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/safemasking/masking-api/pkg/requestid"
	"go.uber.org/zap"
)

// StructuredLogger logs one component's operations as a sequence of steps
// ending in success or error, all sharing the same fields.
type StructuredLogger struct {
	name   string
	fields []zap.Field
}

// NewDebugLogger returns a logger named after the component. Steps are logged
// at debug level, outcomes at info or error.
func NewDebugLogger(name string) *StructuredLogger {
	return &StructuredLogger{name: name}
}

func (l *StructuredLogger) base() *zap.Logger {
	// resolved on every call so loggers built before InitLog pick up the global one
	return zap.L().Named(l.name).WithOptions(zap.AddCallerSkip(2))
}

// WithContext attaches the request id carried by ctx, if any.
func (l *StructuredLogger) WithContext(ctx context.Context) *StructuredLogger {
	fields := append([]zap.Field{}, l.fields...)
	if id := requestid.FromContext(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	return &StructuredLogger{name: l.name, fields: fields}
}

func (l *StructuredLogger) Operation(name string) *OperationBuilder {
	return &OperationBuilder{
		logger: l,
		fields: append(append([]zap.Field{}, l.fields...), zap.String("operation", name)),
	}
}

type OperationBuilder struct {
	logger *StructuredLogger
	fields []zap.Field
}

func (b *OperationBuilder) WithParam(key string, value any) *OperationBuilder {
	b.fields = append(b.fields, zap.Any(key, value))
	return b
}

func (b *OperationBuilder) WithString(key, value string) *OperationBuilder {
	b.fields = append(b.fields, zap.String(key, value))
	return b
}

func (b *OperationBuilder) WithUUID(key string, value uuid.UUID) *OperationBuilder {
	b.fields = append(b.fields, zap.String(key, value.String()))
	return b
}

func (b *OperationBuilder) Build() *OperationTracer {
	return &OperationTracer{logger: b.logger, fields: b.fields, start: time.Now()}
}

// OperationTracer emits the events of a single operation.
type OperationTracer struct {
	logger *StructuredLogger
	fields []zap.Field
	start  time.Time
}

func (t *OperationTracer) Step(name string) *Event {
	return t.event(eventStep, zap.String("step", name))
}

func (t *OperationTracer) Success() *Event {
	return t.event(eventSuccess, zap.Duration("duration", time.Since(t.start)))
}

func (t *OperationTracer) Error(err error) *Event {
	return t.event(eventError, zap.Error(err), zap.Duration("duration", time.Since(t.start)))
}

func (t *OperationTracer) event(kind eventKind, extra ...zap.Field) *Event {
	fields := append(append([]zap.Field{}, t.fields...), extra...)
	return &Event{logger: t.logger, kind: kind, fields: fields}
}

type eventKind int

const (
	eventStep eventKind = iota
	eventSuccess
	eventError
)

type Event struct {
	logger *StructuredLogger
	kind   eventKind
	fields []zap.Field
}

func (e *Event) WithString(key, value string) *Event {
	e.fields = append(e.fields, zap.String(key, value))
	return e
}

func (e *Event) WithInt(key string, value int) *Event {
	e.fields = append(e.fields, zap.Int(key, value))
	return e
}

func (e *Event) WithBool(key string, value bool) *Event {
	e.fields = append(e.fields, zap.Bool(key, value))
	return e
}

func (e *Event) WithUUID(key string, value uuid.UUID) *Event {
	e.fields = append(e.fields, zap.String(key, value.String()))
	return e
}

func (e *Event) WithParam(key string, value any) *Event {
	e.fields = append(e.fields, zap.Any(key, value))
	return e
}

func (e *Event) Log() {
	l := e.logger.base()
	switch e.kind {
	case eventStep:
		l.Debug("step", e.fields...)
	case eventSuccess:
		l.Info("operation succeeded", e.fields...)
	case eventError:
		l.Error("operation failed", e.fields...)
	}
}
