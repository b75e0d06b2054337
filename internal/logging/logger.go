// Package logging wraps zerolog the way the rest of the engine expects: a service name
// field set once at construction, trace/span fields threaded through context.
package logging

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	traceIDKey ctxKey = "traceID"
	spanIDKey  ctxKey = "spanID"
)

func init() {
	zerolog.TimestampFieldName = "timestamp"
}

// Logger is the engine's structured logger.
type Logger struct {
	logger zerolog.Logger
}

// New creates a Logger tagged with service. w defaults to os.Stdout when nil.
func New(service string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	l := zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Logger()
	return &Logger{logger: l}
}

// WithContext attaches trace/span IDs found in ctx to a derived logger.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	updated := l.logger.With().
		Str("traceID", TraceIDFromContext(ctx)).
		Str("spanID", SpanIDFromContext(ctx)).
		Logger()
	return &Logger{logger: updated}
}

func (l *Logger) Debug(msg string) { l.logger.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.logger.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.logger.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.logger.Error().Msg(msg) }

// Infof logs msg with structured fields.
func (l *Logger) Infof(msg string, fields map[string]interface{}) {
	emit(l.logger.Info(), fields, msg)
}

// Warnf logs msg with structured fields.
func (l *Logger) Warnf(msg string, fields map[string]interface{}) {
	emit(l.logger.Warn(), fields, msg)
}

// Errorf logs msg with structured fields.
func (l *Logger) Errorf(msg string, fields map[string]interface{}) {
	emit(l.logger.Error(), fields, msg)
}

func emit(event *zerolog.Event, fields map[string]interface{}, msg string) {
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// WithError returns a derived logger carrying err as a field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{logger: l.logger.With().Err(err).Logger()}
}

// WithField returns a derived logger carrying one extra field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{logger: l.logger.With().Interface(key, value).Logger()}
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func ContextWithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, spanIDKey, spanID)
}

func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

func SpanIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(spanIDKey).(string)
	return v
}
