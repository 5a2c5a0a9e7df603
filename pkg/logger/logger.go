// Package logger provides the structured JSON logger shared by all components.
// Every record carries the service name and an action label, plus trace and
// span ids when the context has an active span.
package logger

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
)

// contextHandler decorates records with trace_id / span_id from the context.
// WithAttrs and WithGroup re-wrap the derived handler so the decoration
// survives slog.Logger.With.
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", sc.TraceID().String()))
	}
	if sc.HasSpanID() {
		r.AddAttrs(slog.String("span_id", sc.SpanID().String()))
	}
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}

type Logger struct {
	sl *slog.Logger
}

// New returns a logger writing JSON to stdout tagged with the service name.
func New(service string) *Logger {
	hostname, _ := os.Hostname()
	h := contextHandler{slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})}
	return &Logger{sl: slog.New(h).With("service", service, "hostname", hostname)}
}

// Action returns a logger whose records are labeled with the given action.
func (l *Logger) Action(action string) *Logger {
	return &Logger{sl: l.sl.With("action", action)}
}

// With returns a logger with additional key-value attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{sl: l.sl.With(args...)}
}

func (l *Logger) Debug(msg string, args ...any) { l.sl.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.sl.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.sl.Warn(msg, args...) }

func (l *Logger) Error(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	l.sl.Error(msg, args...)
}

// InfoContext logs with context so trace ids are attached when present.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.sl.InfoContext(ctx, msg, args...)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	l.sl.ErrorContext(ctx, msg, args...)
}
