// Package logging carries per-call correlation attributes through a context
// and into slog records.
package logging

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type ctxKey int

const (
	callIDKey ctxKey = iota
	scanNameKey
	commandKey
)

// Attribute keys added to log records.
const (
	KeyCallID   = "scan_call_id"
	KeyScanName = "scan_name"
	KeyCommand  = "command"
)

// NewCallID returns a fresh correlation id for one construction call.
func NewCallID() string {
	return uuid.NewString()
}

// WithCallID returns a context with the call ID set.
func WithCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callIDKey, id)
}

// WithScanName returns a context with the scan name set.
func WithScanName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, scanNameKey, name)
}

// WithCommand returns a context with the CLI subcommand set.
func WithCommand(ctx context.Context, cmd string) context.Context {
	return context.WithValue(ctx, commandKey, cmd)
}

// CallID extracts the call ID from the context, or "" if absent.
func CallID(ctx context.Context) string {
	v, _ := ctx.Value(callIDKey).(string)
	return v
}

// ScanName extracts the scan name from the context, or "" if absent.
func ScanName(ctx context.Context) string {
	v, _ := ctx.Value(scanNameKey).(string)
	return v
}

// Command extracts the CLI subcommand from the context, or "" if absent.
func Command(ctx context.Context) string {
	v, _ := ctx.Value(commandKey).(string)
	return v
}

// StartCall returns a context carrying a new call ID and the given scan name.
func StartCall(ctx context.Context, name string) context.Context {
	ctx = WithCallID(ctx, NewCallID())
	if name != "" {
		ctx = WithScanName(ctx, name)
	}
	return ctx
}

func attrs(ctx context.Context) []slog.Attr {
	var out []slog.Attr
	if v := CallID(ctx); v != "" {
		out = append(out, slog.String(KeyCallID, v))
	}
	if v := ScanName(ctx); v != "" {
		out = append(out, slog.String(KeyScanName, v))
	}
	if v := Command(ctx); v != "" {
		out = append(out, slog.String(KeyCommand, v))
	}
	return out
}

// LogWith returns a logger enriched with correlation attributes from the context.
// Only non-empty values are added. A logger already backed by a
// CorrelationHandler is returned unchanged.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if _, ok := logger.Handler().(*CorrelationHandler); ok {
		return logger
	}
	for _, a := range attrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, injecting correlation attributes
// from the context into every record. Use with slog.New(NewCorrelationHandler(inner))
// so callers can use logger.InfoContext(ctx, ...).
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(attrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(as []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(as)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
