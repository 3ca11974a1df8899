// Package log configures slog: a JSON handler which adds attributes stored
// in the context to every record.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"slices"
)

type slogKeyT struct{}

var slogKey slogKeyT

type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(handler slog.Handler) ContextHandler {
	return ContextHandler{
		Handler: handler,
	}
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if a, ok := ctx.Value(slogKey).([]slog.Attr); ok {
		r.AddAttrs(a...)
	}

	return h.Handler.Handle(ctx, r)
}

func (h ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h ContextHandler) WithGroup(name string) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// ContextAttrs returns a context whose log records carry attrs.
func ContextAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	a, _ := ctx.Value(slogKey).([]slog.Attr)
	// never share the backing array with the parent context
	a = append(slices.Clip(a), attrs...)
	return context.WithValue(ctx, slogKey, a)
}

// WithJob tags log records with the job identity.
func WithJob(ctx context.Context, id, kind string) context.Context {
	return ContextAttrs(ctx,
		slog.String("job_id", id),
		slog.String("job_kind", kind),
	)
}

// New returns a JSON logger writing to w, stderr when w is nil.
func New(w io.Writer, verbose bool) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	base := slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: false,
		Level:     level,
	})
	return slog.New(NewContextHandler(base))
}
