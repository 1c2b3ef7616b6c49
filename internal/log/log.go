// Package log builds the slog handlers of the entrypoint.
//
// Two destinations exist while a job runs: the console, which is redirected
// into the log sink and shows up as the "entrypoint" stream of the job, and
// the fallback logger on the real stderr, which receives everything the sink
// could not deliver.
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

// ContextAttrs returns a context carrying attrs in addition to those already
// stored in ctx. Every record logged with the context gets them.
func ContextAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	a, _ := ctx.Value(slogKey).([]slog.Attr)
	return context.WithValue(ctx, slogKey, slices.Concat(a, attrs))
}

func level(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// New returns the JSON logger on stderr used outside of a job run.
func New(verbose bool) *slog.Logger {
	base := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: false,
		Level:     level(verbose),
	})
	return slog.New(NewContextHandler(base))
}

// NewConsole returns a text logger writing one line per record to w. The
// time attribute is omitted, records in the sink carry their own timestamp.
func NewConsole(w io.Writer, verbose bool) *slog.Logger {
	base := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level(verbose),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})
	return slog.New(NewContextHandler(base))
}

// NewFallback returns the logger for undelivered records. It always writes
// to the process stderr and never to a redirected console.
func NewFallback() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}
