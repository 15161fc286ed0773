package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

const (
	attrTraceID = "trace_id"
	attrSpanID  = "span_id"
	attrService = "service"
	attrMode    = "mode"
)

// TracingHandler is an [slog.Handler] that adds trace_id and span_id from the
// record's context. The service and mode attributes are attached to the inner
// handler up front so they stay top-level under WithGroup.
type TracingHandler struct {
	inner slog.Handler
}

// NewTracingHandler wraps inner.
func NewTracingHandler(inner slog.Handler, service string, mode AppMode) *TracingHandler {
	return &TracingHandler{
		inner: inner.WithAttrs([]slog.Attr{
			slog.String(attrService, service),
			slog.String(attrMode, string(mode)),
		}),
	}
}

// NewLogger builds the process logger: text or JSON on w, at cfg.LogLevel,
// with trace correlation.
func NewLogger(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var inner slog.Handler
	if cfg.LogJSON {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}

	service := cfg.ServiceName
	if service == "" {
		service = defaultServiceName
	}

	return slog.New(NewTracingHandler(inner, service, cfg.Mode))
}

// Enabled delegates to the inner handler.
func (th *TracingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return th.inner.Enabled(ctx, level)
}

// Handle adds the span context, then delegates.
func (th *TracingHandler) Handle(ctx context.Context, record slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.AddAttrs(
			slog.String(attrTraceID, sc.TraceID().String()),
			slog.String(attrSpanID, sc.SpanID().String()),
		)
	}

	err := th.inner.Handle(ctx, record)
	if err != nil {
		return fmt.Errorf("tracing handler: %w", err)
	}

	return nil
}

// WithAttrs implements [slog.Handler].
func (th *TracingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TracingHandler{inner: th.inner.WithAttrs(attrs)}
}

// WithGroup implements [slog.Handler].
func (th *TracingHandler) WithGroup(name string) slog.Handler {
	return &TracingHandler{inner: th.inner.WithGroup(name)}
}
