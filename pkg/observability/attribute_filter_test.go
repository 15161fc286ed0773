package observability_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Sumatoshi-tech/tagvol/pkg/observability"
)

func spanAttrMap(s tracetest.SpanStub) map[string]any {
	out := make(map[string]any, len(s.Attributes))
	for _, kv := range s.Attributes {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}

	return out
}

func filteredProvider(t *testing.T, logger *slog.Logger) (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(observability.NewAttributeFilter(sdktrace.NewSimpleSpanProcessor(exporter), logger)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	t.Cleanup(func() { require.NoError(t, tp.Shutdown(context.Background())) })

	return exporter, tp
}

func TestAttributeFilter_KeepsTagvolKeys(t *testing.T) {
	t.Parallel()

	exporter, tp := filteredProvider(t, nil)

	_, span := tp.Tracer("test").Start(context.Background(), "tagvol.reconstruct")
	span.SetAttributes(
		attribute.String("reconstruct.merge_policy", "sum"),
		attribute.Int("reconstruct.workers", 4),
		attribute.Bool("error", true),
	)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	attrs := spanAttrMap(spans[0])
	assert.Equal(t, "sum", attrs["reconstruct.merge_policy"])
	assert.Equal(t, int64(4), attrs["reconstruct.workers"])
	assert.Equal(t, true, attrs["error"])
}

func TestAttributeFilter_DropsUnknownAndBlocked(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	exporter, tp := filteredProvider(t, slog.New(slog.NewTextHandler(&buf, nil)))

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	span.SetAttributes(
		attribute.String("filename", "/data/mouse1.arrow_stream"),
		attribute.String("subject.name", "mouse1"),
		attribute.Int("reconstruct.rows", 9),
	)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	attrs := spanAttrMap(spans[0])
	assert.Equal(t, map[string]any{"reconstruct.rows": int64(9)}, attrs)
	assert.Contains(t, buf.String(), "key=filename")
	assert.Contains(t, buf.String(), "key=subject.name")
}
