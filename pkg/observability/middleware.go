package observability

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// statusWriter records the response status.
type statusWriter struct {
	http.ResponseWriter

	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	if sw.status == 0 {
		sw.status = code
	}

	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(buf []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}

	n, err := sw.ResponseWriter.Write(buf)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}

	return n, nil
}

// HTTPMiddleware starts a server span named "METHOD /path" per request,
// continuing any W3C trace context found in the headers.
func HTTPMiddleware(tracer trace.Tracer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, hr *http.Request) {
		parent := otel.GetTextMapPropagator().Extract(hr.Context(), propagation.HeaderCarrier(hr.Header))

		ctx, span := tracer.Start(parent, hr.Method+" "+hr.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(hr.Method),
				attribute.String("http.target", hr.URL.Path),
			),
		)
		defer span.End()

		sw := &statusWriter{ResponseWriter: rw}
		next.ServeHTTP(sw, hr.WithContext(ctx))

		if sw.status == 0 {
			sw.status = http.StatusOK
		}

		span.SetAttributes(semconv.HTTPResponseStatusCode(sw.status))

		if sw.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(sw.status))
		}
	})
}
