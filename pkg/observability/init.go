package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

const (
	tracerName = "tagvol"
	meterName  = "tagvol"

	envTracesSampler    = "OTEL_TRACES_SAMPLER"
	envTracesSamplerArg = "OTEL_TRACES_SAMPLER_ARG"
)

// Providers holds the initialized observability providers.
type Providers struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger *slog.Logger

	// MetricsHandler serves the Prometheus scrape endpoint. Nil unless
	// Config.Prometheus is set.
	MetricsHandler http.Handler

	// Shutdown flushes pending telemetry. Must be called before exit.
	Shutdown func(ctx context.Context) error
}

// Init initializes tracing, metrics and logging, writing logs to stderr.
func Init(cfg Config) (Providers, error) {
	return InitWithWriter(cfg, os.Stderr)
}

// InitWithWriter is Init with an explicit log destination.
func InitWithWriter(cfg Config, logOut io.Writer) (Providers, error) {
	ctx := context.Background()

	res, err := buildResource(ctx, cfg)
	if err != nil {
		return Providers{}, err
	}

	tp, tpShutdown, err := buildTracerProvider(ctx, cfg, res)
	if err != nil {
		return Providers{}, fmt.Errorf("build tracer provider: %w", err)
	}

	mp, metricsHandler, mpShutdown, err := buildMeterProvider(ctx, cfg, res)
	if err != nil {
		return Providers{}, errors.Join(fmt.Errorf("build meter provider: %w", err), tpShutdown(ctx))
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	shutdown := func(shutdownCtx context.Context) error {
		timeout := time.Duration(cfg.ShutdownTimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = defaultShutdownTimeoutSec * time.Second
		}

		deadlineCtx, cancel := context.WithTimeout(shutdownCtx, timeout)
		defer cancel()

		return errors.Join(tpShutdown(deadlineCtx), mpShutdown(deadlineCtx))
	}

	return Providers{
		Tracer:         tp.Tracer(tracerName),
		Meter:          mp.Meter(meterName),
		Logger:         NewLogger(logOut, cfg),
		MetricsHandler: metricsHandler,
		Shutdown:       shutdown,
	}, nil
}

func buildResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = defaultServiceName
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(name)}

	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}

	if cfg.Mode != "" {
		attrs = append(attrs, attribute.String("app.mode", string(cfg.Mode)))
	}

	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	return res, nil
}

type shutdownFunc func(ctx context.Context) error

func noopShutdown(context.Context) error { return nil }

func buildTracerProvider(
	ctx context.Context, cfg Config, res *resource.Resource,
) (trace.TracerProvider, shutdownFunc, error) {
	if cfg.OTLPEndpoint == "" {
		return nooptrace.NewTracerProvider(), noopShutdown, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}

	if cfg.OTLPInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	if len(cfg.OTLPHeaders) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.OTLPHeaders))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(NewAttributeFilter(sdktrace.NewBatchSpanProcessor(exporter), nil)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(selectSampler(cfg)),
	)

	return tp, tp.Shutdown, nil
}

func selectSampler(cfg Config) sdktrace.Sampler {
	if name := os.Getenv(envTracesSampler); name != "" {
		return samplerByName(name, os.Getenv(envTracesSamplerArg))
	}

	if cfg.SampleRatio > 0 {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	return sdktrace.ParentBased(sdktrace.AlwaysSample())
}

// samplerByName understands the OTEL_TRACES_SAMPLER values.
func samplerByName(name, arg string) sdktrace.Sampler {
	switch name {
	case "always_on":
		return sdktrace.AlwaysSample()
	case "always_off":
		return sdktrace.NeverSample()
	case "traceidratio":
		return sdktrace.TraceIDRatioBased(parseRatio(arg))
	case "parentbased_always_off":
		return sdktrace.ParentBased(sdktrace.NeverSample())
	case "parentbased_traceidratio":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(parseRatio(arg)))
	default:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
}

func buildMeterProvider(
	ctx context.Context, cfg Config, res *resource.Resource,
) (metric.MeterProvider, http.Handler, shutdownFunc, error) {
	if cfg.OTLPEndpoint == "" && !cfg.Prometheus {
		return noopmetric.NewMeterProvider(), nil, noopShutdown, nil
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	var handler http.Handler

	if cfg.Prometheus {
		reader, h, err := newPrometheusReader()
		if err != nil {
			return nil, nil, nil, err
		}

		opts = append(opts, sdkmetric.WithReader(reader))
		handler = h
	}

	if cfg.OTLPEndpoint != "" {
		exporterOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}

		if cfg.OTLPInsecure {
			exporterOpts = append(exporterOpts, otlpmetricgrpc.WithInsecure())
		}

		if len(cfg.OTLPHeaders) > 0 {
			exporterOpts = append(exporterOpts, otlpmetricgrpc.WithHeaders(cfg.OTLPHeaders))
		}

		exporter, err := otlpmetricgrpc.New(ctx, exporterOpts...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create metric exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)))
	}

	mp := sdkmetric.NewMeterProvider(opts...)

	return mp, handler, mp.Shutdown, nil
}

// ParseOTLPHeaders parses "key=value,key=value". Pairs without "=" are
// skipped; nil is returned when nothing parses.
func ParseOTLPHeaders(raw string) map[string]string {
	result := make(map[string]string)

	for pair := range strings.SplitSeq(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}

		result[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	if len(result) == 0 {
		return nil
	}

	return result
}

func parseRatio(s string) float64 {
	ratio, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 1.0
	}

	return ratio
}
