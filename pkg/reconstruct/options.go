package reconstruct

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/tagvol/pkg/volume"
)

// Observer receives per-batch and per-volume measurements. The reader calls it
// from one goroutine at a time.
type Observer interface {
	ObserveBatch(ctx context.Context, rows, channels int, elapsed time.Duration)
	ObserveVolume(ctx context.Context, channel uint8, coordinates int)
}

// Option configures a Reader.
type Option func(*Reader)

// WithMergePolicy sets how repeated coordinates combine. The default is
// volume.MergeSum.
func WithMergePolicy(policy volume.MergePolicy) Option {
	return func(r *Reader) {
		r.policy = policy
	}
}

// WithWorkers accumulates the channels of each batch on up to n goroutines.
// Batches are still applied one at a time, in stream order.
func WithWorkers(n int) Option {
	return func(r *Reader) {
		r.workers = max(n, 1)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) {
		r.logger = logger
	}
}

// WithObserver attaches a metrics observer.
func WithObserver(obs Observer) Option {
	return func(r *Reader) {
		r.observer = obs
	}
}

// WithTracer sets the tracer for reconstruction spans. When unset the global
// provider is used.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Reader) {
		r.tracer = tracer
	}
}

// WithMemoryLogEvery logs heap usage every n batches. Zero disables it.
func WithMemoryLogEvery(n int) Option {
	return func(r *Reader) {
		r.memEvery = n
	}
}
