// Package reconstruct folds a columnar point stream into one sparse volume per
// detector channel in a single forward pass.
package reconstruct

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/tagvol/internal/memstat"
	"github.com/Sumatoshi-tech/tagvol/pkg/pointstream"
	"github.com/Sumatoshi-tech/tagvol/pkg/safeconv"
	"github.com/Sumatoshi-tech/tagvol/pkg/volume"
)

const tracerName = "tagvol/reconstruct"

// Sentinel errors.
var (
	ErrNilSource = errors.New("nil point source")
	ErrFinalized = errors.New("reconstruction already finalized")
)

// Result is the outcome of a completed pass.
type Result struct {
	RunID   xid.ID
	Volumes map[uint8]*volume.Volume
	Batches int
	Rows    uint64
	Stopped bool // True when Stop ended the pass before the stream did.
}

// Channels returns the reconstructed channels in ascending order.
func (r Result) Channels() []uint8 {
	return slices.Sorted(maps.Keys(r.Volumes))
}

// Reader owns the per-channel builders for one pass over one source. Step,
// Run and Finalize must be called from a single goroutine; Stop may be called
// from any goroutine.
type Reader struct {
	src   pointstream.Source
	shape volume.Shape

	policy   volume.MergePolicy
	workers  int
	logger   *slog.Logger
	observer Observer
	tracer   trace.Tracer
	memEvery int

	runID    xid.ID
	builders map[uint8]*volume.Builder
	batches  int
	rows     uint64
	err      error
	done     bool
	stop     atomic.Bool
	mem      *memstat.Tracker
}

// Open prepares a reconstruction pass over src. The shape must already be
// validated by the caller's configuration, but a zero dimension is still
// rejected here.
func Open(src pointstream.Source, shape volume.Shape, opts ...Option) (*Reader, error) {
	if src == nil {
		return nil, ErrNilSource
	}

	err := shape.Validate()
	if err != nil {
		return nil, err
	}

	r := &Reader{
		src:      src,
		shape:    shape,
		policy:   volume.MergeSum,
		workers:  1,
		logger:   slog.New(slog.DiscardHandler),
		runID:    xid.New(),
		builders: make(map[uint8]*volume.Builder),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.tracer == nil {
		r.tracer = otel.Tracer(tracerName)
	}

	if r.memEvery > 0 {
		r.mem = memstat.NewTracker(r.logger, r.memEvery)
	}

	return r, nil
}

// RunID identifies this pass.
func (r *Reader) RunID() xid.ID { return r.runID }

// Batches returns the number of batches applied so far.
func (r *Reader) Batches() int { return r.batches }

// Rows returns the number of rows applied so far.
func (r *Reader) Rows() uint64 { return r.rows }

// Stop asks Run to finalize after the batch in flight. Batches already applied
// are kept.
func (r *Reader) Stop() {
	r.stop.Store(true)
}

// Step reads and applies the next batch. It returns io.EOF when the stream is
// exhausted. Any other error is sticky: the pass is aborted and every later
// Step returns the same error.
func (r *Reader) Step(ctx context.Context) error {
	if r.err != nil {
		return r.err
	}

	if r.done {
		return ErrFinalized
	}

	b, err := r.src.Next(ctx)
	if errors.Is(err, io.EOF) {
		return io.EOF
	}

	if err != nil {
		r.err = fmt.Errorf("batch %d: %w", r.batches, err)

		return r.err
	}

	err = r.apply(ctx, b)
	if err != nil {
		r.err = fmt.Errorf("batch %d: %w", b.Seq, err)

		return r.err
	}

	return nil
}

// pending is one channel's share of a batch, checked and ready to merge.
type pending struct {
	builder *volume.Builder
	samples []volume.Sample
	fresh   bool
}

// apply validates the whole batch before any builder changes, so a failing
// batch contributes nothing.
func (r *Reader) apply(ctx context.Context, b *pointstream.Batch) error {
	start := time.Now()

	err := b.Validate()
	if err != nil {
		return err
	}

	parts := pointstream.PartitionByChannel(b)
	work := make([]pending, 0, len(parts))

	for _, p := range parts {
		builder, ok := r.builders[p.Channel]
		if !ok {
			builder = volume.NewBuilder(p.Channel, r.shape, r.policy)
		}

		samples := pointstream.Extract(b, p)

		err = builder.Check(samples)
		if err != nil {
			return err
		}

		work = append(work, pending{builder: builder, samples: samples, fresh: !ok})
	}

	err = r.merge(ctx, work)
	if err != nil {
		return err
	}

	for _, w := range work {
		if w.fresh {
			r.builders[w.builder.Channel()] = w.builder
			r.logger.DebugContext(ctx, "reconstruct: new channel", "channel", w.builder.Channel(), "batch", b.Seq)
		}
	}

	r.batches++
	r.rows += uint64(b.Len())

	elapsed := time.Since(start)

	if r.observer != nil {
		r.observer.ObserveBatch(ctx, b.Len(), len(parts), elapsed)
	}

	if r.mem != nil {
		r.mem.Observe(ctx, b.Seq, r.coordinates())
	}

	return nil
}

func (r *Reader) merge(ctx context.Context, work []pending) error {
	if r.workers <= 1 || len(work) <= 1 {
		for _, w := range work {
			err := w.builder.Add(w.samples)
			if err != nil {
				return err
			}
		}

		return nil
	}

	// Each builder gets exactly one goroutine per batch, so per-channel
	// updates stay in stream order under every merge policy.
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for _, w := range work {
		g.Go(func() error {
			return w.builder.Add(w.samples)
		})
	}

	return g.Wait()
}

func (r *Reader) coordinates() int {
	total := 0
	for _, b := range r.builders {
		total += b.Len()
	}

	return total
}

// Run consumes the stream until it ends, Stop is called or ctx is done, then
// finalizes. Cancellation of ctx is returned as an error; Stop is not.
func (r *Reader) Run(ctx context.Context) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "tagvol.reconstruct",
		trace.WithAttributes(
			attribute.String("reconstruct.run_id", r.runID.String()),
			attribute.String("reconstruct.merge_policy", r.policy.String()),
			attribute.Int("reconstruct.workers", r.workers),
			attribute.String("reconstruct.shape", r.shape.String()),
		))
	defer span.End()

	r.logger.InfoContext(ctx, "reconstruct: started",
		"run_id", r.runID.String(),
		"shape", r.shape.String(),
		"merge_policy", r.policy.String(),
		"workers", r.workers,
	)

	stopped := false

	for {
		if r.stop.Load() {
			stopped = true

			break
		}

		err := r.Step(ctx)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "reconstruction failed")
			r.logger.ErrorContext(ctx, "reconstruct: aborted", "run_id", r.runID.String(), "error", err)

			return Result{}, err
		}
	}

	vols, err := r.Finalize(ctx)
	if err != nil {
		return Result{}, err
	}

	span.SetAttributes(
		attribute.Int("reconstruct.batches", r.batches),
		attribute.Int64("reconstruct.rows", safeconv.Int64(r.rows)),
		attribute.Int("reconstruct.channels", len(vols)),
	)

	r.logger.InfoContext(ctx, "reconstruct: finished",
		"run_id", r.runID.String(),
		"batches", r.batches,
		"rows", r.rows,
		"channels", len(vols),
		"stopped", stopped,
	)

	return Result{
		RunID:   r.runID,
		Volumes: vols,
		Batches: r.batches,
		Rows:    r.rows,
		Stopped: stopped,
	}, nil
}

// Finalize turns every builder into an immutable volume and hands them to the
// caller. It may be called once, and not after a failed Step.
func (r *Reader) Finalize(ctx context.Context) (map[uint8]*volume.Volume, error) {
	if r.err != nil {
		return nil, r.err
	}

	if r.done {
		return nil, ErrFinalized
	}

	r.done = true

	out := make(map[uint8]*volume.Volume, len(r.builders))
	for ch, b := range r.builders {
		v := b.Finalize()
		out[ch] = v

		if r.observer != nil {
			r.observer.ObserveVolume(ctx, ch, v.Len())
		}
	}

	r.builders = nil

	return out, nil
}

// Close closes the underlying source.
func (r *Reader) Close() error {
	return r.src.Close()
}
