package observability

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricReconBatches     = "tagvol.reconstruct.batches.total"
	metricReconRows        = "tagvol.reconstruct.rows.total"
	metricReconBatchTime   = "tagvol.reconstruct.batch.duration.seconds"
	metricReconCoordinates = "tagvol.reconstruct.coordinates"

	attrChannel = "channel"
)

// batchDurationBoundaries covers 10µs to 5s; a batch is at most a few
// hundred thousand rows.
var batchDurationBoundaries = []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

// coordinateBoundaries spans a handful of pixels up to a full 512x512x32 stack.
var coordinateBoundaries = []float64{1, 10, 100, 1e3, 1e4, 1e5, 1e6, 1e7}

// ReconstructionMetrics records the offline reader's progress. It satisfies
// reconstruct.Observer.
type ReconstructionMetrics struct {
	batches     metric.Int64Counter
	rows        metric.Int64Counter
	batchTime   metric.Float64Histogram
	coordinates metric.Int64Histogram
}

// NewReconstructionMetrics creates the reconstruction instruments.
func NewReconstructionMetrics(mt metric.Meter) (*ReconstructionMetrics, error) {
	b := newMetricBuilder(mt)

	rm := &ReconstructionMetrics{
		batches: b.counter(metricReconBatches, "Point batches applied", "{batch}"),
		rows:    b.counter(metricReconRows, "Point rows applied", "{row}"),
		batchTime: b.histogram(metricReconBatchTime, "Time to apply one batch", "s",
			batchDurationBoundaries...),
		coordinates: b.intHistogram(metricReconCoordinates, "Distinct coordinates per finalized volume",
			"{coordinate}", coordinateBoundaries...),
	}

	if b.err != nil {
		return nil, b.err
	}

	return rm, nil
}

// ObserveBatch records one applied batch.
func (rm *ReconstructionMetrics) ObserveBatch(ctx context.Context, rows, channels int, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.Int("channels", channels))

	rm.batches.Add(ctx, 1, attrs)
	rm.rows.Add(ctx, int64(rows), attrs)
	rm.batchTime.Record(ctx, elapsed.Seconds(), attrs)
}

// ObserveVolume records the size of a finalized volume.
func (rm *ReconstructionMetrics) ObserveVolume(ctx context.Context, channel uint8, coordinates int) {
	rm.coordinates.Record(ctx, int64(coordinates),
		metric.WithAttributes(attribute.String(attrChannel, strconv.Itoa(int(channel)))))
}
