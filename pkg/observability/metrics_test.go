package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Sumatoshi-tech/tagvol/pkg/histogram"
	"github.com/Sumatoshi-tech/tagvol/pkg/observability"
	"github.com/Sumatoshi-tech/tagvol/pkg/reconstruct"
)

var _ reconstruct.Observer = (*observability.ReconstructionMetrics)(nil)

func newManualMeter(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	t.Cleanup(func() { require.NoError(t, mp.Shutdown(context.Background())) })

	return reader, mp
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}

	return out
}

func sumValue(t *testing.T, m metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	t.Helper()

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is %T", m.Name, m.Data)

	want := attribute.NewSet(attrs...)

	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}

	t.Fatalf("metric %s has no point with %v", m.Name, attrs)

	return 0
}

func TestAcquisitionMetrics_ReadsStats(t *testing.T) {
	t.Parallel()

	reader, mp := newManualMeter(t)

	st := histogram.Stats{Batches: 3, Events: 40, Starts: 10, Stops: 28, Dropped: 2, Overflows: 1}

	am, err := observability.NewAcquisitionMetrics(mp.Meter("test"), func() histogram.Stats { return st })
	require.NoError(t, err)

	got := collect(t, reader)
	assert.Equal(t, int64(3), sumValue(t, got["tagvol.acquisition.batches.total"]))
	assert.Equal(t, int64(40), sumValue(t, got["tagvol.acquisition.events.total"]))
	assert.Equal(t, int64(2), sumValue(t, got["tagvol.acquisition.dropped.total"]))
	assert.Equal(t, int64(10), sumValue(t, got["tagvol.acquisition.starts.total"]))
	assert.Equal(t, int64(1), sumValue(t, got["tagvol.acquisition.special.total"],
		attribute.String("kind", "overflow")))

	require.NoError(t, am.Close())
}

func TestAcquisitionMetrics_LiveAccumulator(t *testing.T) {
	t.Parallel()

	reader, mp := newManualMeter(t)

	acc, err := histogram.New(histogram.Config{StartChannel: 1, StopChannel: 2, BinWidth: 1, NumBins: 10})
	require.NoError(t, err)

	_, err = observability.NewAcquisitionMetrics(mp.Meter("test"), acc.Stats)
	require.NoError(t, err)

	assert.Equal(t, int64(0), sumValue(t, collect(t, reader)["tagvol.acquisition.batches.total"]))

	require.NoError(t, acc.OnBatch(nil, 0, 10))

	assert.Equal(t, int64(1), sumValue(t, collect(t, reader)["tagvol.acquisition.batches.total"]))
}

func TestReconstructionMetrics_Observe(t *testing.T) {
	t.Parallel()

	reader, mp := newManualMeter(t)

	rm, err := observability.NewReconstructionMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	rm.ObserveBatch(ctx, 100, 2, 3*time.Millisecond)
	rm.ObserveBatch(ctx, 50, 2, time.Millisecond)
	rm.ObserveVolume(ctx, 1, 42)

	got := collect(t, reader)
	channels := attribute.Int("channels", 2)
	assert.Equal(t, int64(2), sumValue(t, got["tagvol.reconstruct.batches.total"], channels))
	assert.Equal(t, int64(150), sumValue(t, got["tagvol.reconstruct.rows.total"], channels))

	durations, ok := got["tagvol.reconstruct.batch.duration.seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, durations.DataPoints, 1)
	assert.Equal(t, uint64(2), durations.DataPoints[0].Count)

	coords, ok := got["tagvol.reconstruct.coordinates"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, coords.DataPoints, 1)
	assert.Equal(t, int64(42), coords.DataPoints[0].Sum)

	ch, found := coords.DataPoints[0].Attributes.Value("channel")
	require.True(t, found)
	assert.Equal(t, "1", ch.AsString())
}

func TestRuntimeMetrics_ReportsGoroutines(t *testing.T) {
	t.Parallel()

	reader, mp := newManualMeter(t)

	_, err := observability.NewRuntimeMetrics(mp.Meter("test"))
	require.NoError(t, err)

	got := collect(t, reader)

	gauge, ok := got["tagvol.runtime.goroutines"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Positive(t, gauge.DataPoints[0].Value)

	heap, ok := got["tagvol.runtime.heap.objects.bytes"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	assert.Positive(t, heap.DataPoints[0].Value)
}
