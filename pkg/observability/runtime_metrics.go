package observability

import (
	"context"
	"fmt"
	"math"
	runtimemetrics "runtime/metrics"

	"go.opentelemetry.io/otel/metric"

	"github.com/Sumatoshi-tech/tagvol/pkg/safeconv"
)

const (
	metricGoroutines = "tagvol.runtime.goroutines"
	metricHeapLive   = "tagvol.runtime.heap.objects.bytes"
	metricGCCycles   = "tagvol.runtime.gc.cycles"

	sampleGoroutines = "/sched/goroutines:goroutines"
	sampleHeapLive   = "/memory/classes/heap/objects:bytes"
	sampleGCCycles   = "/gc/cycles/total:gc-cycles"
)

// RuntimeMetrics exposes goroutine, heap and GC figures from runtime/metrics.
// Reading them does not stop the world, unlike runtime.ReadMemStats.
type RuntimeMetrics struct {
	goroutines metric.Int64ObservableGauge
	heapLive   metric.Int64ObservableGauge
	gcCycles   metric.Int64ObservableCounter
}

// NewRuntimeMetrics registers the runtime instruments on mt.
func NewRuntimeMetrics(mt metric.Meter) (*RuntimeMetrics, error) {
	b := newMetricBuilder(mt)

	rm := &RuntimeMetrics{
		goroutines: b.gauge(metricGoroutines, "Live goroutines", "{goroutine}"),
		heapLive:   b.gauge(metricHeapLive, "Heap memory occupied by live and unswept objects", "By"),
		gcCycles:   b.observableCounter(metricGCCycles, "Completed GC cycles", "{cycle}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	_, err := mt.RegisterCallback(rm.observe, rm.goroutines, rm.heapLive, rm.gcCycles)
	if err != nil {
		return nil, fmt.Errorf("register runtime callback: %w", err)
	}

	return rm, nil
}

func (rm *RuntimeMetrics) observe(_ context.Context, obs metric.Observer) error {
	samples := []runtimemetrics.Sample{
		{Name: sampleGoroutines},
		{Name: sampleHeapLive},
		{Name: sampleGCCycles},
	}

	runtimemetrics.Read(samples)

	for i := range samples {
		val, ok := sampleInt64(samples[i].Value)
		if !ok {
			continue
		}

		switch samples[i].Name {
		case sampleGoroutines:
			obs.ObserveInt64(rm.goroutines, val)
		case sampleHeapLive:
			obs.ObserveInt64(rm.heapLive, val)
		case sampleGCCycles:
			obs.ObserveInt64(rm.gcCycles, val)
		}
	}

	return nil
}

// sampleInt64 converts a runtime/metrics value; unsupported kinds report
// false.
func sampleInt64(val runtimemetrics.Value) (int64, bool) {
	switch val.Kind() {
	case runtimemetrics.KindUint64:
		return safeconv.Int64(val.Uint64()), true
	case runtimemetrics.KindFloat64:
		f := val.Float64()
		if f > math.MaxInt64 {
			return math.MaxInt64, true
		}

		return int64(f), true
	default:
		return 0, false
	}
}
