package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sumatoshi-tech/tagvol/pkg/histogram"
	"github.com/Sumatoshi-tech/tagvol/pkg/safeconv"
)

const (
	metricAcqBatches  = "tagvol.acquisition.batches.total"
	metricAcqEvents   = "tagvol.acquisition.events.total"
	metricAcqDropped  = "tagvol.acquisition.dropped.total"
	metricAcqStarts   = "tagvol.acquisition.starts.total"
	metricAcqStops    = "tagvol.acquisition.stops.total"
	metricAcqSpecials = "tagvol.acquisition.special.total"

	attrKind = "kind"
)

// AcquisitionMetrics reports histogram accumulator counters. Values are read
// from the stats function on each collection, so the acquisition hot path
// records nothing.
type AcquisitionMetrics struct {
	stats func() histogram.Stats

	batches  metric.Int64ObservableCounter
	events   metric.Int64ObservableCounter
	dropped  metric.Int64ObservableCounter
	starts   metric.Int64ObservableCounter
	stops    metric.Int64ObservableCounter
	specials metric.Int64ObservableCounter

	registration metric.Registration
}

// NewAcquisitionMetrics registers the acquisition instruments. stats is
// typically (*histogram.Accumulator).Stats.
func NewAcquisitionMetrics(mt metric.Meter, stats func() histogram.Stats) (*AcquisitionMetrics, error) {
	b := newMetricBuilder(mt)

	am := &AcquisitionMetrics{
		stats:    stats,
		batches:  b.observableCounter(metricAcqBatches, "Event batches delivered by the driver", "{batch}"),
		events:   b.observableCounter(metricAcqEvents, "Events delivered by the driver", "{event}"),
		dropped:  b.observableCounter(metricAcqDropped, "Stop events outside the histogram window", "{event}"),
		starts:   b.observableCounter(metricAcqStarts, "Start events seen", "{event}"),
		stops:    b.observableCounter(metricAcqStops, "Stop events seen", "{event}"),
		specials: b.observableCounter(metricAcqSpecials, "Non time-tag events by kind", "{event}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	reg, err := mt.RegisterCallback(am.observe,
		am.batches, am.events, am.dropped, am.starts, am.stops, am.specials)
	if err != nil {
		return nil, fmt.Errorf("register acquisition callback: %w", err)
	}

	am.registration = reg

	return am, nil
}

func (am *AcquisitionMetrics) observe(_ context.Context, obs metric.Observer) error {
	st := am.stats()

	obs.ObserveInt64(am.batches, safeconv.Int64(st.Batches))
	obs.ObserveInt64(am.events, safeconv.Int64(st.Events))
	obs.ObserveInt64(am.dropped, safeconv.Int64(st.Dropped))
	obs.ObserveInt64(am.starts, safeconv.Int64(st.Starts))
	obs.ObserveInt64(am.stops, safeconv.Int64(st.Stops))
	obs.ObserveInt64(am.specials, safeconv.Int64(st.Errors), metric.WithAttributes(attribute.String(attrKind, "error")))
	obs.ObserveInt64(am.specials, safeconv.Int64(st.Overflows), metric.WithAttributes(attribute.String(attrKind, "overflow")))
	obs.ObserveInt64(am.specials, safeconv.Int64(st.MissedEvents), metric.WithAttributes(attribute.String(attrKind, "missed")))

	return nil
}

// Close unregisters the collection callback.
func (am *AcquisitionMetrics) Close() error {
	err := am.registration.Unregister()
	if err != nil {
		return fmt.Errorf("unregister acquisition callback: %w", err)
	}

	return nil
}
