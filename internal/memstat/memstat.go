// Package memstat samples Go heap usage while a stream is being folded and
// reports it as structured log entries.
package memstat

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Sumatoshi-tech/tagvol/pkg/safeconv"
)

// DefaultEMAAlpha smooths per-batch heap growth. 0.3 gives a ~3-batch half-life.
const DefaultEMAAlpha = 0.3

// HeapSnapshot captures Go runtime memory stats at a point in time.
type HeapSnapshot struct {
	HeapInuse uint64
	HeapAlloc uint64
	Sys       uint64 // Total bytes obtained from the OS.
	NumGC     uint32
	TakenAt   time.Time
}

// Take reads [runtime.MemStats] and returns a HeapSnapshot.
func Take() HeapSnapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return HeapSnapshot{
		HeapInuse: m.HeapInuse,
		HeapAlloc: m.HeapAlloc,
		Sys:       m.Sys,
		NumGC:     m.NumGC,
		TakenAt:   time.Now(),
	}
}

// EMA is an exponentially weighted moving average.
type EMA struct {
	value       float64
	initialized bool
}

// Update incorporates a new observation and returns the updated average.
// Alpha 1.0 trusts only the latest observation.
func (e *EMA) Update(observed, alpha float64) float64 {
	if !e.initialized {
		e.value = observed
		e.initialized = true

		return e.value
	}

	e.value = alpha*observed + (1-alpha)*e.value

	return e.value
}

// Value returns the current average.
func (e *EMA) Value() float64 { return e.value }

// Tracker follows heap growth across batches.
type Tracker struct {
	logger *slog.Logger
	every  int
	last   HeapSnapshot
	growth EMA
}

// NewTracker logs every n-th batch. n <= 0 disables logging but still tracks.
func NewTracker(logger *slog.Logger, every int) *Tracker {
	return &Tracker{logger: logger, every: every, last: Take()}
}

// Observe records the heap after batch seq and logs it when due.
func (t *Tracker) Observe(ctx context.Context, seq int, coordinates int) {
	now := Take()
	delta := float64(safeconv.Int64(now.HeapAlloc) - safeconv.Int64(t.last.HeapAlloc))
	ema := t.growth.Update(delta, DefaultEMAAlpha)
	t.last = now

	if t.every <= 0 || (seq+1)%t.every != 0 {
		return
	}

	t.logger.InfoContext(ctx, "reconstruct: batch memory",
		"batch", seq+1,
		"coordinates", humanize.Comma(int64(coordinates)),
		"heap_alloc", humanize.IBytes(now.HeapAlloc),
		"heap_inuse", humanize.IBytes(now.HeapInuse),
		"sys", humanize.IBytes(now.Sys),
		"gc", now.NumGC,
		"ema_growth_kib", int64(ema)/1024,
	)
}

// Last returns the most recent snapshot.
func (t *Tracker) Last() HeapSnapshot { return t.last }
