// Package histogram accumulates a live start/multi-stop delay histogram from
// time-tag batches delivered by a real-time driver.
package histogram

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/Sumatoshi-tech/tagvol/pkg/timetag"
)

// Sentinel errors.
var (
	ErrInvalidBinWidth = errors.New("bin width must be positive")
	ErrInvalidNumBins  = errors.New("number of bins must be positive")
	ErrSameChannel     = errors.New("start and stop channels must differ")

	// ErrStopped is returned when a batch or reset arrives after Stop. A driver
	// delivering batches after teardown is a programming error.
	ErrStopped = errors.New("histogram accumulator stopped")
)

// Config describes the histogram.
type Config struct {
	StartChannel int32
	StopChannel  int32
	BinWidth     int64 // Picoseconds.
	NumBins      int
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.BinWidth <= 0:
		return fmt.Errorf("%w: %d", ErrInvalidBinWidth, c.BinWidth)
	case c.NumBins <= 0:
		return fmt.Errorf("%w: %d", ErrInvalidNumBins, c.NumBins)
	case c.StartChannel == c.StopChannel:
		return fmt.Errorf("%w: %d", ErrSameChannel, c.StartChannel)
	}

	return nil
}

// Stats counts what the accumulator has seen since construction. Reset
// clears the histogram but not these counters.
type Stats struct {
	Batches      uint64
	Events       uint64
	Starts       uint64
	Stops        uint64
	Binned       uint64
	Dropped      uint64 // Stop events whose bin fell outside [0, NumBins).
	Errors       uint64
	Overflows    uint64
	MissedEvents uint64
	Resets       uint64
	LastBegin    int64
	LastEnd      int64
}

// Accumulator is a start/multi-stop histogram. One writer (OnBatch, Reset)
// may run at a time; Snapshot, Index and Stats are safe from any goroutine.
type Accumulator struct {
	startChannel int32
	stopChannel  int32
	binWidth     int64
	numBins      int

	device io.Closer
	logger *slog.Logger

	// mu guards everything below.
	mu            sync.Mutex
	bins          []uint64
	lastReference int64
	stats         Stats
	stopped       bool
}

var _ Measurement = (*Accumulator)(nil)

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Accumulator) {
		a.logger = logger
	}
}

// WithDevice hands the acquisition device to the accumulator. It is closed by
// Stop once no batch is in flight.
func WithDevice(device io.Closer) Option {
	return func(a *Accumulator) {
		a.device = device
	}
}

// New creates an accumulator with all counters zero.
func New(cfg Config, opts ...Option) (*Accumulator, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	a := &Accumulator{
		startChannel: cfg.StartChannel,
		stopChannel:  cfg.StopChannel,
		binWidth:     cfg.BinWidth,
		numBins:      cfg.NumBins,
		logger:       slog.New(slog.DiscardHandler),
		bins:         make([]uint64, cfg.NumBins),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

// Config returns the configuration the accumulator was built with.
func (a *Accumulator) Config() Config {
	return Config{
		StartChannel: a.startChannel,
		StopChannel:  a.stopChannel,
		BinWidth:     a.binWidth,
		NumBins:      a.numBins,
	}
}

// OnBatch folds one batch into the histogram, in arrival order. A start event
// moves the reference time; a stop event increments the bin of its delay from
// the reference, or is dropped when that bin is out of range.
func (a *Accumulator) OnBatch(events []timetag.Event, begin, end int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return ErrStopped
	}

	a.stats.Batches++
	a.stats.Events += uint64(len(events))
	a.stats.LastBegin = begin
	a.stats.LastEnd = end

	for i := range events {
		ev := &events[i]

		a.tally(ev)

		switch ev.Channel {
		case a.startChannel:
			a.lastReference = ev.Time
			a.stats.Starts++
		case a.stopChannel:
			a.stats.Stops++

			bin, ok := a.binOf(ev.Time)
			if !ok {
				a.stats.Dropped++

				continue
			}

			a.bins[bin]++
			a.stats.Binned++
		}
	}

	return nil
}

// tally records non time-tag events. They do not affect binning.
func (a *Accumulator) tally(ev *timetag.Event) {
	switch ev.Type {
	case timetag.TimeTag:
	case timetag.Error:
		a.stats.Errors++
	case timetag.OverflowBegin:
		a.stats.Overflows++
	case timetag.OverflowEnd:
	case timetag.MissedEvents:
		a.stats.MissedEvents += uint64(ev.MissedEvents)
	}
}

// binOf floors (t - reference) / binWidth. Negative delays are out of range.
func (a *Accumulator) binOf(t int64) (int, bool) {
	delay := t - a.lastReference
	if delay < 0 {
		return 0, false
	}

	bin := delay / a.binWidth
	if bin >= int64(a.numBins) {
		return 0, false
	}

	return int(bin), true
}

// Snapshot returns a copy of the bins. The lock is held only for the copy.
func (a *Accumulator) Snapshot() []uint64 {
	out := make([]uint64, a.numBins)

	a.mu.Lock()
	copy(out, a.bins)
	a.mu.Unlock()

	return out
}

// Index returns the lower edge of each bin in picoseconds. It does not touch
// accumulator state and takes no lock.
func (a *Accumulator) Index() []int64 {
	out := make([]int64, a.numBins)
	for i := range out {
		out[i] = int64(i) * a.binWidth
	}

	return out
}

// Stats returns a copy of the counters.
func (a *Accumulator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.stats
}

// Reset zeroes the bins and the reference time. After Stop it returns
// ErrStopped and leaves the counters alone.
func (a *Accumulator) Reset() error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()

		return ErrStopped
	}

	clear(a.bins)
	a.lastReference = 0
	a.stats.Resets++
	a.mu.Unlock()

	a.logger.Info("histogram: reset", "bins", a.numBins)

	return nil
}

// Stop waits for any in-flight OnBatch or Reset, rejects further batches and
// releases the device. It is safe to call more than once.
func (a *Accumulator) Stop() error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()

		return nil
	}

	a.stopped = true
	stats := a.stats
	a.mu.Unlock()

	a.logger.Info("histogram: stopped",
		"batches", stats.Batches,
		"events", stats.Events,
		"binned", stats.Binned,
		"dropped", stats.Dropped,
	)

	if a.device == nil {
		return nil
	}

	err := a.device.Close()
	if err != nil {
		return fmt.Errorf("release device: %w", err)
	}

	return nil
}
