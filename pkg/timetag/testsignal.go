package timetag

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Test signal defaults. The stop delay mirrors the 2 ns input delay the
// instrument applies to the stop channel so stops land after their start.
const (
	DefaultSignalPeriod   = 12_500 // ps, 80 MHz.
	DefaultStopDelay      = 2_000  // ps.
	DefaultPairsPerBatch  = 1024
	DefaultBatchInterval  = 10 * time.Millisecond
	defaultJitterSeedMask = 0x9e3779b97f4a7c15
)

// Sentinel configuration errors.
var (
	ErrInvalidPeriod   = errors.New("test signal period must be positive")
	ErrInvalidDelay    = errors.New("test signal stop delay must not be negative")
	ErrInvalidJitter   = errors.New("test signal jitter must not be negative")
	ErrInvalidPairs    = errors.New("test signal pairs per batch must be positive")
	ErrInvalidInterval = errors.New("test signal batch interval must be positive")
	ErrSameChannel     = errors.New("start and stop channels must differ")
)

// TestSignalConfig describes the simulated start/stop signal.
type TestSignalConfig struct {
	StartChannel  int32
	StopChannel   int32
	Period        int64 // Picoseconds between consecutive start events.
	StopDelay     int64 // Picoseconds from a start to its stop.
	Jitter        int64 // Maximum absolute stop jitter in picoseconds.
	PairsPerBatch int
	BatchInterval time.Duration
}

// DefaultTestSignalConfig returns a signal on channels 1 (start) and 2 (stop).
func DefaultTestSignalConfig() TestSignalConfig {
	return TestSignalConfig{
		StartChannel:  1,
		StopChannel:   2,
		Period:        DefaultSignalPeriod,
		StopDelay:     DefaultStopDelay,
		PairsPerBatch: DefaultPairsPerBatch,
		BatchInterval: DefaultBatchInterval,
	}
}

// Validate checks the configuration.
func (c TestSignalConfig) Validate() error {
	switch {
	case c.Period <= 0:
		return fmt.Errorf("%w: %d", ErrInvalidPeriod, c.Period)
	case c.StopDelay < 0:
		return fmt.Errorf("%w: %d", ErrInvalidDelay, c.StopDelay)
	case c.Jitter < 0:
		return fmt.Errorf("%w: %d", ErrInvalidJitter, c.Jitter)
	case c.PairsPerBatch <= 0:
		return fmt.Errorf("%w: %d", ErrInvalidPairs, c.PairsPerBatch)
	case c.BatchInterval <= 0:
		return fmt.Errorf("%w: %s", ErrInvalidInterval, c.BatchInterval)
	case c.StartChannel == c.StopChannel:
		return fmt.Errorf("%w: %d", ErrSameChannel, c.StartChannel)
	}

	return nil
}

// TestSignal is a simulated driver emitting start/stop pairs. Only registered
// channels are transferred, as with the real instrument. Batches are delivered
// serially, so at most one OnBatch call is ever in flight.
type TestSignal struct {
	cfg   TestSignalConfig
	clock clockwork.Clock

	mu         sync.Mutex
	registered map[int32]bool
	now        int64
	seq        uint64
	buf        []Event
}

// TestSignalOption configures a TestSignal.
type TestSignalOption func(*TestSignal)

// WithClock sets the clock pacing batch delivery.
func WithClock(clock clockwork.Clock) TestSignalOption {
	return func(ts *TestSignal) {
		ts.clock = clock
	}
}

// NewTestSignal creates a simulated driver.
func NewTestSignal(cfg TestSignalConfig, opts ...TestSignalOption) (*TestSignal, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	ts := &TestSignal{
		cfg:        cfg,
		clock:      clockwork.NewRealClock(),
		registered: make(map[int32]bool),
	}

	for _, opt := range opts {
		opt(ts)
	}

	return ts, nil
}

// Register enables transfer of a channel's events.
func (ts *TestSignal) Register(channel int32) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.registered[channel] = true
}

// Unregister disables transfer of a channel's events.
func (ts *TestSignal) Unregister(channel int32) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	delete(ts.registered, channel)
}

// NextBatch generates the next batch of events in time order. The returned
// slice is reused by the following call.
func (ts *TestSignal) NextBatch() (events []Event, begin, end int64) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.buf = ts.buf[:0]
	begin = ts.now

	wantStart := ts.registered[ts.cfg.StartChannel]
	wantStop := ts.registered[ts.cfg.StopChannel]

	for range ts.cfg.PairsPerBatch {
		start := ts.now
		stop := start + ts.cfg.StopDelay + ts.jitter()
		ts.now += ts.cfg.Period

		if wantStart {
			ts.buf = append(ts.buf, Event{Type: TimeTag, Channel: ts.cfg.StartChannel, Time: start})
		}

		if wantStop {
			ts.buf = append(ts.buf, Event{Type: TimeTag, Channel: ts.cfg.StopChannel, Time: stop})
		}
	}

	slices.SortStableFunc(ts.buf, func(a, b Event) int {
		return cmp.Compare(a.Time, b.Time)
	})

	return ts.buf, begin, ts.now
}

// jitter returns a deterministic offset in [-Jitter, Jitter].
func (ts *TestSignal) jitter() int64 {
	if ts.cfg.Jitter == 0 {
		return 0
	}

	ts.seq++

	// splitmix64 step.
	z := ts.seq * defaultJitterSeedMask
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	z ^= z >> 31

	span := uint64(2*ts.cfg.Jitter + 1)

	return int64(z%span) - ts.cfg.Jitter
}

// Run delivers batches to handler every BatchInterval until ctx is done.
// It returns nil on cancellation and the handler's error otherwise.
func (ts *TestSignal) Run(ctx context.Context, handler BatchHandler) error {
	ticker := ts.clock.NewTicker(ts.cfg.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			events, begin, end := ts.NextBatch()

			err := handler.OnBatch(events, begin, end)
			if err != nil {
				return fmt.Errorf("deliver batch [%d, %d): %w", begin, end, err)
			}
		}
	}
}
