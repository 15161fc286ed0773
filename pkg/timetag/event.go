// Package timetag defines the time-tag events delivered by a time-correlated
// single-photon counting driver, and a simulated driver that produces them.
package timetag

import (
	"errors"
	"fmt"
	"slices"
)

// EventType classifies a time tag. Values match the instrument wire encoding.
type EventType uint8

// Event types.
const (
	TimeTag       EventType = 0
	Error         EventType = 1
	OverflowBegin EventType = 2
	OverflowEnd   EventType = 3
	MissedEvents  EventType = 4
)

// String returns the lower-case name of the event type.
func (t EventType) String() string {
	switch t {
	case TimeTag:
		return "time_tag"
	case Error:
		return "error"
	case OverflowBegin:
		return "overflow_begin"
	case OverflowEnd:
		return "overflow_end"
	case MissedEvents:
		return "missed_events"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Event is a single time tag. Time is in picoseconds.
type Event struct {
	Type         EventType
	MissedEvents uint16
	Channel      int32
	Time         int64
}

// BatchHandler consumes ordered event batches. The events slice is only valid
// for the duration of the call; implementations must copy anything they retain.
// begin and end delimit the acquisition window of the batch, in picoseconds.
type BatchHandler interface {
	OnBatch(events []Event, begin, end int64) error
}

// ErrColumnLength is returned when driver columns disagree in length.
var ErrColumnLength = errors.New("time tag columns differ in length")

// FromColumns zips the driver's per-field arrays into events, appending to dst.
func FromColumns(dst []Event, types []uint8, missed []uint16, channels []int32, times []int64) ([]Event, error) {
	n := len(types)
	if len(missed) != n || len(channels) != n || len(times) != n {
		return dst, fmt.Errorf("%w: type=%d missed_events=%d channel=%d time=%d",
			ErrColumnLength, n, len(missed), len(channels), len(times))
	}

	dst = slices.Grow(dst, n)

	for i := range n {
		dst = append(dst, Event{
			Type:         EventType(types[i]),
			MissedEvents: missed[i],
			Channel:      channels[i],
			Time:         times[i],
		})
	}

	return dst, nil
}
