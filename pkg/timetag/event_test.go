package timetag_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tagvol/pkg/timetag"
)

func TestFromColumns_ZipsFields(t *testing.T) {
	t.Parallel()

	events, err := timetag.FromColumns(nil,
		[]uint8{0, 4},
		[]uint16{0, 17},
		[]int32{1, 2},
		[]int64{1000, 1500},
	)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, timetag.Event{Type: timetag.TimeTag, Channel: 1, Time: 1000}, events[0])
	assert.Equal(t, timetag.Event{Type: timetag.MissedEvents, MissedEvents: 17, Channel: 2, Time: 1500}, events[1])
}

func TestFromColumns_AppendsToDestination(t *testing.T) {
	t.Parallel()

	dst := []timetag.Event{{Channel: 9, Time: 1}}

	events, err := timetag.FromColumns(dst, []uint8{0}, []uint16{0}, []int32{3}, []int64{5})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int32(9), events[0].Channel)
	assert.Equal(t, int32(3), events[1].Channel)
}

func TestFromColumns_LengthMismatch(t *testing.T) {
	t.Parallel()

	_, err := timetag.FromColumns(nil, []uint8{0, 0}, []uint16{0}, []int32{1, 2}, []int64{1, 2})
	require.ErrorIs(t, err, timetag.ErrColumnLength)
}

func TestEventType_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "time_tag", timetag.TimeTag.String())
	assert.Equal(t, "overflow_begin", timetag.OverflowBegin.String())
	assert.Equal(t, "overflow_end", timetag.OverflowEnd.String())
	assert.Equal(t, "missed_events", timetag.MissedEvents.String())
	assert.Equal(t, "error", timetag.Error.String())
	assert.Equal(t, "unknown(9)", timetag.EventType(9).String())
}
