package safeconv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInt64(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(0), Int64(0))
	assert.Equal(t, int64(42), Int64(42))
	assert.Equal(t, int64(math.MaxInt64), Int64(math.MaxInt64))
	assert.Equal(t, int64(math.MaxInt64), Int64(math.MaxUint64))
}

func TestMustUint8(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint8(7), MustUint8(7))
	assert.Equal(t, uint8(math.MaxUint8), MustUint8(math.MaxUint8))

	assert.PanicsWithValue(t, "safeconv: int to uint8 out of bounds", func() {
		MustUint8(256)
	})
	assert.Panics(t, func() { MustUint8(-1) })
}
