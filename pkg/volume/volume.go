// Package volume holds sparse per-channel 3D intensity volumes: a builder that
// merges coordinate samples under a collision policy, and the immutable volume
// it finalizes into.
package volume

import (
	"cmp"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
)

// DefaultMaxDenseElements caps Dense so a misconfigured shape cannot allocate
// the whole address space. 1<<28 float64 values is 2 GiB.
const DefaultMaxDenseElements = 1 << 28

// Sentinel errors.
var (
	ErrOutOfBounds   = errors.New("coordinate out of bounds")
	ErrEmptyShape    = errors.New("shape dimensions must be positive")
	ErrDenseTooLarge = errors.New("dense volume too large")
)

// Coord is a voxel position.
type Coord struct {
	X uint32 `json:"x"`
	Y uint32 `json:"y"`
	Z uint32 `json:"z"`
}

// String formats the coordinate as (x, y, z).
func (c Coord) String() string {
	return fmt.Sprintf("(%d, %d, %d)", c.X, c.Y, c.Z)
}

// Compare orders coordinates by X, then Y, then Z.
func (c Coord) Compare(o Coord) int {
	return cmp.Or(
		cmp.Compare(c.X, o.X),
		cmp.Compare(c.Y, o.Y),
		cmp.Compare(c.Z, o.Z),
	)
}

// Shape is the declared dense extent of a volume.
type Shape struct {
	Rows    uint32 `json:"rows"`
	Columns uint32 `json:"columns"`
	Planes  uint32 `json:"planes"`
}

// String formats the shape as rows x columns x planes.
func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Rows, s.Columns, s.Planes)
}

// Validate rejects shapes with a zero dimension.
func (s Shape) Validate() error {
	if s.Rows == 0 || s.Columns == 0 || s.Planes == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyShape, s)
	}

	return nil
}

// Contains reports whether c lies inside the shape.
func (s Shape) Contains(c Coord) bool {
	return c.X < s.Rows && c.Y < s.Columns && c.Z < s.Planes
}

// Elements returns the number of voxels in the dense form.
func (s Shape) Elements() uint64 {
	return uint64(s.Rows) * uint64(s.Columns) * uint64(s.Planes)
}

// Offset returns the row-major index of c in the dense form.
func (s Shape) Offset(c Coord) uint64 {
	return uint64(c.X)*uint64(s.Columns)*uint64(s.Planes) + uint64(c.Y)*uint64(s.Planes) + uint64(c.Z)
}

// Sample is one coordinate/value pair extracted from a point stream.
type Sample struct {
	Coord Coord
	Value float64
}

// OutOfBoundsError reports a coordinate outside the declared shape.
type OutOfBoundsError struct {
	Channel uint8
	Coord   Coord
	Shape   Shape
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("channel %d: coordinate %s outside shape %s", e.Channel, e.Coord, e.Shape)
}

// Is matches ErrOutOfBounds.
func (e *OutOfBoundsError) Is(target error) bool {
	return target == ErrOutOfBounds
}

// Volume is a finalized, immutable sparse volume for one channel.
type Volume struct {
	channel uint8
	shape   Shape
	values  map[Coord]float64
}

// New builds a volume directly from a map, checking every coordinate. The map
// is copied.
func New(channel uint8, shape Shape, values map[Coord]float64) (*Volume, error) {
	for c := range values {
		if !shape.Contains(c) {
			return nil, &OutOfBoundsError{Channel: channel, Coord: c, Shape: shape}
		}
	}

	return &Volume{channel: channel, shape: shape, values: maps.Clone(values)}, nil
}

// Channel returns the detector channel the volume was reconstructed for.
func (v *Volume) Channel() uint8 { return v.channel }

// Shape returns the declared dense shape.
func (v *Volume) Shape() Shape { return v.shape }

// Len returns the number of stored coordinates.
func (v *Volume) Len() int { return len(v.values) }

// At returns the value at c, zero when c is not stored.
func (v *Volume) At(c Coord) float64 { return v.values[c] }

// Lookup returns the value at c and whether it is stored.
func (v *Volume) Lookup(c Coord) (float64, bool) {
	val, ok := v.values[c]

	return val, ok
}

// All iterates stored coordinates in unspecified order.
func (v *Volume) All() iter.Seq2[Coord, float64] {
	return maps.All(v.values)
}

// Coords returns the stored coordinates in ascending order.
func (v *Volume) Coords() []Coord {
	return slices.SortedFunc(maps.Keys(v.values), Coord.Compare)
}

// Sum returns the total of all stored values.
func (v *Volume) Sum() float64 {
	var total float64
	for _, val := range v.values {
		total += val
	}

	return total
}

// Dense expands the volume into a row-major slice of Shape().Elements()
// values, offset x*Columns*Planes + y*Planes + z. Unstored voxels are zero.
func (v *Volume) Dense() ([]float64, error) {
	return v.DenseLimit(DefaultMaxDenseElements)
}

// DenseLimit is Dense with an explicit element cap.
func (v *Volume) DenseLimit(maxElements uint64) ([]float64, error) {
	n := v.shape.Elements()
	if n > maxElements {
		return nil, fmt.Errorf("%w: %s is %d elements, limit %d", ErrDenseTooLarge, v.shape, n, maxElements)
	}

	out := make([]float64, n)
	for c, val := range v.values {
		out[v.shape.Offset(c)] = val
	}

	return out, nil
}
