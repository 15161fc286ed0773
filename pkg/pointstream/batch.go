// Package pointstream reads and writes columnar point streams: batches of
// (channel, x, y, z, color) records as written by the volumetric renderer,
// stored as Arrow IPC streams or Parquet files.
package pointstream

import (
	"errors"
	"fmt"
)

// Column names of the point schema.
const (
	ColumnChannel = "channel"
	ColumnX       = "x"
	ColumnY       = "y"
	ColumnZ       = "z"
	ColumnColor   = "color"
	ColumnR       = "color.r"
	ColumnG       = "color.g"
	ColumnB       = "color.b"
)

// SchemaBatch marks a MalformedBatchError raised while resolving the stream
// schema, before any batch was read.
const SchemaBatch = -1

// ErrMalformedBatch matches every *MalformedBatchError.
var ErrMalformedBatch = errors.New("malformed batch")

// MalformedBatchError reports a batch that violates the point schema.
type MalformedBatchError struct {
	Batch  int
	Column string
	Reason string
}

func (e *MalformedBatchError) Error() string {
	if e.Batch == SchemaBatch {
		return fmt.Sprintf("malformed stream schema: column %q: %s", e.Column, e.Reason)
	}

	return fmt.Sprintf("malformed batch %d: column %q: %s", e.Batch, e.Column, e.Reason)
}

// Is matches ErrMalformedBatch.
func (e *MalformedBatchError) Is(target error) bool {
	return target == ErrMalformedBatch
}

// Batch is one columnar chunk of point records. Every column has one entry per
// row. R is the authoritative intensity; G and B may be nil when a source does
// not carry them, otherwise they must match the row count.
type Batch struct {
	// Seq is the zero-based position of the batch in its stream.
	Seq int

	Channel []uint8
	X       []uint32
	Y       []uint32
	Z       []uint32
	R       []float32
	G       []float32
	B       []float32
}

// Len returns the number of rows, as given by the channel column.
func (b *Batch) Len() int {
	return len(b.Channel)
}

// Validate checks that all columns agree in length.
func (b *Batch) Validate() error {
	n := len(b.Channel)

	required := []struct {
		name string
		len  int
	}{
		{ColumnX, len(b.X)},
		{ColumnY, len(b.Y)},
		{ColumnZ, len(b.Z)},
		{ColumnR, len(b.R)},
	}

	for _, col := range required {
		if col.len != n {
			return b.lengthError(col.name, col.len, n)
		}
	}

	if b.G != nil && len(b.G) != n {
		return b.lengthError(ColumnG, len(b.G), n)
	}

	if b.B != nil && len(b.B) != n {
		return b.lengthError(ColumnB, len(b.B), n)
	}

	return nil
}

func (b *Batch) lengthError(column string, got, want int) error {
	reason := fmt.Sprintf("length %d, channel column has %d", got, want)
	if got == 0 {
		reason = fmt.Sprintf("missing, channel column has %d rows", want)
	}

	return &MalformedBatchError{Batch: b.Seq, Column: column, Reason: reason}
}

// Append adds one row. It is meant for building batches by hand.
func (b *Batch) Append(channel uint8, x, y, z uint32, value float32) {
	b.Channel = append(b.Channel, channel)
	b.X = append(b.X, x)
	b.Y = append(b.Y, y)
	b.Z = append(b.Z, z)
	b.R = append(b.R, value)
	b.G = append(b.G, value)
	b.B = append(b.B, value)
}
