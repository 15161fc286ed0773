package pointstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// File extensions recognized by OpenFile and CreateFile.
const (
	ExtArrowStream = ".arrow_stream"
	ExtArrow       = ".arrow"
	ExtParquet     = ".parquet"
)

// ErrUnknownFormat is returned for a path whose extension names no format.
var ErrUnknownFormat = errors.New("unknown point stream format")

// Source yields batches strictly in stream order. Next returns io.EOF once the
// stream is exhausted. A Source cannot be rewound; open a fresh one instead.
type Source interface {
	Next(ctx context.Context) (*Batch, error)
	Close() error
}

// Sink writes batches in order.
type Sink interface {
	Write(b *Batch) error
	Close() error
}

// SliceSource serves batches from memory.
type SliceSource struct {
	batches []*Batch
	pos     int
}

// NewSliceSource creates a source over batches. Seq is assigned by position.
func NewSliceSource(batches ...*Batch) *SliceSource {
	for i, b := range batches {
		b.Seq = i
	}

	return &SliceSource{batches: batches}
}

// Next implements Source.
func (s *SliceSource) Next(ctx context.Context) (*Batch, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	if s.pos >= len(s.batches) {
		return nil, io.EOF
	}

	b := s.batches[s.pos]
	s.pos++

	return b, nil
}

// Close implements Source.
func (s *SliceSource) Close() error { return nil }

// Options configures file-backed sources.
type Options struct {
	// BatchRows is the number of rows per batch for formats without native
	// batches (Parquet). Zero selects DefaultBatchRows.
	BatchRows int
}

// DefaultBatchRows is the Parquet read chunk size.
const DefaultBatchRows = 64 * 1024

// Format returns the normalized extension of path, or an error.
func Format(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ExtArrowStream, ExtArrow, ExtParquet:
		return ext, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, path)
	}
}

// OpenFile opens a point stream file, choosing the reader by extension.
func OpenFile(path string, opts Options) (Source, error) {
	format, err := Format(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open point stream: %w", err)
	}

	var src Source

	switch format {
	case ExtParquet:
		src, err = newParquetFileSource(f, opts.BatchRows)
	default:
		src, err = newArrowSource(f, f)
	}

	if err != nil {
		return nil, errors.Join(err, f.Close())
	}

	return src, nil
}

// CreateFile creates a point stream file, choosing the writer by extension.
func CreateFile(path string) (Sink, error) {
	format, err := Format(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create point stream: %w", err)
	}

	if format == ExtParquet {
		sink, err := newParquetSink(f, f)
		if err != nil {
			return nil, errors.Join(err, f.Close())
		}

		return sink, nil
	}

	return newArrowSink(f, f), nil
}
