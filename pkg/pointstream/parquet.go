package pointstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"
)

type pointColor struct {
	R float32 `parquet:"r"`
	G float32 `parquet:"g"`
	B float32 `parquet:"b"`
}

// pointRow is the Parquet row layout. Color is a nested group so column paths
// mirror the Arrow schema.
type pointRow struct {
	Channel uint8      `parquet:"channel"`
	X       uint32     `parquet:"x"`
	Y       uint32     `parquet:"y"`
	Z       uint32     `parquet:"z"`
	Color   pointColor `parquet:"color"`
}

func (r pointRow) point() (uint8, uint32, uint32, uint32, pointColor) {
	return r.Channel, r.X, r.Y, r.Z, r.Color
}

type intensity struct {
	R float32 `parquet:"r"`
}

// intensityRow reads files whose color group lacks usable g and b columns.
type intensityRow struct {
	Channel uint8     `parquet:"channel"`
	X       uint32    `parquet:"x"`
	Y       uint32    `parquet:"y"`
	Z       uint32    `parquet:"z"`
	Color   intensity `parquet:"color"`
}

func (r intensityRow) point() (uint8, uint32, uint32, uint32, pointColor) {
	return r.Channel, r.X, r.Y, r.Z, pointColor{R: r.Color.R}
}

type parquetRecord interface {
	pointRow | intensityRow
	point() (uint8, uint32, uint32, uint32, pointColor)
}

var pointSchema = parquet.SchemaOf(pointRow{})

type parquetColumn struct {
	path     []string
	optional bool
}

var parquetColumns = []parquetColumn{
	{path: []string{ColumnChannel}},
	{path: []string{ColumnX}},
	{path: []string{ColumnY}},
	{path: []string{ColumnZ}},
	{path: []string{ColumnColor, "r"}},
	{path: []string{ColumnColor, "g"}, optional: true},
	{path: []string{ColumnColor, "b"}, optional: true},
}

// checkParquetSchema matches every point column against the written layout,
// logical type included, so no value is converted on read. It reports whether
// both g and b are usable; otherwise they are skipped like in the Arrow path.
func checkParquetSchema(schema *parquet.Schema) (bool, error) {
	rgb := true

	for _, col := range parquetColumns {
		name := strings.Join(col.path, ".")
		want, _ := pointSchema.Lookup(col.path...)

		got, ok := schema.Lookup(col.path...)
		if !ok {
			if col.optional {
				rgb = false

				continue
			}

			return false, schemaError(name, "missing")
		}

		if got.Node.Repeated() {
			return false, schemaError(name, "repeated")
		}

		gotType, wantType := got.Node.Type(), want.Node.Type()
		if gotType.Kind() != wantType.Kind() || gotType.String() != wantType.String() {
			if col.optional {
				rgb = false

				continue
			}

			return false, schemaError(name, "type %s, want %s", gotType, wantType)
		}
	}

	return rgb, nil
}

type batchReader interface {
	read(seq int) (*Batch, error)
	Close() error
}

type rowReader[T parquetRecord] struct {
	rdr  *parquet.GenericReader[T]
	buf  []T
	rgb  bool
	done bool
}

func newRowReader[T parquetRecord](r io.ReaderAt, size int64, batchRows int, rgb bool) *rowReader[T] {
	return &rowReader[T]{
		rdr: parquet.NewGenericReader[T](io.NewSectionReader(r, 0, size)),
		buf: make([]T, batchRows),
		rgb: rgb,
	}
}

func (rr *rowReader[T]) read(seq int) (*Batch, error) {
	if rr.done {
		return nil, io.EOF
	}

	n, err := rr.rdr.Read(rr.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read parquet batch %d: %w", seq, err)
	}

	if errors.Is(err, io.EOF) {
		rr.done = true
	}

	if n == 0 {
		return nil, io.EOF
	}

	b := &Batch{
		Seq:     seq,
		Channel: make([]uint8, n),
		X:       make([]uint32, n),
		Y:       make([]uint32, n),
		Z:       make([]uint32, n),
		R:       make([]float32, n),
	}

	if rr.rgb {
		b.G, b.B = make([]float32, n), make([]float32, n)
	}

	for i, row := range rr.buf[:n] {
		var c pointColor

		b.Channel[i], b.X[i], b.Y[i], b.Z[i], c = row.point()
		b.R[i] = c.R

		if rr.rgb {
			b.G[i], b.B[i] = c.G, c.B
		}
	}

	return b, nil
}

func (rr *rowReader[T]) Close() error {
	return rr.rdr.Close()
}

// ParquetSource reads a Parquet point file in fixed-size row chunks.
type ParquetSource struct {
	rows   batchReader
	closer io.Closer
	seq    int
}

// NewParquetSource reads a Parquet file of the given size from r. The file
// schema is checked for every point column before any row is read. Files
// without float g and b columns yield batches with nil G and B.
func NewParquetSource(r io.ReaderAt, size int64, batchRows int) (*ParquetSource, error) {
	return newParquetSource(r, size, batchRows, nil)
}

func newParquetFileSource(f *os.File, batchRows int) (*ParquetSource, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat parquet file: %w", err)
	}

	return newParquetSource(f, info.Size(), batchRows, f)
}

func newParquetSource(r io.ReaderAt, size int64, batchRows int, closer io.Closer) (*ParquetSource, error) {
	if batchRows <= 0 {
		batchRows = DefaultBatchRows
	}

	file, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}

	rgb, err := checkParquetSchema(file.Schema())
	if err != nil {
		return nil, err
	}

	src := &ParquetSource{closer: closer}
	if rgb {
		src.rows = newRowReader[pointRow](r, size, batchRows, true)
	} else {
		src.rows = newRowReader[intensityRow](r, size, batchRows, false)
	}

	return src, nil
}

// Next implements Source.
func (s *ParquetSource) Next(ctx context.Context) (*Batch, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	b, err := s.rows.read(s.seq)
	if err != nil {
		return nil, err
	}

	s.seq++

	return b, nil
}

// Close releases the reader and the underlying file, if any.
func (s *ParquetSource) Close() error {
	err := s.rows.Close()
	if s.closer != nil {
		err = errors.Join(err, s.closer.Close())
	}

	return err
}

// ParquetWriter writes batches as Parquet rows, zstd compressed.
type ParquetWriter struct {
	w      *parquet.GenericWriter[pointRow]
	closer io.Closer
	rows   []pointRow
}

// NewParquetWriter writes a Parquet file to w.
func NewParquetWriter(w io.Writer) (*ParquetWriter, error) {
	return newParquetSink(w, nil)
}

func newParquetSink(w io.Writer, closer io.Closer) (*ParquetWriter, error) {
	wc, err := parquet.NewWriterConfig(pointSchema, parquet.Compression(&parquet.Zstd))
	if err != nil {
		return nil, fmt.Errorf("parquet writer config: %w", err)
	}

	return &ParquetWriter{
		w:      parquet.NewGenericWriter[pointRow](w, wc),
		closer: closer,
	}, nil
}

// Write implements Sink. Missing G or B columns are written as copies of R.
func (pw *ParquetWriter) Write(b *Batch) error {
	err := b.Validate()
	if err != nil {
		return err
	}

	g, bl := orColumn(b.G, b.R), orColumn(b.B, b.R)

	pw.rows = pw.rows[:0]
	for i := range b.Len() {
		pw.rows = append(pw.rows, pointRow{
			Channel: b.Channel[i],
			X:       b.X[i],
			Y:       b.Y[i],
			Z:       b.Z[i],
			Color:   pointColor{R: b.R[i], G: g[i], B: bl[i]},
		})
	}

	_, err = pw.w.Write(pw.rows)
	if err != nil {
		return fmt.Errorf("write parquet batch: %w", err)
	}

	return nil
}

// Close writes the footer and closes the underlying file, if any.
func (pw *ParquetWriter) Close() error {
	err := pw.w.Close()
	if err != nil {
		err = fmt.Errorf("close parquet file: %w", err)
	}

	if pw.closer != nil {
		err = errors.Join(err, pw.closer.Close())
	}

	return err
}
