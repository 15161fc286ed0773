package pointstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

var colorType = arrow.StructOf(
	arrow.Field{Name: "r", Type: arrow.PrimitiveTypes.Float32},
	arrow.Field{Name: "g", Type: arrow.PrimitiveTypes.Float32},
	arrow.Field{Name: "b", Type: arrow.PrimitiveTypes.Float32},
)

// ArrowSchema returns the point schema as written by the renderer.
func ArrowSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: ColumnChannel, Type: arrow.PrimitiveTypes.Uint8},
		{Name: ColumnX, Type: arrow.PrimitiveTypes.Uint32},
		{Name: ColumnY, Type: arrow.PrimitiveTypes.Uint32},
		{Name: ColumnZ, Type: arrow.PrimitiveTypes.Uint32},
		{Name: ColumnColor, Type: colorType},
	}, nil)
}

// arrowLayout holds resolved column positions. Fields are looked up by name so
// extra columns and reordered schemas are tolerated.
type arrowLayout struct {
	channel, x, y, z, color int
	r, g, b                 int // Within color; g and b are -1 when absent.
}

func resolveArrowLayout(schema *arrow.Schema) (arrowLayout, error) {
	var l arrowLayout

	top := []struct {
		name string
		dst  *int
		typ  arrow.DataType
	}{
		{ColumnChannel, &l.channel, arrow.PrimitiveTypes.Uint8},
		{ColumnX, &l.x, arrow.PrimitiveTypes.Uint32},
		{ColumnY, &l.y, arrow.PrimitiveTypes.Uint32},
		{ColumnZ, &l.z, arrow.PrimitiveTypes.Uint32},
	}

	for _, col := range top {
		idx, err := fieldIndex(schema, col.name)
		if err != nil {
			return l, err
		}

		if !arrow.TypeEqual(schema.Field(idx).Type, col.typ) {
			return l, schemaError(col.name, "type %s, want %s", schema.Field(idx).Type, col.typ)
		}

		*col.dst = idx
	}

	idx, err := fieldIndex(schema, ColumnColor)
	if err != nil {
		return l, err
	}

	st, ok := schema.Field(idx).Type.(*arrow.StructType)
	if !ok {
		return l, schemaError(ColumnColor, "type %s, want struct", schema.Field(idx).Type)
	}

	l.color = idx

	l.r, ok = st.FieldIdx("r")
	if !ok {
		return l, schemaError(ColumnR, "missing")
	}

	l.g = optionalFloatField(st, "g")
	l.b = optionalFloatField(st, "b")

	if !arrow.TypeEqual(st.Field(l.r).Type, arrow.PrimitiveTypes.Float32) {
		return l, schemaError(ColumnR, "type %s, want float32", st.Field(l.r).Type)
	}

	return l, nil
}

func fieldIndex(schema *arrow.Schema, name string) (int, error) {
	indices := schema.FieldIndices(name)
	switch len(indices) {
	case 0:
		return 0, schemaError(name, "missing")
	case 1:
		return indices[0], nil
	default:
		return 0, schemaError(name, "appears %d times", len(indices))
	}
}

func optionalFloatField(st *arrow.StructType, name string) int {
	idx, ok := st.FieldIdx(name)
	if !ok || !arrow.TypeEqual(st.Field(idx).Type, arrow.PrimitiveTypes.Float32) {
		return -1
	}

	return idx
}

func schemaError(column, format string, args ...any) error {
	return &MalformedBatchError{Batch: SchemaBatch, Column: column, Reason: fmt.Sprintf(format, args...)}
}

// ArrowSource reads an Arrow IPC stream, one batch per record batch.
type ArrowSource struct {
	rdr    *ipc.Reader
	closer io.Closer
	layout arrowLayout
	seq    int
}

// NewArrowSource reads an Arrow IPC stream from r. The schema is checked
// before the first batch.
func NewArrowSource(r io.Reader) (*ArrowSource, error) {
	return newArrowSource(r, nil)
}

func newArrowSource(r io.Reader, closer io.Closer) (*ArrowSource, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("open arrow stream: %w", err)
	}

	layout, err := resolveArrowLayout(rdr.Schema())
	if err != nil {
		rdr.Release()

		return nil, err
	}

	return &ArrowSource{rdr: rdr, closer: closer, layout: layout}, nil
}

// Next implements Source. The returned batch owns its memory.
func (s *ArrowSource) Next(ctx context.Context) (*Batch, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	if !s.rdr.Next() {
		err = s.rdr.Err()
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read arrow batch %d: %w", s.seq, err)
		}

		return nil, io.EOF
	}

	b, err := s.convert(s.rdr.Record())
	s.seq++

	if err != nil {
		return nil, err
	}

	return b, nil
}

func (s *ArrowSource) convert(rec arrow.Record) (*Batch, error) {
	b := &Batch{Seq: s.seq}
	l := s.layout

	var err error

	b.Channel, err = uint8Column(b.Seq, ColumnChannel, rec.Column(l.channel))
	if err != nil {
		return nil, err
	}

	for _, col := range []struct {
		name string
		idx  int
		dst  *[]uint32
	}{
		{ColumnX, l.x, &b.X},
		{ColumnY, l.y, &b.Y},
		{ColumnZ, l.z, &b.Z},
	} {
		*col.dst, err = uint32Column(b.Seq, col.name, rec.Column(col.idx))
		if err != nil {
			return nil, err
		}
	}

	color, ok := rec.Column(l.color).(*array.Struct)
	if !ok {
		return nil, &MalformedBatchError{Batch: b.Seq, Column: ColumnColor, Reason: "not a struct array"}
	}

	if color.NullN() > 0 {
		return nil, &MalformedBatchError{Batch: b.Seq, Column: ColumnColor, Reason: "contains nulls"}
	}

	b.R, err = float32Column(b.Seq, ColumnR, color.Field(l.r))
	if err != nil {
		return nil, err
	}

	if l.g >= 0 {
		b.G, err = float32Column(b.Seq, ColumnG, color.Field(l.g))
		if err != nil {
			return nil, err
		}
	}

	if l.b >= 0 {
		b.B, err = float32Column(b.Seq, ColumnB, color.Field(l.b))
		if err != nil {
			return nil, err
		}
	}

	err = b.Validate()
	if err != nil {
		return nil, err
	}

	return b, nil
}

func uint8Column(seq int, name string, arr arrow.Array) ([]uint8, error) {
	typed, ok := arr.(*array.Uint8)
	if !ok {
		return nil, &MalformedBatchError{Batch: seq, Column: name, Reason: "type " + arr.DataType().String()}
	}

	if typed.NullN() > 0 {
		return nil, &MalformedBatchError{Batch: seq, Column: name, Reason: "contains nulls"}
	}

	return slices.Clone(typed.Uint8Values()), nil
}

func uint32Column(seq int, name string, arr arrow.Array) ([]uint32, error) {
	typed, ok := arr.(*array.Uint32)
	if !ok {
		return nil, &MalformedBatchError{Batch: seq, Column: name, Reason: "type " + arr.DataType().String()}
	}

	if typed.NullN() > 0 {
		return nil, &MalformedBatchError{Batch: seq, Column: name, Reason: "contains nulls"}
	}

	return slices.Clone(typed.Uint32Values()), nil
}

func float32Column(seq int, name string, arr arrow.Array) ([]float32, error) {
	typed, ok := arr.(*array.Float32)
	if !ok {
		return nil, &MalformedBatchError{Batch: seq, Column: name, Reason: "type " + arr.DataType().String()}
	}

	if typed.NullN() > 0 {
		return nil, &MalformedBatchError{Batch: seq, Column: name, Reason: "contains nulls"}
	}

	return slices.Clone(typed.Float32Values()), nil
}

// Close releases the reader and the underlying file, if any.
func (s *ArrowSource) Close() error {
	s.rdr.Release()

	if s.closer == nil {
		return nil
	}

	return s.closer.Close()
}

// ArrowWriter writes batches as an Arrow IPC stream.
type ArrowWriter struct {
	w      *ipc.Writer
	bld    *array.RecordBuilder
	closer io.Closer
}

// NewArrowWriter writes an Arrow IPC stream to w.
func NewArrowWriter(w io.Writer) *ArrowWriter {
	return newArrowSink(w, nil)
}

func newArrowSink(w io.Writer, closer io.Closer) *ArrowWriter {
	mem := memory.NewGoAllocator()
	schema := ArrowSchema()

	return &ArrowWriter{
		w:      ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem)),
		bld:    array.NewRecordBuilder(mem, schema),
		closer: closer,
	}
}

// Write implements Sink. Missing G or B columns are written as copies of R.
func (aw *ArrowWriter) Write(b *Batch) error {
	err := b.Validate()
	if err != nil {
		return err
	}

	aw.bld.Field(0).(*array.Uint8Builder).AppendValues(b.Channel, nil)
	aw.bld.Field(1).(*array.Uint32Builder).AppendValues(b.X, nil)
	aw.bld.Field(2).(*array.Uint32Builder).AppendValues(b.Y, nil)
	aw.bld.Field(3).(*array.Uint32Builder).AppendValues(b.Z, nil)

	color := aw.bld.Field(4).(*array.StructBuilder)
	for range b.Len() {
		color.Append(true)
	}

	color.FieldBuilder(0).(*array.Float32Builder).AppendValues(b.R, nil)
	color.FieldBuilder(1).(*array.Float32Builder).AppendValues(orColumn(b.G, b.R), nil)
	color.FieldBuilder(2).(*array.Float32Builder).AppendValues(orColumn(b.B, b.R), nil)

	rec := aw.bld.NewRecord()
	defer rec.Release()

	err = aw.w.Write(rec)
	if err != nil {
		return fmt.Errorf("write arrow batch: %w", err)
	}

	return nil
}

// Close flushes the stream end marker and closes the underlying file, if any.
func (aw *ArrowWriter) Close() error {
	aw.bld.Release()

	err := aw.w.Close()
	if err != nil {
		err = fmt.Errorf("close arrow stream: %w", err)
	}

	if aw.closer != nil {
		err = errors.Join(err, aw.closer.Close())
	}

	return err
}

func orColumn(col, fallback []float32) []float32 {
	if col != nil {
		return col
	}

	return fallback
}
