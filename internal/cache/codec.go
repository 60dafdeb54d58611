package cache

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/nvandessel/pvnav/internal/shape"
)

// Payloads are Arrow IPC streams. Float64 columns are stored as-is, so
// decoding reproduces the encoded values bit for bit.

const (
	metaKind     = "pvnav.kind"
	metaSection  = "pvnav.section"
	metaDistance = "pvnav.distance"

	kindShape = "shape"
	kindAP    = "ap_series"

	fieldTime   = "time"
	fieldSite   = "site"
	fieldCounts = "counts"
	fieldMulti  = "multi"
)

var alloc memory.Allocator = memory.NewGoAllocator()

func writeIPC(schema *arrow.Schema, rec arrow.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(alloc))
	if err := w.Write(rec); err != nil {
		w.Close()
		return nil, fmt.Errorf("writing record batch: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing ipc writer: %w", err)
	}
	return buf.Bytes(), nil
}

// readIPC checks that an IPC stream holds a table of the given kind, passes
// its schema to onSchema and then calls fn for every record batch.
func readIPC(data []byte, kind string, onSchema func(*arrow.Schema) error, fn func(arrow.Record) error) error {
	r, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(alloc))
	if err != nil {
		return fmt.Errorf("opening ipc stream: %w", err)
	}
	defer r.Release()

	schema := r.Schema()
	md := schema.Metadata()
	if i := md.FindKey(metaKind); i < 0 || md.Values()[i] != kind {
		return fmt.Errorf("payload is not a %s table", kind)
	}
	if onSchema != nil {
		if err := onSchema(schema); err != nil {
			return err
		}
	}

	for r.Next() {
		if err := fn(r.Record()); err != nil {
			return err
		}
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("reading record batch: %w", err)
	}
	return nil
}

func schemaMeta(kind string) *arrow.Metadata {
	md := arrow.NewMetadata([]string{metaKind}, []string{kind})
	return &md
}

// EncodeShape encodes a wide shape table. The first column is time; each
// location column carries its section and distance as field metadata.
func EncodeShape(w *shape.Wide) ([]byte, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	fields := make([]arrow.Field, 0, len(w.Columns)+1)
	fields = append(fields, arrow.Field{Name: fieldTime, Type: arrow.PrimitiveTypes.Float64})
	for i, loc := range w.Columns {
		fields = append(fields, arrow.Field{
			Name: "c" + strconv.Itoa(i),
			Type: arrow.PrimitiveTypes.Float64,
			Metadata: arrow.NewMetadata(
				[]string{metaSection, metaDistance},
				[]string{loc.Section, strconv.FormatFloat(loc.Distance, 'g', -1, 64)},
			),
		})
	}
	schema := arrow.NewSchema(fields, schemaMeta(kindShape))

	b := array.NewRecordBuilder(alloc, schema)
	defer b.Release()

	b.Field(0).(*array.Float64Builder).AppendValues(w.Time, nil)
	for i, col := range w.Values {
		b.Field(i+1).(*array.Float64Builder).AppendValues(col, nil)
	}

	rec := b.NewRecord()
	defer rec.Release()
	return writeIPC(schema, rec)
}

// DecodeShape decodes a table written by EncodeShape.
func DecodeShape(data []byte) (*shape.Wide, error) {
	var (
		locs []shape.Location
		time []float64
		cols [][]float64
	)
	onSchema := func(schema *arrow.Schema) error {
		var err error
		locs, err = shapeLocations(schema)
		cols = make([][]float64, len(locs))
		return err
	}
	err := readIPC(data, kindShape, onSchema, func(rec arrow.Record) error {
		if int(rec.NumCols()) != len(locs)+1 {
			return fmt.Errorf("record has %d columns, schema %d", rec.NumCols(), len(locs)+1)
		}
		for i := 0; i < int(rec.NumCols()); i++ {
			vals, ok := rec.Column(i).(*array.Float64)
			if !ok {
				return fmt.Errorf("column %d is %s, want float64", i, rec.Column(i).DataType())
			}
			if i == 0 {
				time = append(time, vals.Float64Values()...)
			} else {
				cols[i-1] = append(cols[i-1], vals.Float64Values()...)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decoding shape table: %w", err)
	}

	w := shape.NewWide(time)
	for i, loc := range locs {
		if err := w.Add(loc, cols[i]); err != nil {
			return nil, fmt.Errorf("decoding shape table: %w", err)
		}
	}
	return w, nil
}

func shapeLocations(schema *arrow.Schema) ([]shape.Location, error) {
	fields := schema.Fields()
	if len(fields) == 0 || fields[0].Name != fieldTime {
		return nil, fmt.Errorf("missing %s column", fieldTime)
	}
	locs := make([]shape.Location, 0, len(fields)-1)
	for _, f := range fields[1:] {
		si, di := f.Metadata.FindKey(metaSection), f.Metadata.FindKey(metaDistance)
		if si < 0 || di < 0 {
			return nil, fmt.Errorf("column %s has no location metadata", f.Name)
		}
		d, err := strconv.ParseFloat(f.Metadata.Values()[di], 64)
		if err != nil {
			return nil, fmt.Errorf("column %s distance: %w", f.Name, err)
		}
		locs = append(locs, shape.Location{Section: f.Metadata.Values()[si], Distance: d})
	}
	return locs, nil
}

var apSchema = arrow.NewSchema([]arrow.Field{
	{Name: fieldSite, Type: arrow.BinaryTypes.String},
	{Name: fieldCounts, Type: arrow.ListOf(arrow.PrimitiveTypes.Int64)},
	{Name: fieldMulti, Type: arrow.FixedWidthTypes.Boolean},
}, schemaMeta(kindAP))

// EncodeAPSeries encodes a flattened AP-count series, one row per site.
func EncodeAPSeries(s APSeries) ([]byte, error) {
	b := array.NewRecordBuilder(alloc, apSchema)
	defer b.Release()

	sites := b.Field(0).(*array.StringBuilder)
	lists := b.Field(1).(*array.ListBuilder)
	counts := lists.ValueBuilder().(*array.Int64Builder)
	multi := b.Field(2).(*array.BooleanBuilder)

	for _, sc := range s {
		sites.Append(sc.Site)
		lists.Append(true)
		for _, n := range sc.Counts {
			counts.Append(int64(n))
		}
		multi.Append(sc.Multi)
	}

	rec := b.NewRecord()
	defer rec.Release()
	return writeIPC(apSchema, rec)
}

// DecodeAPSeries decodes a series written by EncodeAPSeries.
func DecodeAPSeries(data []byte) (APSeries, error) {
	out := APSeries{}
	err := readIPC(data, kindAP, nil, func(rec arrow.Record) error {
		if rec.NumCols() != 3 {
			return fmt.Errorf("expected 3 columns, got %d", rec.NumCols())
		}
		sites, ok1 := rec.Column(0).(*array.String)
		lists, ok2 := rec.Column(1).(*array.List)
		multi, ok3 := rec.Column(2).(*array.Boolean)
		if !ok1 || !ok2 || !ok3 {
			return fmt.Errorf("unexpected column types")
		}
		values, ok := lists.ListValues().(*array.Int64)
		if !ok {
			return fmt.Errorf("counts are %s, want int64", lists.ListValues().DataType())
		}
		raw := values.Int64Values()

		for i := 0; i < sites.Len(); i++ {
			start, end := lists.ValueOffsets(i)
			counts := make([]int, 0, end-start)
			for _, n := range raw[start:end] {
				counts = append(counts, int(n))
			}
			out = append(out, SiteCount{Site: sites.Value(i), Counts: counts, Multi: multi.Value(i)})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decoding AP series: %w", err)
	}
	return out, nil
}
