// Package geoparquet reads and writes result layers as GeoParquet 1.0 files:
// one WKB geometry column plus attribute columns, with the "geo" file
// metadata declaring the encoding and CRS.
package geoparquet

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/couchcryptid/heat-risk-etl/internal/domain"
	"github.com/couchcryptid/heat-risk-etl/internal/geo"
	"github.com/parquet-go/parquet-go"
	"github.com/paulmach/orb/encoding/wkb"
)

const (
	geoKey = "geo"
	dayKey = "heat_risk_day"

	version = "1.0.0"
)

// Metadata is the GeoParquet "geo" file metadata.
type Metadata struct {
	Version       string                    `json:"version"`
	PrimaryColumn string                    `json:"primary_column"`
	Columns       map[string]ColumnMetadata `json:"columns"`
}

// ColumnMetadata describes one geometry column.
type ColumnMetadata struct {
	Encoding      string    `json:"encoding"`
	GeometryTypes []string  `json:"geometry_types"`
	CRS           *ProjJSON `json:"crs,omitempty"`
	BBox          []float64 `json:"bbox,omitempty"`
}

// ProjJSON is the subset of a PROJJSON CRS the pipeline writes and reads.
type ProjJSON struct {
	Type string      `json:"type,omitempty"`
	Name string      `json:"name,omitempty"`
	ID   *Identifier `json:"id,omitempty"`
}

// Identifier is a PROJJSON authority code.
type Identifier struct {
	Authority string `json:"authority"`
	Code      int    `json:"code"`
}

var wgs84 = &ProjJSON{
	Type: "GeographicCRS",
	Name: "WGS 84",
	ID:   &Identifier{Authority: "EPSG", Code: 4326},
}

// Encode writes layer to w. Geometries must already be in EPSG:4326.
func Encode(w io.Writer, layer domain.ResultLayer) error {
	if layer.CRS != domain.CRSGeographic {
		return fmt.Errorf("encode: layer CRS is %q, want %s", layer.CRS, domain.CRSGeographic)
	}

	schema := buildSchema(layer.NumericColumns, layer.CategoricalColumns)
	index := columnIndex(schema)

	meta, err := json.Marshal(Metadata{
		Version:       version,
		PrimaryColumn: domain.GeometryColumn,
		Columns: map[string]ColumnMetadata{
			domain.GeometryColumn: {
				Encoding:      "WKB",
				GeometryTypes: []string{"Polygon", "MultiPolygon"},
				CRS:           wgs84,
				BBox:          bbox(layer.Records),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("encode geo metadata: %w", err)
	}

	opts := []parquet.WriterOption{schema, parquet.KeyValueMetadata(geoKey, string(meta))}
	if layer.Day != "" {
		opts = append(opts, parquet.KeyValueMetadata(dayKey, string(layer.Day)))
	}
	pw := parquet.NewWriter(w, opts...)

	rows := make([]parquet.Row, 0, len(layer.Records))
	for i, rec := range layer.Records {
		row, err := encodeRow(rec, layer, index)
		if err != nil {
			return fmt.Errorf("encode record %d: %w", i, err)
		}
		rows = append(rows, row)
	}
	if _, err := pw.WriteRows(rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

func buildSchema(numeric, categorical []string) *parquet.Schema {
	g := parquet.Group{
		domain.GeometryColumn:    parquet.Leaf(parquet.ByteArrayType),
		domain.RasterValueColumn: parquet.Leaf(parquet.Int32Type),
		domain.HighlightColumn:   parquet.Leaf(parquet.BooleanType),
	}
	for _, c := range numeric {
		g[domain.WeightedPrefix+c] = parquet.Optional(parquet.Leaf(parquet.DoubleType))
	}
	for _, c := range categorical {
		g[domain.DominantPrefix+c] = parquet.Optional(parquet.String())
	}
	return parquet.NewSchema("heat_risk", g)
}

// columnIndex maps a top-level column name to its leaf index in schema.
func columnIndex(schema *parquet.Schema) map[string]int {
	cols := schema.Columns()
	index := make(map[string]int, len(cols))
	for i, path := range cols {
		index[path[0]] = i
	}
	return index
}

func encodeRow(rec domain.WeightedPolygon, layer domain.ResultLayer, index map[string]int) (parquet.Row, error) {
	if rec.Geometry == nil {
		return nil, errors.New("record has no geometry")
	}
	b, err := wkb.Marshal(geo.ToOrb(rec.Geometry))
	if err != nil {
		return nil, fmt.Errorf("marshal WKB: %w", err)
	}
	if rec.Value < math.MinInt32 || rec.Value > math.MaxInt32 {
		return nil, fmt.Errorf("raster value %d overflows int32", rec.Value)
	}

	row := make(parquet.Row, len(index))
	row[index[domain.GeometryColumn]] = parquet.ValueOf(b).Level(0, 0, index[domain.GeometryColumn])
	row[index[domain.RasterValueColumn]] = parquet.ValueOf(int32(rec.Value)).Level(0, 0, index[domain.RasterValueColumn])
	row[index[domain.HighlightColumn]] = parquet.ValueOf(rec.Highlight).Level(0, 0, index[domain.HighlightColumn])
	for _, c := range layer.NumericColumns {
		col := index[domain.WeightedPrefix+c]
		if v, ok := rec.Weighted[c]; ok {
			row[col] = parquet.ValueOf(v).Level(0, 1, col)
		} else {
			row[col] = parquet.NullValue().Level(0, 0, col)
		}
	}
	for _, c := range layer.CategoricalColumns {
		col := index[domain.DominantPrefix+c]
		if v, ok := rec.Dominant[c]; ok {
			row[col] = parquet.ValueOf(v).Level(0, 1, col)
		} else {
			row[col] = parquet.NullValue().Level(0, 0, col)
		}
	}
	return row, nil
}

func bbox(records []domain.WeightedPolygon) []float64 {
	if len(records) == 0 {
		return nil
	}
	b := []float64{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, r := range records {
		if r.Geometry == nil {
			continue
		}
		rb := r.Geometry.Bounds()
		b[0] = math.Min(b[0], rb.Min.X)
		b[1] = math.Min(b[1], rb.Min.Y)
		b[2] = math.Max(b[2], rb.Max.X)
		b[3] = math.Max(b[3], rb.Max.Y)
	}
	if math.IsInf(b[0], 1) {
		return nil
	}
	return b
}

// Decode reads a file written by Encode, or any GeoParquet file whose primary
// geometry column is WKB polygons and whose other columns follow the
// weighted_/mode_ naming.
func Decode(data []byte) (domain.ResultLayer, error) {
	f, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return domain.ResultLayer{}, fmt.Errorf("open parquet: %w", err)
	}

	meta, err := ReadMetadata(f)
	if err != nil {
		return domain.ResultLayer{}, err
	}
	crs, err := meta.crs()
	if err != nil {
		return domain.ResultLayer{}, err
	}

	layer := domain.ResultLayer{CRS: crs}
	if day, ok := f.Lookup(dayKey); ok {
		layer.Day = domain.DayLabel(day)
	}

	var names []string
	for _, path := range f.Schema().Columns() {
		names = append(names, path[0])
	}
	for _, n := range names {
		switch {
		case strings.HasPrefix(n, domain.WeightedPrefix):
			layer.NumericColumns = append(layer.NumericColumns, strings.TrimPrefix(n, domain.WeightedPrefix))
		case strings.HasPrefix(n, domain.DominantPrefix):
			layer.CategoricalColumns = append(layer.CategoricalColumns, strings.TrimPrefix(n, domain.DominantPrefix))
		}
	}

	buf := make([]parquet.Row, 128)
	for _, rg := range f.RowGroups() {
		rows := rg.Rows()
		for {
			n, err := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				rec, derr := decodeRow(row, names, meta.PrimaryColumn)
				if derr != nil {
					rows.Close()
					return domain.ResultLayer{}, fmt.Errorf("decode row %d: %w", len(layer.Records), derr)
				}
				layer.Records = append(layer.Records, rec)
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				rows.Close()
				return domain.ResultLayer{}, fmt.Errorf("read rows: %w", err)
			}
		}
		if err := rows.Close(); err != nil {
			return domain.ResultLayer{}, fmt.Errorf("close rows: %w", err)
		}
	}
	return layer, nil
}

// ReadMetadata returns the "geo" metadata of an open file.
func ReadMetadata(f *parquet.File) (Metadata, error) {
	raw, ok := f.Lookup(geoKey)
	if !ok {
		return Metadata{}, errors.New("missing geo metadata")
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return Metadata{}, fmt.Errorf("parse geo metadata: %w", err)
	}
	col, ok := meta.Columns[meta.PrimaryColumn]
	if !ok {
		return Metadata{}, fmt.Errorf("geo metadata has no entry for primary column %q", meta.PrimaryColumn)
	}
	if !strings.EqualFold(col.Encoding, "WKB") {
		return Metadata{}, fmt.Errorf("unsupported geometry encoding %q", col.Encoding)
	}
	return meta, nil
}

// crs resolves the primary column CRS. GeoParquet treats a missing crs as
// OGC:CRS84, which is EPSG:4326 with lon/lat axis order.
func (m Metadata) crs() (domain.CRS, error) {
	c := m.Columns[m.PrimaryColumn].CRS
	if c == nil || c.ID == nil {
		return domain.CRSGeographic, nil
	}
	switch strings.ToUpper(c.ID.Authority) {
	case "EPSG":
		return geo.EPSG(c.ID.Code), nil
	case "OGC":
		return domain.CRSGeographic, nil
	}
	return "", &domain.ProjectionError{CRS: domain.CRS(c.ID.Authority), Reason: "unsupported CRS authority"}
}

func decodeRow(row parquet.Row, names []string, primary string) (domain.WeightedPolygon, error) {
	rec := domain.WeightedPolygon{
		Weighted: make(map[string]float64),
		Dominant: make(map[string]string),
	}
	for _, v := range row {
		name := names[v.Column()]
		if v.IsNull() {
			continue
		}
		switch {
		case name == primary:
			g, err := wkb.Unmarshal(bytes.Clone(v.ByteArray()))
			if err != nil {
				return rec, fmt.Errorf("unmarshal WKB: %w", err)
			}
			if rec.Geometry, err = geo.FromOrb(g); err != nil {
				return rec, err
			}
		case name == domain.RasterValueColumn:
			rec.Value = int(v.Int32())
		case name == domain.HighlightColumn:
			rec.Highlight = v.Boolean()
		case strings.HasPrefix(name, domain.WeightedPrefix):
			rec.Weighted[strings.TrimPrefix(name, domain.WeightedPrefix)] = v.Double()
		case strings.HasPrefix(name, domain.DominantPrefix):
			rec.Dominant[strings.TrimPrefix(name, domain.DominantPrefix)] = string(v.ByteArray())
		}
	}
	if rec.Geometry == nil {
		return rec, errors.New("row has no geometry")
	}
	return rec, nil
}

// Columns lists the attribute column names a layer will be written with, in
// file order.
func Columns(layer domain.ResultLayer) []string {
	out := []string{domain.GeometryColumn, domain.HighlightColumn, domain.RasterValueColumn}
	for _, c := range layer.NumericColumns {
		out = append(out, domain.WeightedPrefix+c)
	}
	for _, c := range layer.CategoricalColumns {
		out = append(out, domain.DominantPrefix+c)
	}
	sort.Strings(out)
	return out
}
