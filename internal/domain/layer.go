package domain

import (
	"github.com/ctessum/geom"
)

// CRS identifies a coordinate reference system, e.g. "EPSG:4326". Raw proj4
// definitions starting with "+proj=" are also accepted. Empty means unknown.
type CRS string

// Well-known reference systems used by the pipeline.
const (
	CRSGeographic  CRS = "EPSG:4326" // WGS 84 longitude/latitude
	CRSWebMercator CRS = "EPSG:3857"
	CRSEqualArea   CRS = "EPSG:5070" // NAD83 / Conus Albers
)

// Affine maps pixel (col, row) to map coordinates using GDAL ordering:
//
//	x = A + col*B + row*C
//	y = D + col*E + row*F
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// Apply returns the map coordinate of pixel corner (col, row).
func (a Affine) Apply(col, row float64) (x, y float64) {
	return a.A + col*a.B + row*a.C, a.D + col*a.E + row*a.F
}

// RasterGrid is a single-band categorical raster.
type RasterGrid struct {
	Width     int
	Height    int
	Values    []int32 // row-major, len == Width*Height
	NoData    int32
	HasNoData bool
	Transform Affine
	CRS       CRS
}

// At returns the value of cell (col, row).
func (g *RasterGrid) At(col, row int) int32 {
	return g.Values[row*g.Width+col]
}

// Valid reports whether cell (col, row) holds data.
func (g *RasterGrid) Valid(col, row int) bool {
	return !g.HasNoData || g.At(col, row) != g.NoData
}

// CategoryFeature is a polygon merged from contiguous raster cells sharing a
// heat-risk value.
type CategoryFeature struct {
	Geometry geom.Polygonal
	Value    int
}

// CategoryLayer is the vectorized form of one forecast-day raster.
type CategoryLayer struct {
	CRS      CRS
	Features []CategoryFeature
}

// AttributeFeature is a boundary polygon carrying health-index attributes.
// Values are assumed uniformly distributed over the polygon's area.
type AttributeFeature struct {
	ID          string
	Geometry    geom.Polygonal
	Numeric     map[string]float64
	Categorical map[string]string
}

// AttributeLayer is the joined boundary + health-index layer.
type AttributeLayer struct {
	CRS                CRS
	Features           []AttributeFeature
	NumericColumns     []string
	CategoricalColumns []string
}

// WeightedPolygon is one output record: a source polygon with area-weighted
// numeric values and dominant categorical values.
type WeightedPolygon struct {
	Geometry  geom.Polygonal
	Value     int
	Weighted  map[string]float64
	Dominant  map[string]string
	Highlight bool
}

// ResultLayer is the attributed output for one forecast day.
type ResultLayer struct {
	CRS                CRS
	Day                DayLabel
	NumericColumns     []string
	CategoricalColumns []string
	Records            []WeightedPolygon
}

// HighlightCount returns the number of highlighted records.
func (l *ResultLayer) HighlightCount() int {
	n := 0
	for i := range l.Records {
		if l.Records[i].Highlight {
			n++
		}
	}
	return n
}

// Output column naming shared by the encoder and consumers.
const (
	GeometryColumn    = "geometry"
	RasterValueColumn = "raster_value"
	HighlightColumn   = "highlight"
	WeightedPrefix    = "weighted_"
	DominantPrefix    = "mode_"
)
