// Package geo resolves coordinate reference systems and moves polygon layers
// between them.
package geo

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/couchcryptid/heat-risk-etl/internal/domain"
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
)

// EqualAreaCRS is the planar system used for all area computations.
const EqualAreaCRS = domain.CRSEqualArea

const webMercatorDef = "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs"

// definitions maps supported EPSG identifiers to proj4 strings.
var definitions = map[domain.CRS]string{
	"EPSG:4326":   "+proj=longlat +ellps=WGS84 +datum=WGS84 +no_defs",
	"EPSG:4269":   "+proj=longlat +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +no_defs",
	"EPSG:3857":   webMercatorDef,
	"EPSG:900913": webMercatorDef,
	"EPSG:5070":   "+proj=aea +lat_1=29.5 +lat_2=45.5 +lat_0=23 +lon_0=-96 +x_0=0 +y_0=0 +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs",
}

var (
	srCache   sync.Map // domain.CRS -> *proj.SR
	transPool sync.Map // [2]domain.CRS -> proj.Transformer
)

// EPSG returns the CRS identifier for an EPSG code.
func EPSG(code int) domain.CRS {
	return domain.CRS(fmt.Sprintf("EPSG:%d", code))
}

// Lookup parses crs into a spatial reference. It accepts registered EPSG
// identifiers and raw proj4 strings.
func Lookup(crs domain.CRS) (*proj.SR, error) {
	if crs == "" {
		return nil, &domain.ProjectionError{Reason: "missing CRS"}
	}
	if sr, ok := srCache.Load(crs); ok {
		return sr.(*proj.SR), nil
	}

	def := string(crs)
	if d, ok := definitions[domain.CRS(strings.ToUpper(def))]; ok {
		def = d
	} else if !strings.HasPrefix(strings.TrimSpace(def), "+proj=") {
		return nil, &domain.ProjectionError{CRS: crs, Reason: "unsupported CRS"}
	}

	sr, err := proj.Parse(def)
	if err != nil {
		return nil, &domain.ProjectionError{CRS: crs, Reason: "parse definition", Err: err}
	}
	srCache.Store(crs, sr)
	return sr, nil
}

// Register makes sr resolvable under name, e.g. for a reference system read
// from a shapefile .prj. A name already registered keeps its first SR.
func Register(name domain.CRS, sr *proj.SR) {
	srCache.LoadOrStore(name, sr)
}

// IsGeographic reports whether crs uses longitude/latitude degrees.
func IsGeographic(crs domain.CRS) (bool, error) {
	sr, err := Lookup(crs)
	if err != nil {
		return false, err
	}
	return sr.Name == "longlat", nil
}

// Transformer returns a coordinate transform from one CRS to another.
func Transformer(from, to domain.CRS) (proj.Transformer, error) {
	key := [2]domain.CRS{from, to}
	if t, ok := transPool.Load(key); ok {
		return t.(proj.Transformer), nil
	}
	src, err := Lookup(from)
	if err != nil {
		return nil, err
	}
	dst, err := Lookup(to)
	if err != nil {
		return nil, err
	}
	t, err := src.NewTransform(dst)
	if err != nil {
		return nil, &domain.ProjectionError{CRS: to, Reason: fmt.Sprintf("transform from %s", from), Err: err}
	}
	transPool.Store(key, t)
	return t, nil
}

// ReprojectPolygon moves a single polygon between reference systems.
func ReprojectPolygon(p geom.Polygonal, from, to domain.CRS) (geom.Polygonal, error) {
	if from == to {
		return p, nil
	}
	t, err := Transformer(from, to)
	if err != nil {
		return nil, err
	}
	return transformPolygonal(p, t)
}

// ReprojectPolygons moves every polygon between reference systems. The input
// slice is not modified.
func ReprojectPolygons(polys []geom.Polygonal, from, to domain.CRS) ([]geom.Polygonal, error) {
	if from == to {
		return polys, nil
	}
	t, err := Transformer(from, to)
	if err != nil {
		return nil, err
	}
	out := make([]geom.Polygonal, len(polys))
	for i, p := range polys {
		q, err := transformPolygonal(p, t)
		if err != nil {
			return nil, fmt.Errorf("reproject polygon %d from %s to %s: %w", i, from, to, err)
		}
		out[i] = q
	}
	return out, nil
}

var errNotPolygonal = errors.New("transformed geometry is not polygonal")

func transformPolygonal(p geom.Polygonal, t proj.Transformer) (geom.Polygonal, error) {
	if p == nil {
		return nil, nil
	}
	g, err := p.Transform(t)
	if err != nil {
		return nil, err
	}
	q, ok := g.(geom.Polygonal)
	if !ok {
		return nil, errNotPolygonal
	}
	return q, nil
}
