// Package areal redistributes attribute values from one polygon layer onto
// another in proportion to shared area.
package areal

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/couchcryptid/heat-risk-etl/internal/domain"
	"github.com/couchcryptid/heat-risk-etl/internal/geo"
	"github.com/couchcryptid/heat-risk-etl/internal/observability"
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"gonum.org/v1/gonum/floats"
)

// IntersectionRecord is one non-empty overlap between a source polygon and an
// attribute polygon.
type IntersectionRecord struct {
	Source      int
	Attribute   int
	AttributeID string
	Area        float64
	// Weight is Area over the summed area of the source polygon's group.
	Weight float64
	// Coverage is Area over the attribute polygon's own area.
	Coverage float64
}

// Engine performs overlays and areal weighting.
type Engine struct {
	logger     *slog.Logger
	metrics    *observability.Metrics
	simplifier *geo.Simplifier
	extensive  map[string]bool
}

// NewEngine creates an Engine. simplifyTolerance is in units of the
// equal-area CRS (metres); zero disables attribute simplification.
func NewEngine(logger *slog.Logger, metrics *observability.Metrics, simplifyTolerance float64) *Engine {
	return &Engine{
		logger:     logger,
		metrics:    metrics,
		simplifier: geo.NewSimplifier(simplifyTolerance, logger, metrics.GeometryFallbacks.WithLabelValues("simplify")),
	}
}

// WithExtensive returns a copy of e that treats the named numeric columns as
// counts. A count is split across source polygons by the share of the
// attribute polygon each one covers, so totals are preserved. This replaces
// the plain sum of group weight times value for those columns only; all
// other numeric columns, POP included when it is not named here, are rates
// and use the group weight.
func (e *Engine) WithExtensive(columns ...string) *Engine {
	c := *e
	c.extensive = make(map[string]bool, len(columns))
	for _, col := range columns {
		c.extensive[col] = true
	}
	return &c
}

// Index is an attribute layer projected for overlay and indexed by bounds.
// It is read-only after Prepare and safe to share between goroutines.
type Index struct {
	source   domain.AttributeLayer
	crs      domain.CRS
	features []domain.AttributeFeature
	areas    []float64
	tree     *rtree.Rtree
}

type indexed struct {
	geom.Polygonal
	i int
}

// Len returns the number of indexed attribute polygons.
func (x *Index) Len() int { return len(x.features) }

// CRS returns the planar CRS the index was built in.
func (x *Index) CRS() domain.CRS { return x.crs }

// Attributes returns the layer the index was prepared from, unprojected.
func (x *Index) Attributes() domain.AttributeLayer { return x.source }

// Prepare projects attrs into the common planar CRS for layers in sourceCRS,
// simplifies and indexes it. Zero-area polygons are dropped.
func (e *Engine) Prepare(attrs domain.AttributeLayer, sourceCRS domain.CRS) (*Index, error) {
	_, projected, err := geo.Normalize(domain.CategoryLayer{CRS: sourceCRS}, attrs)
	if err != nil {
		return nil, err
	}

	idx := &Index{source: attrs, crs: projected.CRS, tree: rtree.NewTree(25, 50)}
	for _, f := range projected.Features {
		if f.Geometry == nil {
			continue
		}
		f.Geometry = e.simplifier.Simplify(f.ID, f.Geometry)
		a := f.Geometry.Area()
		if a <= 0 || math.IsNaN(a) {
			e.logger.Warn("skipping degenerate attribute polygon", "feature", f.ID, "area", a)
			e.metrics.GeometryFallbacks.WithLabelValues("degenerate").Inc()
			continue
		}
		idx.tree.Insert(indexed{Polygonal: f.Geometry, i: len(idx.features)})
		idx.features = append(idx.features, f)
		idx.areas = append(idx.areas, a)
	}
	return idx, nil
}

// Interpolate overlays source on attrs and returns one WeightedPolygon per
// source polygon.
func (e *Engine) Interpolate(ctx context.Context, source domain.CategoryLayer, attrs domain.AttributeLayer, numeric, categorical []string) (domain.ResultLayer, error) {
	idx, err := e.Prepare(attrs, source.CRS)
	if err != nil {
		return domain.ResultLayer{}, err
	}
	return e.InterpolateIndexed(ctx, idx, source, numeric, categorical)
}

// InterpolateIndexed is Interpolate against a prepared attribute index.
func (e *Engine) InterpolateIndexed(ctx context.Context, idx *Index, source domain.CategoryLayer, numeric, categorical []string) (domain.ResultLayer, error) {
	if target, err := geo.TargetCRS(source.CRS, idx.source.CRS); err != nil {
		return domain.ResultLayer{}, err
	} else if target != idx.crs {
		if idx, err = e.Prepare(idx.source, source.CRS); err != nil {
			return domain.ResultLayer{}, err
		}
	}

	groups, err := e.Overlay(ctx, idx, source)
	if err != nil {
		return domain.ResultLayer{}, err
	}

	out := domain.ResultLayer{
		CRS:                domain.CRSGeographic,
		NumericColumns:     numeric,
		CategoricalColumns: categorical,
		Records:            make([]domain.WeightedPolygon, len(source.Features)),
	}
	for i, f := range source.Features {
		g, err := geo.ReprojectPolygon(f.Geometry, source.CRS, domain.CRSGeographic)
		if err != nil {
			return domain.ResultLayer{}, fmt.Errorf("reproject source polygon %d: %w", i, err)
		}
		out.Records[i] = domain.WeightedPolygon{
			Geometry: g,
			Value:    f.Value,
			Weighted: e.weightedValues(groups[i], idx.features, numeric),
			Dominant: dominantValues(groups[i], idx.features, categorical),
		}
	}
	return out, nil
}

// Overlay intersects every source polygon with the indexed attribute polygons
// and returns the weighted intersection records grouped by source index.
// Failed or degenerate intersections are logged, counted, and skipped.
func (e *Engine) Overlay(ctx context.Context, idx *Index, source domain.CategoryLayer) ([][]IntersectionRecord, error) {
	polys := make([]geom.Polygonal, len(source.Features))
	for i, f := range source.Features {
		polys[i] = f.Geometry
	}
	polys, err := geo.ReprojectPolygons(polys, source.CRS, idx.crs)
	if err != nil {
		return nil, err
	}

	groups := make([][]IntersectionRecord, len(polys))
	for i, p := range polys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		if a := p.Area(); a <= 0 || math.IsNaN(a) {
			e.logger.Warn("skipping degenerate source polygon", "source_index", i, "area", a)
			e.metrics.GeometryFallbacks.WithLabelValues("degenerate").Inc()
			continue
		}
		groups[i] = e.overlayOne(i, p, idx)
	}
	return groups, nil
}

func (e *Engine) overlayOne(i int, p geom.Polygonal, idx *Index) []IntersectionRecord {
	var records []IntersectionRecord
	for _, c := range idx.tree.SearchIntersect(p.Bounds()) {
		j := c.(indexed).i
		f := idx.features[j]
		area, err := intersectionArea(p, f.Geometry)
		if err != nil {
			oe := &domain.OverlayGeometryError{SourceIndex: i, AttributeID: f.ID, Err: err}
			e.logger.Warn("overlay failed, skipping pair", "error", oe)
			e.metrics.GeometryFallbacks.WithLabelValues("overlay").Inc()
			continue
		}
		if area <= 0 {
			continue
		}
		records = append(records, IntersectionRecord{
			Source:      i,
			Attribute:   j,
			AttributeID: f.ID,
			Area:        area,
			Coverage:    math.Min(area/idx.areas[j], 1),
		})
	}
	e.metrics.Intersections.Add(float64(len(records)))
	assignWeights(records)
	return records
}

// intersectionArea returns the area of a ∩ b, converting panics from the
// clipping library into errors.
func intersectionArea(a, b geom.Polygonal) (area float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			area, err = 0, fmt.Errorf("intersection panicked: %v", r)
		}
	}()
	isect := a.Intersection(b)
	if isect == nil {
		return 0, nil
	}
	area = isect.Area()
	if math.IsNaN(area) || math.IsInf(area, 0) {
		return 0, fmt.Errorf("intersection area is %v", area)
	}
	return area, nil
}

// assignWeights sets weight = area / Σarea. Records always carry positive
// area, so a non-empty group never divides by zero.
func assignWeights(records []IntersectionRecord) {
	areas := make([]float64, len(records))
	for k, r := range records {
		areas[k] = r.Area
	}
	total := floats.Sum(areas)
	for k := range records {
		records[k].Weight = records[k].Area / total
	}
}

func (e *Engine) weightedValues(group []IntersectionRecord, features []domain.AttributeFeature, columns []string) map[string]float64 {
	out := make(map[string]float64, len(columns))
	if len(group) == 0 {
		return out
	}
	for _, col := range columns {
		sum, present := 0.0, false
		for _, r := range group {
			v, ok := features[r.Attribute].Numeric[col]
			if !ok || math.IsNaN(v) {
				continue
			}
			if e.extensive[col] {
				sum += v * r.Coverage
			} else {
				sum += v * r.Weight
			}
			present = true
		}
		if present {
			out[col] = sum
		}
	}
	return out
}

// dominantValues picks, per column, the value from the record with the
// largest intersection area. Exact ties go to the lexicographically smallest
// attribute ID so results do not depend on index order.
func dominantValues(group []IntersectionRecord, features []domain.AttributeFeature, columns []string) map[string]string {
	out := make(map[string]string, len(columns))
	if len(group) == 0 {
		return out
	}
	best := group[0]
	for _, r := range group[1:] {
		if r.Area > best.Area || (r.Area == best.Area && r.AttributeID < best.AttributeID) {
			best = r
		}
	}
	f := features[best.Attribute]
	for _, col := range columns {
		if v, ok := f.Categorical[col]; ok {
			out[col] = v
		}
	}
	return out
}

// WeightTolerance bounds how far a group's summed weights may drift from 1.
const WeightTolerance = 1e-9

// CheckWeights verifies that every non-empty group's weights sum to 1.
func CheckWeights(groups [][]IntersectionRecord) error {
	for i, g := range groups {
		if len(g) == 0 {
			continue
		}
		w := make([]float64, len(g))
		for k, r := range g {
			w[k] = r.Weight
		}
		if sum := floats.Sum(w); math.Abs(sum-1) > WeightTolerance {
			return fmt.Errorf("source polygon %d: weights sum to %.12f", i, sum)
		}
	}
	return nil
}
