package areal_test

import (
	"context"
	"testing"

	"github.com/couchcryptid/heat-risk-etl/internal/areal"
	"github.com/couchcryptid/heat-risk-etl/internal/domain"
	"github.com/couchcryptid/heat-risk-etl/internal/observability"
	"github.com/couchcryptid/heat-risk-etl/internal/raster"
	"github.com/ctessum/geom"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tests run in the planar equal-area CRS so areas are exact.
const planar = domain.CRSEqualArea

func rect(x0, y0, x1, y1 float64) geom.Polygon {
	return geom.Polygon{{
		{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0},
	}}
}

func newEngine() (*areal.Engine, *observability.Metrics) {
	m := observability.NewMetricsForTesting()
	return areal.NewEngine(observability.DiscardLogger(), m, 0), m
}

func TestOverlay_WeightsSumToOne(t *testing.T) {
	e, _ := newEngine()
	attrs := domain.AttributeLayer{CRS: planar, Features: []domain.AttributeFeature{
		{ID: "00001", Geometry: rect(0, 0, 1000, 4000)},
		{ID: "00002", Geometry: rect(1000, 0, 4000, 4000)},
		{ID: "00003", Geometry: rect(0, 4000, 4000, 9000)},
	}}
	source := domain.CategoryLayer{CRS: planar, Features: []domain.CategoryFeature{
		{Geometry: rect(0, 0, 4000, 4000), Value: 1},
		{Geometry: rect(500, 3000, 3500, 6000), Value: 2},
		{Geometry: rect(100, 100, 200, 200), Value: 3},
	}}

	idx, err := e.Prepare(attrs, source.CRS)
	require.NoError(t, err)
	groups, err := e.Overlay(context.Background(), idx, source)
	require.NoError(t, err)

	require.Len(t, groups, 3)
	require.Len(t, groups[0], 2)
	weights := map[string]float64{}
	for _, r := range groups[0] {
		weights[r.AttributeID] = r.Weight
	}
	assert.InDelta(t, 0.25, weights["00001"], 1e-9)
	assert.InDelta(t, 0.75, weights["00002"], 1e-9)
	assert.Len(t, groups[1], 3)
	assert.Len(t, groups[2], 1)
	assert.NoError(t, areal.CheckWeights(groups))
}

func TestCheckWeights_DetectsDrift(t *testing.T) {
	groups := [][]areal.IntersectionRecord{
		nil,
		{{Weight: 0.5}, {Weight: 0.4}},
	}
	assert.Error(t, areal.CheckWeights(groups))
}

func TestInterpolate_RateColumnUsesGroupWeight(t *testing.T) {
	e, _ := newEngine()
	attrs := domain.AttributeLayer{CRS: planar, Features: []domain.AttributeFeature{
		{ID: "A", Geometry: rect(0, 0, 1000, 4000), Numeric: map[string]float64{"SCORE": 10}},
		{ID: "B", Geometry: rect(1000, 0, 4000, 4000), Numeric: map[string]float64{"SCORE": 20}},
	}}
	source := domain.CategoryLayer{CRS: planar, Features: []domain.CategoryFeature{
		{Geometry: rect(0, 0, 4000, 4000), Value: 3},
	}}

	out, err := e.Interpolate(context.Background(), source, attrs, []string{"SCORE"}, nil)
	require.NoError(t, err)

	require.Len(t, out.Records, 1)
	assert.Equal(t, domain.CRSGeographic, out.CRS)
	assert.Equal(t, 3, out.Records[0].Value)
	assert.InDelta(t, 10*0.25+20*0.75, out.Records[0].Weighted["SCORE"], 1e-9)
}

func TestInterpolate_CountColumnOnlyWhenConfigured(t *testing.T) {
	e, _ := newEngine()
	attrs := domain.AttributeLayer{CRS: planar, Features: []domain.AttributeFeature{
		{ID: "A", Geometry: rect(0, 0, 1000, 4000), Numeric: map[string]float64{"POP": 100}},
		{ID: "B", Geometry: rect(1000, 0, 4000, 4000), Numeric: map[string]float64{"POP": 300}},
	}}
	source := domain.CategoryLayer{CRS: planar, Features: []domain.CategoryFeature{
		{Geometry: rect(0, 0, 4000, 4000), Value: 2},
	}}

	plain, err := e.Interpolate(context.Background(), source, attrs, []string{"POP"}, nil)
	require.NoError(t, err)
	require.Len(t, plain.Records, 1)
	assert.InDelta(t, 100*0.25+300*0.75, plain.Records[0].Weighted["POP"], 1e-9, "group weight times value")

	counted, err := e.WithExtensive("POP").Interpolate(context.Background(), source, attrs, []string{"POP"}, nil)
	require.NoError(t, err)
	require.Len(t, counted.Records, 1)
	assert.InDelta(t, 400, counted.Records[0].Weighted["POP"], 1e-9, "both polygons fully covered")
}

func TestPrepare_ChoosesCommonPlanarCRS(t *testing.T) {
	e, _ := newEngine()
	geographic := domain.AttributeLayer{CRS: domain.CRSGeographic, Features: []domain.AttributeFeature{
		{ID: "A", Geometry: rect(-95, 30, -94.5, 30.5)},
	}}

	idx, err := e.Prepare(geographic, domain.CRSWebMercator)
	require.NoError(t, err)
	assert.Equal(t, domain.CRSEqualArea, idx.CRS())
	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, domain.CRSGeographic, idx.Attributes().CRS, "source layer kept unprojected")

	planarAttrs := domain.AttributeLayer{CRS: planar, Features: []domain.AttributeFeature{
		{ID: "A", Geometry: rect(0, 0, 1000, 1000)},
	}}
	idx, err = e.Prepare(planarAttrs, domain.CRSWebMercator)
	require.NoError(t, err)
	assert.Equal(t, domain.CRSWebMercator, idx.CRS(), "planar layers follow the source CRS")
}

func TestInterpolate_EmptyGroupLeavesValuesAbsent(t *testing.T) {
	e, _ := newEngine()
	attrs := domain.AttributeLayer{CRS: planar, Features: []domain.AttributeFeature{
		{
			ID:          "A",
			Geometry:    rect(0, 0, 1000, 1000),
			Numeric:     map[string]float64{"SCORE": 10},
			Categorical: map[string]string{"STATE": "NY"},
		},
	}}
	source := domain.CategoryLayer{CRS: planar, Features: []domain.CategoryFeature{
		{Geometry: rect(50000, 50000, 51000, 51000), Value: 2},
	}}

	out, err := e.Interpolate(context.Background(), source, attrs, []string{"SCORE"}, []string{"STATE"})
	require.NoError(t, err)

	require.Len(t, out.Records, 1)
	_, ok := out.Records[0].Weighted["SCORE"]
	assert.False(t, ok, "numeric value must be absent, not zero")
	_, ok = out.Records[0].Dominant["STATE"]
	assert.False(t, ok)
}

func TestInterpolate_MissingAttributeValueSkipped(t *testing.T) {
	e, _ := newEngine()
	attrs := domain.AttributeLayer{CRS: planar, Features: []domain.AttributeFeature{
		{ID: "A", Geometry: rect(0, 0, 2000, 2000), Numeric: map[string]float64{}},
		{ID: "B", Geometry: rect(2000, 0, 4000, 2000), Numeric: map[string]float64{}},
	}}
	source := domain.CategoryLayer{CRS: planar, Features: []domain.CategoryFeature{
		{Geometry: rect(0, 0, 4000, 2000), Value: 1},
	}}

	out, err := e.Interpolate(context.Background(), source, attrs, []string{"SCORE"}, nil)
	require.NoError(t, err)
	assert.Empty(t, out.Records[0].Weighted)
}

func TestInterpolate_DominantTieBreaksOnSmallestID(t *testing.T) {
	e, _ := newEngine()
	attrs := domain.AttributeLayer{CRS: planar, Features: []domain.AttributeFeature{
		{ID: "20002", Geometry: rect(0, 0, 1000, 2000), Categorical: map[string]string{"STATE": "NJ"}},
		{ID: "10001", Geometry: rect(1000, 0, 2000, 2000), Categorical: map[string]string{"STATE": "NY"}},
	}}
	source := domain.CategoryLayer{CRS: planar, Features: []domain.CategoryFeature{
		{Geometry: rect(0, 0, 2000, 2000), Value: 4},
	}}

	out, err := e.Interpolate(context.Background(), source, attrs, nil, []string{"STATE"})
	require.NoError(t, err)
	assert.Equal(t, "NY", out.Records[0].Dominant["STATE"])
}

func TestInterpolate_DominantTakesLargestArea(t *testing.T) {
	e, _ := newEngine()
	attrs := domain.AttributeLayer{CRS: planar, Features: []domain.AttributeFeature{
		{ID: "00001", Geometry: rect(0, 0, 500, 2000), Categorical: map[string]string{"STATE": "NJ"}},
		{ID: "00002", Geometry: rect(500, 0, 2000, 2000), Categorical: map[string]string{"STATE": "PA"}},
	}}
	source := domain.CategoryLayer{CRS: planar, Features: []domain.CategoryFeature{
		{Geometry: rect(0, 0, 2000, 2000), Value: 4},
	}}

	out, err := e.Interpolate(context.Background(), source, attrs, nil, []string{"STATE"})
	require.NoError(t, err)
	assert.Equal(t, "PA", out.Records[0].Dominant["STATE"])
}

func TestInterpolate_DegenerateAttributeCounted(t *testing.T) {
	e, m := newEngine()
	flat := geom.Polygon{{{X: 0, Y: 0}, {X: 1000, Y: 0}, {X: 2000, Y: 0}, {X: 0, Y: 0}}}
	attrs := domain.AttributeLayer{CRS: planar, Features: []domain.AttributeFeature{
		{ID: "flat", Geometry: flat},
		{ID: "ok", Geometry: rect(0, 0, 1000, 1000)},
	}}

	idx, err := e.Prepare(attrs, planar)
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())
	assert.InDelta(t, 1, testutil.ToFloat64(m.GeometryFallbacks.WithLabelValues("degenerate")), 0)
}

func TestInterpolate_CanceledContext(t *testing.T) {
	e, _ := newEngine()
	attrs := domain.AttributeLayer{CRS: planar, Features: []domain.AttributeFeature{
		{ID: "A", Geometry: rect(0, 0, 1000, 1000)},
	}}
	source := domain.CategoryLayer{CRS: planar, Features: []domain.CategoryFeature{
		{Geometry: rect(0, 0, 1000, 1000), Value: 1},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Interpolate(ctx, source, attrs, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInterpolate_UnknownCRS(t *testing.T) {
	e, _ := newEngine()
	attrs := domain.AttributeLayer{Features: []domain.AttributeFeature{{ID: "A", Geometry: rect(0, 0, 1, 1)}}}
	source := domain.CategoryLayer{CRS: planar}

	_, err := e.Interpolate(context.Background(), source, attrs, nil, nil)
	var pe *domain.ProjectionError
	assert.ErrorAs(t, err, &pe)
}

// A 3x3 raster fully covered by one attribute polygon: each of the three
// regions gets a third of the population and the single state.
func TestInterpolate_ThreeByThreeRaster(t *testing.T) {
	grid := &domain.RasterGrid{
		Width:     3,
		Height:    3,
		Values:    []int32{0, 0, 1, 0, 1, 1, 2, 2, 2},
		NoData:    -1,
		HasNoData: true,
		Transform: domain.Affine{A: 0, B: 1000, D: 3000, F: -1000},
		CRS:       planar,
	}
	source, err := raster.Vectorize(grid, raster.Options{TargetCRS: planar})
	require.NoError(t, err)
	require.Len(t, source.Features, 3)

	attrs := domain.AttributeLayer{CRS: planar, Features: []domain.AttributeFeature{{
		ID:          "10001",
		Geometry:    rect(0, 0, 3000, 3000),
		Numeric:     map[string]float64{"POP": 900, "SCORE": 0.7},
		Categorical: map[string]string{"STATE": "NY"},
	}}}

	e, _ := newEngine()
	out, err := e.WithExtensive("POP").Interpolate(context.Background(), source, attrs, []string{"POP", "SCORE"}, []string{"STATE"})
	require.NoError(t, err)
	require.Len(t, out.Records, 3)

	total := 0.0
	for i, r := range out.Records {
		assert.Equal(t, i, r.Value, "regions come out in scan order")
		assert.InDelta(t, 300, r.Weighted["POP"], 1e-6)
		assert.InDelta(t, 0.7, r.Weighted["SCORE"], 1e-9)
		assert.Equal(t, "NY", r.Dominant["STATE"])
		total += r.Weighted["POP"]
	}
	assert.InDelta(t, 900, total, 1e-6)
}
