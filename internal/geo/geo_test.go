package geo_test

import (
	"math"
	"testing"

	"github.com/couchcryptid/heat-risk-etl/internal/domain"
	"github.com/couchcryptid/heat-risk-etl/internal/geo"
	"github.com/couchcryptid/heat-risk-etl/internal/observability"
	"github.com/ctessum/geom"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(x, y, size float64) geom.Polygon {
	return geom.Polygon{{
		{X: x, Y: y}, {X: x + size, Y: y}, {X: x + size, Y: y + size}, {X: x, Y: y + size}, {X: x, Y: y},
	}}
}

func TestLookup(t *testing.T) {
	for _, crs := range []domain.CRS{"EPSG:4326", "epsg:3857", "EPSG:5070", "EPSG:4269", "+proj=longlat +datum=WGS84 +no_defs"} {
		t.Run(string(crs), func(t *testing.T) {
			_, err := geo.Lookup(crs)
			assert.NoError(t, err)
		})
	}
}

func TestLookup_Errors(t *testing.T) {
	var pe *domain.ProjectionError

	_, err := geo.Lookup("")
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "missing CRS", pe.Reason)

	_, err = geo.Lookup("EPSG:99999")
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "unsupported CRS", pe.Reason)
}

func TestRegister(t *testing.T) {
	sr, err := geo.Lookup(domain.CRSGeographic)
	require.NoError(t, err)

	geo.Register("PRJ:test.prj", sr)

	got, err := geo.Lookup("PRJ:test.prj")
	require.NoError(t, err)
	assert.Same(t, sr, got)
	isGeo, err := geo.IsGeographic("PRJ:test.prj")
	require.NoError(t, err)
	assert.True(t, isGeo)
}

func TestIsGeographic(t *testing.T) {
	g, err := geo.IsGeographic(domain.CRSGeographic)
	require.NoError(t, err)
	assert.True(t, g)

	g, err = geo.IsGeographic(domain.CRSWebMercator)
	require.NoError(t, err)
	assert.False(t, g)
}

func TestTargetCRS(t *testing.T) {
	tests := []struct {
		name string
		a, b domain.CRS
		want domain.CRS
	}{
		{"both geographic", domain.CRSGeographic, "EPSG:4269", geo.EqualAreaCRS},
		{"one geographic", domain.CRSWebMercator, domain.CRSGeographic, geo.EqualAreaCRS},
		{"both planar", domain.CRSWebMercator, domain.CRSEqualArea, domain.CRSWebMercator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := geo.TargetCRS(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReprojectPolygon_RoundTrip(t *testing.T) {
	src := square(-95, 30, 1)

	merc, err := geo.ReprojectPolygon(src, domain.CRSGeographic, domain.CRSWebMercator)
	require.NoError(t, err)
	b := merc.Bounds()
	assert.InDelta(t, -95*math.Pi/180*6378137, b.Min.X, 1)

	back, err := geo.ReprojectPolygon(merc, domain.CRSWebMercator, domain.CRSGeographic)
	require.NoError(t, err)
	bb := back.Bounds()
	assert.InDelta(t, -95, bb.Min.X, 1e-6)
	assert.InDelta(t, 30, bb.Min.Y, 1e-6)
	assert.InDelta(t, -94, bb.Max.X, 1e-6)
	assert.InDelta(t, 31, bb.Max.Y, 1e-6)
}

func TestReprojectPolygons_SameCRSIsIdentity(t *testing.T) {
	in := []geom.Polygonal{square(0, 0, 1)}
	out, err := geo.ReprojectPolygons(in, domain.CRSWebMercator, domain.CRSWebMercator)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestNormalize_KeepsAttributes(t *testing.T) {
	src := domain.CategoryLayer{CRS: domain.CRSWebMercator, Features: []domain.CategoryFeature{
		{Geometry: square(-10_000_000, 3_500_000, 100_000), Value: 3},
	}}
	attrs := domain.AttributeLayer{
		CRS:            domain.CRSGeographic,
		NumericColumns: []string{"POP"},
		Features: []domain.AttributeFeature{
			{ID: "70001", Geometry: square(-90, 30, 0.5), Numeric: map[string]float64{"POP": 100}},
		},
	}

	s, a, err := geo.Normalize(src, attrs)
	require.NoError(t, err)

	assert.Equal(t, geo.EqualAreaCRS, s.CRS)
	assert.Equal(t, geo.EqualAreaCRS, a.CRS)
	assert.Equal(t, 3, s.Features[0].Value)
	assert.Equal(t, "70001", a.Features[0].ID)
	assert.Equal(t, 100.0, a.Features[0].Numeric["POP"])
	assert.Equal(t, domain.CRSGeographic, attrs.CRS, "input not mutated")
	assert.Greater(t, a.Features[0].Geometry.Area(), 1e8, "square metres after projection")
}

func TestOrbConversion(t *testing.T) {
	withHole := geom.Polygon{
		{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 4}, {X: 0, Y: 4}},
		{{X: 1, Y: 1}, {X: 1, Y: 2}, {X: 2, Y: 2}, {X: 2, Y: 1}},
	}

	o := geo.ToOrb(withHole)
	poly, ok := o.(orb.Polygon)
	require.True(t, ok)
	require.Len(t, poly, 2)
	assert.True(t, poly[0].Closed(), "rings are closed")
	assert.True(t, poly[1].Closed())

	back, err := geo.FromOrb(o)
	require.NoError(t, err)
	assert.InDelta(t, 15, back.Area(), 1e-9)

	multi := geo.ToOrb(geom.MultiPolygon{square(0, 0, 1), square(5, 5, 1)})
	_, ok = multi.(orb.MultiPolygon)
	assert.True(t, ok)

	_, err = geo.FromOrb(orb.Point{1, 2})
	assert.Error(t, err)
}

func TestSimplifier(t *testing.T) {
	// A square with a near-collinear midpoint on each side.
	noisy := geom.Polygon{{
		{X: 0, Y: 0}, {X: 50, Y: 0.01}, {X: 100, Y: 0}, {X: 100.01, Y: 50}, {X: 100, Y: 100},
		{X: 50, Y: 100.01}, {X: 0, Y: 100}, {X: 0.01, Y: 50}, {X: 0, Y: 0},
	}}
	s := geo.NewSimplifier(1, observability.DiscardLogger(), nil)

	out := s.Simplify("a", noisy)

	require.Len(t, out.Polygons(), 1)
	assert.Len(t, out.Polygons()[0][0], 5)
	assert.InDelta(t, 10_000, out.Area(), 5)
}

func TestSimplifier_FallsBackWhenCollapsed(t *testing.T) {
	fallbacks := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_fallbacks"})
	s := geo.NewSimplifier(10, observability.DiscardLogger(), fallbacks)
	tiny := square(0, 0, 1)

	out := s.Simplify("tiny", tiny)

	assert.Equal(t, tiny, out, "original returned")
	assert.Equal(t, 1.0, testutil.ToFloat64(fallbacks))
}

func TestSimplifier_Disabled(t *testing.T) {
	p := square(0, 0, 1)
	assert.Equal(t, geom.Polygonal(p), geo.NewSimplifier(0, observability.DiscardLogger(), nil).Simplify("x", p))
}
