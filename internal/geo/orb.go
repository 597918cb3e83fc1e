package geo

import (
	"fmt"

	"github.com/ctessum/geom"
	"github.com/paulmach/orb"
)

// ToOrb converts a polygonal geometry to its orb form with closed rings. A
// single polygon becomes orb.Polygon; anything else becomes orb.MultiPolygon.
func ToOrb(p geom.Polygonal) orb.Geometry {
	polys := p.Polygons()
	if len(polys) == 1 {
		return toOrbPolygon(polys[0])
	}
	mp := make(orb.MultiPolygon, 0, len(polys))
	for _, poly := range polys {
		mp = append(mp, toOrbPolygon(poly))
	}
	return mp
}

func toOrbPolygon(p geom.Polygon) orb.Polygon {
	out := make(orb.Polygon, 0, len(p))
	for _, ring := range p {
		if len(ring) == 0 {
			continue
		}
		r := make(orb.Ring, 0, len(ring)+1)
		for _, pt := range ring {
			r = append(r, orb.Point{pt.X, pt.Y})
		}
		if !r.Closed() {
			r = append(r, r[0])
		}
		out = append(out, r)
	}
	return out
}

// FromOrb converts an orb polygon or multipolygon back to ctessum geometry.
func FromOrb(g orb.Geometry) (geom.Polygonal, error) {
	switch v := g.(type) {
	case orb.Polygon:
		return fromOrbPolygon(v), nil
	case orb.MultiPolygon:
		mp := make(geom.MultiPolygon, 0, len(v))
		for _, p := range v {
			mp = append(mp, fromOrbPolygon(p))
		}
		return mp, nil
	default:
		return nil, fmt.Errorf("unsupported geometry type %T", g)
	}
}

func fromOrbPolygon(p orb.Polygon) geom.Polygon {
	out := make(geom.Polygon, 0, len(p))
	for _, ring := range p {
		pts := make([]geom.Point, len(ring))
		for i, pt := range ring {
			pts[i] = geom.Point{X: pt[0], Y: pt[1]}
		}
		out = append(out, pts)
	}
	return out
}
