package geo

import (
	"fmt"
	"log/slog"

	"github.com/ctessum/geom"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
	"github.com/prometheus/client_golang/prometheus"
)

// Simplifier reduces polygon vertex counts with Douglas-Peucker. When the
// result is unusable the original polygon is returned, logged, and counted.
type Simplifier struct {
	tolerance float64
	logger    *slog.Logger
	fallbacks prometheus.Counter
}

// NewSimplifier creates a Simplifier. A tolerance <= 0 disables
// simplification. fallbacks may be nil.
func NewSimplifier(tolerance float64, logger *slog.Logger, fallbacks prometheus.Counter) *Simplifier {
	return &Simplifier{tolerance: tolerance, logger: logger, fallbacks: fallbacks}
}

// Simplify returns a simplified copy of p, or p itself on fallback.
func (s *Simplifier) Simplify(id string, p geom.Polygonal) geom.Polygonal {
	if s == nil || s.tolerance <= 0 || p == nil {
		return p
	}
	out, err := s.simplify(p)
	if err != nil {
		s.logger.Warn("simplification failed, keeping original geometry", "feature", id, "error", err)
		if s.fallbacks != nil {
			s.fallbacks.Inc()
		}
		return p
	}
	return out
}

func (s *Simplifier) simplify(p geom.Polygonal) (out geom.Polygonal, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	polys := p.Polygons()
	mp := make(geom.MultiPolygon, 0, len(polys))
	for _, poly := range polys {
		src := toOrbPolygon(poly)
		simplified := make(orb.Polygon, 0, len(src))
		for i, ring := range src {
			ls := orb.LineString(ring)
			res, ok := simplify.DouglasPeucker(s.tolerance).Simplify(ls.Clone()).(orb.LineString)
			if !ok || len(res) < 4 {
				if i == 0 {
					return nil, fmt.Errorf("outer ring collapsed to %d points", len(res))
				}
				// Holes smaller than the tolerance are dropped.
				continue
			}
			simplified = append(simplified, orb.Ring(res))
		}
		mp = append(mp, fromOrbPolygon(simplified))
	}

	var result geom.Polygonal = mp
	if len(mp) == 1 {
		result = mp[0]
	}
	if result.Area() <= 0 {
		return nil, fmt.Errorf("simplified polygon has zero area")
	}
	return result, nil
}
