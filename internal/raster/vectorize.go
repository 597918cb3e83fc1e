package raster

import (
	"fmt"
	"slices"

	"github.com/couchcryptid/heat-risk-etl/internal/domain"
	"github.com/couchcryptid/heat-risk-etl/internal/geo"
	"github.com/ctessum/geom"
)

// Options controls vectorization.
type Options struct {
	// Connectivity is 4 (edge neighbours, the default) or 8 (edge and corner).
	Connectivity int
	// TargetCRS is the output reference system; defaults to EPSG:4326.
	TargetCRS domain.CRS
}

// Vectorize converts grid into one polygon per connected region of equal
// value. Nodata cells are excluded. The polygons partition the data area of
// the grid.
func Vectorize(grid *domain.RasterGrid, opts Options) (domain.CategoryLayer, error) {
	if opts.Connectivity == 0 {
		opts.Connectivity = 4
	}
	if opts.Connectivity != 4 && opts.Connectivity != 8 {
		return domain.CategoryLayer{}, fmt.Errorf("connectivity must be 4 or 8, got %d", opts.Connectivity)
	}
	if opts.TargetCRS == "" {
		opts.TargetCRS = domain.CRSGeographic
	}
	if _, err := geo.Lookup(grid.CRS); err != nil {
		return domain.CategoryLayer{}, err
	}
	if len(grid.Values) != grid.Width*grid.Height {
		return domain.CategoryLayer{}, fmt.Errorf("grid has %d values for %dx%d cells", len(grid.Values), grid.Width, grid.Height)
	}

	labels, regions := label(grid, opts.Connectivity)
	t := &tracer{grid: grid, labels: labels, eightWay: opts.Connectivity == 8}

	features := make([]domain.CategoryFeature, 0, len(regions))
	for id, cells := range regions {
		poly := t.trace(int32(id), cells)
		features = append(features, domain.CategoryFeature{
			Geometry: poly,
			Value:    int(grid.Values[cells[0]]),
		})
	}

	layer := domain.CategoryLayer{CRS: grid.CRS, Features: features}
	return geo.ReprojectCategoryLayer(layer, opts.TargetCRS)
}

// label assigns a region id to every data cell. Regions are numbered in scan
// order of their first cell; nodata cells get -1.
func label(grid *domain.RasterGrid, connectivity int) ([]int32, [][]int) {
	w, h := grid.Width, grid.Height
	labels := make([]int32, w*h)
	for i := range labels {
		labels[i] = -1
	}

	var regions [][]int
	var stack []int
	for start := range labels {
		if labels[start] != -1 || !grid.Valid(start%w, start/w) {
			continue
		}
		id := int32(len(regions))
		value := grid.Values[start]
		labels[start] = id
		stack = append(stack[:0], start)
		var cells []int
		for len(stack) > 0 {
			c := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			cells = append(cells, c)
			col, row := c%w, c/w
			for _, d := range neighbours(connectivity) {
				nc, nr := col+d[0], row+d[1]
				if nc < 0 || nr < 0 || nc >= w || nr >= h {
					continue
				}
				n := nr*w + nc
				if labels[n] != -1 || grid.Values[n] != value || !grid.Valid(nc, nr) {
					continue
				}
				labels[n] = id
				stack = append(stack, n)
			}
		}
		slices.Sort(cells)
		regions = append(regions, cells)
	}
	return labels, regions
}

var (
	fourWay  = [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	eightWay = [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}, {1, 1}, {-1, -1}, {1, -1}, {-1, 1}}
)

func neighbours(connectivity int) [][2]int {
	if connectivity == 8 {
		return eightWay
	}
	return fourWay
}

// edge is a directed unit segment on the pixel-corner lattice. Boundaries are
// walked with the region on the right-hand side in row-down pixel space.
type edge struct {
	x, y   int // start corner
	dx, dy int
	used   bool
}

type tracer struct {
	grid     *domain.RasterGrid
	labels   []int32
	eightWay bool
}

func (t *tracer) inRegion(id int32, col, row int) bool {
	if col < 0 || row < 0 || col >= t.grid.Width || row >= t.grid.Height {
		return false
	}
	return t.labels[row*t.grid.Width+col] == id
}

func (t *tracer) corner(x, y int) int {
	return y*(t.grid.Width+1) + x
}

// trace builds the polygon for one region from its boundary edges.
func (t *tracer) trace(id int32, cells []int) geom.Polygonal {
	w := t.grid.Width
	var edges []*edge
	out := make(map[int][]*edge)
	add := func(x, y, dx, dy int) {
		e := &edge{x: x, y: y, dx: dx, dy: dy}
		edges = append(edges, e)
		k := t.corner(x, y)
		out[k] = append(out[k], e)
	}
	for _, c := range cells {
		col, row := c%w, c/w
		if !t.inRegion(id, col, row-1) {
			add(col, row, 1, 0)
		}
		if !t.inRegion(id, col+1, row) {
			add(col+1, row, 0, 1)
		}
		if !t.inRegion(id, col, row+1) {
			add(col+1, row+1, -1, 0)
		}
		if !t.inRegion(id, col-1, row) {
			add(col, row+1, 0, -1)
		}
	}

	var rings [][][2]int
	for _, start := range edges {
		if start.used {
			continue
		}
		rings = append(rings, t.walk(start, out))
	}
	return t.assemble(rings)
}

// walk follows unused edges from start until the ring closes. At a corner
// shared by two diagonal cells the turn decides whether those cells join:
// four-way regions turn right (keeping them apart), eight-way regions turn
// left.
func (t *tracer) walk(start *edge, out map[int][]*edge) [][2]int {
	var ring [][2]int
	cur := start
	cur.used = true
	for {
		ring = append(ring, [2]int{cur.x, cur.y})
		x, y := cur.x+cur.dx, cur.y+cur.dy
		k := t.corner(x, y)

		var candidates []*edge
		for _, e := range out[k] {
			if !e.used || e == start {
				candidates = append(candidates, e)
			}
		}
		next := candidates[0]
		if len(candidates) > 1 {
			want := [2]int{-cur.dy, cur.dx} // right turn, row-down space
			if t.eightWay {
				want = [2]int{cur.dy, -cur.dx}
			}
			for _, e := range candidates {
				if e.dx == want[0] && e.dy == want[1] {
					next = e
					break
				}
			}
		}
		if next == start {
			return dropCollinear(ring)
		}
		next.used = true
		cur = next
	}
}

// dropCollinear removes corners where the boundary runs straight through.
func dropCollinear(ring [][2]int) [][2]int {
	n := len(ring)
	out := make([][2]int, 0, n)
	for i := range ring {
		prev, cur, next := ring[(i+n-1)%n], ring[i], ring[(i+1)%n]
		d1 := [2]int{sign(cur[0] - prev[0]), sign(cur[1] - prev[1])}
		d2 := [2]int{sign(next[0] - cur[0]), sign(next[1] - cur[1])}
		if d1 != d2 {
			out = append(out, cur)
		}
	}
	return out
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// assemble maps rings to map coordinates and groups holes under their outer
// ring. Outer rings are counter-clockwise and holes clockwise in map space.
func (t *tracer) assemble(rings [][][2]int) geom.Polygonal {
	var outers, holes [][]geom.Point
	for _, r := range rings {
		// Outer boundaries have positive area in row-down pixel space.
		if pixelArea(r) > 0 {
			outers = append(outers, t.toMap(r, true))
		} else {
			holes = append(holes, t.toMap(r, false))
		}
	}

	if len(outers) == 1 {
		poly := geom.Polygon{outers[0]}
		for _, h := range holes {
			poly = append(poly, h)
		}
		return poly
	}

	polys := make(geom.MultiPolygon, len(outers))
	for i, o := range outers {
		polys[i] = geom.Polygon{o}
	}
	for _, h := range holes {
		p := centre(h)
		for i, o := range outers {
			if pointInRing(p, o) {
				polys[i] = append(polys[i], h)
				break
			}
		}
	}
	return polys
}

// toMap converts a pixel ring to a closed map-space ring with the requested
// orientation.
func (t *tracer) toMap(r [][2]int, ccw bool) []geom.Point {
	pts := make([]geom.Point, 0, len(r)+1)
	for _, c := range r {
		x, y := t.grid.Transform.Apply(float64(c[0]), float64(c[1]))
		pts = append(pts, geom.Point{X: x, Y: y})
	}
	pts = append(pts, pts[0])
	if (signedArea(pts) > 0) != ccw {
		for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
			pts[i], pts[j] = pts[j], pts[i]
		}
	}
	return pts
}

func pixelArea(r [][2]int) int {
	s := 0
	for i := range r {
		j := (i + 1) % len(r)
		s += r[i][0]*r[j][1] - r[j][0]*r[i][1]
	}
	return s
}

// signedArea is positive for counter-clockwise rings (y up).
func signedArea(pts []geom.Point) float64 {
	s := 0.0
	for i := 0; i+1 < len(pts); i++ {
		s += pts[i].X*pts[i+1].Y - pts[i+1].X*pts[i].Y
	}
	return s / 2
}

func centre(pts []geom.Point) geom.Point {
	var c geom.Point
	n := float64(len(pts) - 1)
	for _, p := range pts[:len(pts)-1] {
		c.X += p.X / n
		c.Y += p.Y / n
	}
	return c
}

func pointInRing(p geom.Point, ring []geom.Point) bool {
	in := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if (a.Y > p.Y) != (b.Y > p.Y) && p.X < (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y)+a.X {
			in = !in
		}
	}
	return in
}
