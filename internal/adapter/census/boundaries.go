package census

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/heat-risk-etl/internal/domain"
	"github.com/couchcryptid/heat-risk-etl/internal/geo"
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
)

// DefaultBoundaryCRS is assumed for shapefiles shipped without a .prj.
// Census cartographic boundaries are NAD83.
const DefaultBoundaryCRS = domain.CRS("EPSG:4269")

// Boundary is one keyed polygon from the boundary shapefile.
type Boundary struct {
	Key      string
	Geometry geom.Polygonal
}

// Boundaries is the decoded shapefile.
type Boundaries struct {
	CRS      domain.CRS
	Features []Boundary
}

// LoadBoundaries decodes the polygons of the shapefile at p (or the first
// .shp under directory p), keyed by keyField. Rows with a blank key or
// non-polygonal geometry are skipped.
func LoadBoundaries(p, keyField string, logger *slog.Logger) (Boundaries, error) {
	file, err := findFile(p, ".shp")
	if err != nil {
		return Boundaries{}, fmt.Errorf("find boundary shapefile: %w", err)
	}
	dec, err := shp.NewDecoder(file)
	if err != nil {
		return Boundaries{}, fmt.Errorf("open shapefile %s: %w", file, err)
	}
	defer dec.Close()

	out := Boundaries{CRS: DefaultBoundaryCRS}
	if sr, err := dec.SR(); err == nil {
		out.CRS = domain.CRS("PRJ:" + filepath.Base(file))
		geo.Register(out.CRS, sr)
	} else {
		logger.Warn("shapefile has no usable projection, assuming NAD83", "path", file, "error", err)
	}

	skipped := 0
	for {
		g, fields, more := dec.DecodeRowFields(keyField)
		if !more {
			break
		}
		key, ok := fields[keyField]
		if !ok {
			return Boundaries{}, fmt.Errorf("shapefile %s: missing key field %s", file, keyField)
		}
		key = NormalizeKey(key)
		poly, isPoly := g.(geom.Polygonal)
		if key == "" || !isPoly {
			skipped++
			continue
		}
		out.Features = append(out.Features, Boundary{Key: key, Geometry: poly})
	}
	if err := dec.Error(); err != nil {
		return Boundaries{}, fmt.Errorf("decode shapefile %s: %w", file, err)
	}
	if skipped > 0 {
		logger.Warn("boundary rows skipped", "path", file, "skipped", skipped)
	}
	logger.Info("boundaries loaded", "path", file, "features", len(out.Features), "crs", out.CRS)
	return out, nil
}

// NormalizeKey turns a ZCTA as it appears in either source ("1001", "1001.0",
// " 01001 ") into its 5-digit form. Non-numeric keys are only trimmed.
func NormalizeKey(s string) string {
	s = strings.Trim(s, " \t\r\n\x00")
	if i := strings.IndexByte(s, '.'); i > 0 && strings.Trim(s[i+1:], "0") == "" {
		s = s[:i]
	}
	if s == "" || strings.Trim(s, "0123456789") != "" {
		return s
	}
	if len(s) < 5 {
		s = strings.Repeat("0", 5-len(s)) + s
	}
	return s
}
