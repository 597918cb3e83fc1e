// Command validate checks published heat-risk GeoParquet files: file
// metadata, record sanity, and that the highlight flags match a recomputation
// under the configured rules (INDICATOR, HEAT_LEVELS, PERCENTILE).
//
// Usage:
//
//	go run ./cmd/validate data/published/heat_risk_analysis_Day\ 1_20240701.geoparquet ...
//	go run ./cmd/validate -dir data/published
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"github.com/couchcryptid/heat-risk-etl/internal/adapter/geoparquet"
	"github.com/couchcryptid/heat-risk-etl/internal/config"
	"github.com/couchcryptid/heat-risk-etl/internal/domain"
	"github.com/couchcryptid/heat-risk-etl/internal/highlight"
	"github.com/parquet-go/parquet-go"
)

// maxHeatRisk is the highest category on the NWS HeatRisk scale.
const maxHeatRisk = 4

var keyPattern = regexp.MustCompile(`^heat_risk_analysis_(Day [1-7])_\d{8}(_\d{6})?\.geoparquet$`)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

type rules struct {
	indicator  string
	levels     []int
	percentile float64
}

func main() {
	dir := flag.String("dir", "", "directory of .geoparquet files to validate")
	flag.Parse()

	paths := flag.Args()
	if *dir != "" {
		matches, err := filepath.Glob(filepath.Join(*dir, "*.geoparquet"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			os.Exit(1)
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config: %v\n", err)
		os.Exit(1)
	}

	r := rules{indicator: cfg.Indicator, levels: cfg.HeatLevels, percentile: cfg.Percentile}
	if code := run(os.Stdout, paths, r); code != 0 {
		os.Exit(code)
	}
}

func run(w io.Writer, paths []string, r rules) int {
	fmt.Fprintln(w, "=== Heat Risk Output Validation ===")

	allPassed := true
	for _, path := range paths {
		phases := validateFile(path, r)

		fmt.Fprintf(w, "\n%s\n", filepath.Base(path))
		for _, p := range phases {
			status := "\033[32mPASS\033[0m"
			if !p.passed() {
				status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
				allPassed = false
			}
			fmt.Fprintf(w, "  %-30s %s\n", p.name, status)
		}
		for _, p := range phases {
			for i, e := range p.errors {
				fmt.Fprintf(w, "    %s [%d] %s\n", p.name, i+1, e)
			}
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(w, "\nValidation FAILED.")
	return 1
}

func validateFile(path string, r rules) []*phase {
	structure := &phase{name: "file structure"}
	records := &phase{name: "records"}
	flags := &phase{name: "highlight flags"}
	phases := []*phase{structure, records, flags}

	data, err := os.ReadFile(path)
	if err != nil {
		structure.errorf("read: %v", err)
		return phases
	}

	f, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		structure.errorf("open parquet: %v", err)
		return phases
	}
	meta, err := geoparquet.ReadMetadata(f)
	if err != nil {
		structure.errorf("%v", err)
		return phases
	}
	checkMetadata(structure, meta)

	layer, err := geoparquet.Decode(data)
	if err != nil {
		structure.errorf("decode: %v", err)
		return phases
	}
	checkName(structure, filepath.Base(path), layer.Day)
	checkColumns(structure, f, layer)

	checkRecords(records, layer)
	checkHighlights(flags, layer, r)
	return phases
}

func checkMetadata(p *phase, meta geoparquet.Metadata) {
	if meta.PrimaryColumn != domain.GeometryColumn {
		p.errorf("primary column %q, want %q", meta.PrimaryColumn, domain.GeometryColumn)
	}
	col := meta.Columns[meta.PrimaryColumn]
	if c := col.CRS; c != nil && c.ID != nil && (c.ID.Authority != "EPSG" || c.ID.Code != 4326) {
		p.errorf("crs %s:%d, want EPSG:4326", c.ID.Authority, c.ID.Code)
	}
	for _, t := range col.GeometryTypes {
		if t != "Polygon" && t != "MultiPolygon" {
			p.errorf("unexpected geometry type %q", t)
		}
	}
	if len(col.BBox) != 0 && len(col.BBox) != 4 {
		p.errorf("bbox has %d values, want 4", len(col.BBox))
	}
}

func checkName(p *phase, name string, day domain.DayLabel) {
	m := keyPattern.FindStringSubmatch(name)
	if m == nil {
		p.errorf("file name %q does not follow heat_risk_analysis_<day>_<date>[_<time>].geoparquet", name)
		return
	}
	if day == "" {
		p.errorf("file metadata has no day label")
		return
	}
	if m[1] != string(day) {
		p.errorf("file name says %q, metadata says %q", m[1], day)
	}
}

func checkColumns(p *phase, f *parquet.File, layer domain.ResultLayer) {
	var got []string
	for _, path := range f.Schema().Columns() {
		got = append(got, path[0])
	}
	slices.Sort(got)
	if want := geoparquet.Columns(layer); !slices.Equal(got, want) {
		p.errorf("columns %v, want %v", got, want)
	}
}

func checkRecords(p *phase, layer domain.ResultLayer) {
	if len(layer.Records) == 0 {
		p.errorf("file has no records")
		return
	}
	for i, rec := range layer.Records {
		if rec.Value < 0 || rec.Value > maxHeatRisk {
			p.errorf("record %d: raster value %d outside 0..%d", i, rec.Value, maxHeatRisk)
		}
		if a := rec.Geometry.Area(); !(a > 0) {
			p.errorf("record %d: geometry area %v", i, a)
		}
		b := rec.Geometry.Bounds()
		if b.Min.X < -180 || b.Max.X > 180 || b.Min.Y < -90 || b.Max.Y > 90 {
			p.errorf("record %d: bounds outside lon/lat range", i)
		}
		for col, v := range rec.Weighted {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				p.errorf("record %d: %s%s is %v", i, domain.WeightedPrefix, col, v)
			}
		}
	}
}

func checkHighlights(p *phase, layer domain.ResultLayer, r rules) {
	if len(layer.Records) == 0 {
		return
	}
	if !slices.Contains(layer.NumericColumns, r.indicator) {
		p.errorf("indicator %q is not a weighted column", r.indicator)
		return
	}
	res, err := highlight.Highlight(layer.Records, r.indicator, r.levels, r.percentile)
	if err != nil {
		p.errorf("recompute: %v", err)
		return
	}
	for i, rec := range layer.Records {
		if rec.Highlight != res.Records[i].Highlight {
			p.errorf("record %d: highlight=%t, recomputed %t (level %d, %s=%v, threshold %v)",
				i, rec.Highlight, res.Records[i].Highlight, rec.Value, r.indicator, rec.Weighted[r.indicator], res.Threshold)
		}
	}
}
