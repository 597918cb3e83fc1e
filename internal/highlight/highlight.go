// Package highlight flags output polygons whose health-index indicator is in
// the upper tail of its distribution and whose heat-risk level is selected.
package highlight

import (
	"fmt"
	"math"
	"slices"

	"github.com/couchcryptid/heat-risk-etl/internal/domain"
)

// Result is the highlighted copy of the input and the threshold used.
type Result struct {
	Records   []domain.WeightedPolygon
	Threshold float64
	Count     int
}

// Highlight computes the percentile threshold of indicator over every record
// carrying it and flags records at or above the threshold whose raster value
// is in levels. The input slice is not modified.
func Highlight(records []domain.WeightedPolygon, indicator string, levels []int, percentile float64) (Result, error) {
	if percentile < 0 || percentile > 100 || math.IsNaN(percentile) {
		return Result{}, fmt.Errorf("percentile %v outside [0, 100]", percentile)
	}
	if len(records) == 0 {
		return Result{}, &domain.EmptyDatasetError{Op: "highlight"}
	}

	values := make([]float64, 0, len(records))
	for _, r := range records {
		if v, ok := r.Weighted[indicator]; ok && !math.IsNaN(v) {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return Result{}, &domain.EmptyDatasetError{Op: "highlight " + indicator}
	}
	threshold := Percentile(values, percentile)

	out := Result{Records: make([]domain.WeightedPolygon, len(records)), Threshold: threshold}
	for i, r := range records {
		v, ok := r.Weighted[indicator]
		r.Highlight = ok && v >= threshold && slices.Contains(levels, r.Value)
		if r.Highlight {
			out.Count++
		}
		out.Records[i] = r
	}
	return out, nil
}

// Percentile returns the p-th percentile of values using linear interpolation
// between the closest ranks, rank = p/100 * (n-1). values is not modified and
// must be non-empty.
func Percentile(values []float64, p float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (rank-float64(lo))*(sorted[hi]-sorted[lo])
}
