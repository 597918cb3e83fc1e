package census

import (
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/couchcryptid/heat-risk-etl/internal/domain"
)

// Join inner-joins boundaries with the table on the normalized key. With no
// columns named, every table column is typed by inference: numeric when all
// of its non-blank joined values parse as numbers, categorical otherwise.
// Blank or unparseable numeric cells are left absent.
func Join(b Boundaries, t Table, numeric, categorical []string) (domain.AttributeLayer, error) {
	type joined struct {
		b    Boundary
		vals []string
	}
	var rows []joined
	for _, f := range b.Features {
		if vals, ok := t.Rows[f.Key]; ok {
			rows = append(rows, joined{f, vals})
		}
	}
	if len(rows) == 0 {
		return domain.AttributeLayer{}, &domain.EmptyDatasetError{Op: "join boundaries with health index"}
	}

	index := make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		index[c] = i
	}
	if len(numeric) == 0 && len(categorical) == 0 {
		vals := make([][]string, len(rows))
		for i, r := range rows {
			vals[i] = r.vals
		}
		numeric, categorical = inferColumns(t.Columns, vals)
	} else {
		for _, c := range slices.Concat(numeric, categorical) {
			if _, ok := index[c]; !ok {
				return domain.AttributeLayer{}, fmt.Errorf("health index has no column %s", c)
			}
		}
	}

	layer := domain.AttributeLayer{
		CRS:                b.CRS,
		Features:           make([]domain.AttributeFeature, len(rows)),
		NumericColumns:     numeric,
		CategoricalColumns: categorical,
	}
	for i, r := range rows {
		f := domain.AttributeFeature{
			ID:          r.b.Key,
			Geometry:    r.b.Geometry,
			Numeric:     make(map[string]float64, len(numeric)),
			Categorical: make(map[string]string, len(categorical)),
		}
		for _, c := range numeric {
			if v, ok := parseNumber(r.vals[index[c]]); ok {
				f.Numeric[c] = v
			}
		}
		for _, c := range categorical {
			if s := r.vals[index[c]]; s != "" {
				f.Categorical[c] = s
			}
		}
		layer.Features[i] = f
	}
	return layer, nil
}

// inferColumns splits columns into numeric and categorical. Columns that are
// blank in every row are dropped.
func inferColumns(columns []string, rows [][]string) (numeric, categorical []string) {
	seen := make([]bool, len(columns))
	text := make([]bool, len(columns))
	for _, vals := range rows {
		for i, v := range vals {
			if v == "" {
				continue
			}
			seen[i] = true
			if _, ok := parseNumber(v); !ok {
				text[i] = true
			}
		}
	}
	for i, c := range columns {
		switch {
		case !seen[i]:
		case text[i]:
			categorical = append(categorical, c)
		default:
			numeric = append(numeric, c)
		}
	}
	return numeric, categorical
}

func parseNumber(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
