package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/heat-risk-etl/internal/areal"
	"github.com/couchcryptid/heat-risk-etl/internal/domain"
	"github.com/couchcryptid/heat-risk-etl/internal/highlight"
	"github.com/couchcryptid/heat-risk-etl/internal/observability"
	"github.com/couchcryptid/heat-risk-etl/internal/raster"
)

// Rules selects the attribute columns to carry and the high-risk filter.
type Rules struct {
	NumericColumns     []string // empty means every numeric column of the attribute layer
	CategoricalColumns []string // empty means every categorical column
	Indicator          string
	HeatLevels         []int
	Percentile         float64
}

// DayTransformer turns one forecast raster into an attributed, highlighted
// result layer.
type DayTransformer struct {
	engine  *areal.Engine
	rules   Rules
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewTransformer creates a DayTransformer.
func NewTransformer(engine *areal.Engine, rules Rules, logger *slog.Logger, metrics *observability.Metrics) *DayTransformer {
	return &DayTransformer{
		engine:  engine,
		rules:   rules,
		logger:  logger,
		metrics: metrics,
	}
}

// Transform vectorizes grid into the index's planar CRS, interpolates the
// attributes onto it, and flags high-risk polygons. Errors come back as
// *domain.DayError naming the failed stage.
func (t *DayTransformer) Transform(ctx context.Context, day domain.DayLabel, grid *domain.RasterGrid, idx *areal.Index) (domain.ResultLayer, error) {
	layer, err := raster.Vectorize(grid, raster.Options{TargetCRS: idx.CRS()})
	if err != nil {
		return domain.ResultLayer{}, &domain.DayError{Day: day, Stage: "vectorize", Err: err}
	}
	t.metrics.PolygonsVectorized.Add(float64(len(layer.Features)))

	numeric, categorical := t.columns(idx)
	result, err := t.engine.InterpolateIndexed(ctx, idx, layer, numeric, categorical)
	if err != nil {
		return domain.ResultLayer{}, &domain.DayError{Day: day, Stage: "interpolate", Err: err}
	}
	result.Day = day

	hl, err := highlight.Highlight(result.Records, t.rules.Indicator, t.rules.HeatLevels, t.rules.Percentile)
	if err != nil {
		return domain.ResultLayer{}, &domain.DayError{Day: day, Stage: "highlight", Err: err}
	}
	result.Records = hl.Records
	t.metrics.RecordsHighlighted.Add(float64(hl.Count))

	t.logger.Info("day transformed",
		"day", day,
		"polygons", len(layer.Features),
		"highlighted", hl.Count,
		"threshold", hl.Threshold,
		"indicator", t.rules.Indicator,
	)
	return result, nil
}

func (t *DayTransformer) columns(idx *areal.Index) (numeric, categorical []string) {
	attrs := idx.Attributes()
	numeric, categorical = t.rules.NumericColumns, t.rules.CategoricalColumns
	if len(numeric) == 0 {
		numeric = attrs.NumericColumns
	}
	if len(categorical) == 0 {
		categorical = attrs.CategoricalColumns
	}
	return numeric, categorical
}
