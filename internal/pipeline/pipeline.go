// Package pipeline runs the daily heat-risk batch: fetch each forecast day's
// raster, attribute it with the health index, and publish the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/heat-risk-etl/internal/areal"
	"github.com/couchcryptid/heat-risk-etl/internal/domain"
	"github.com/couchcryptid/heat-risk-etl/internal/observability"
	"github.com/couchcryptid/heat-risk-etl/internal/raster"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// RasterSource returns a local path to a forecast day's GeoTIFF.
type RasterSource interface {
	Fetch(ctx context.Context, day domain.DayLabel) (string, error)
}

// AttributeSource loads the joined boundary + health-index layer.
type AttributeSource interface {
	Load(ctx context.Context) (domain.AttributeLayer, error)
}

// Publisher stores one day's result layer.
type Publisher interface {
	Publish(ctx context.Context, runID string, layer domain.ResultLayer, runTime time.Time) (domain.Publication, error)
}

// RunRecorder persists run history. It is optional.
type RunRecorder interface {
	StartRun(ctx context.Context, runID string, startedAt time.Time) error
	FinishRun(ctx context.Context, summary domain.RunSummary) error
}

// Options tunes a run.
type Options struct {
	Days           []domain.DayLabel // defaults to all forecast days
	Location       *time.Location    // time zone of the run timestamp
	DayTimeout     time.Duration
	DayConcurrency int
	// RasterCRS is assumed for rasters that declare no EPSG code.
	RasterCRS domain.CRS
}

// Pipeline orchestrates one run across all forecast days.
type Pipeline struct {
	rasters     RasterSource
	attributes  AttributeSource
	engine      *areal.Engine
	transformer *DayTransformer
	publisher   Publisher
	recorder    RunRecorder
	opts        Options
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
}

// New creates a Pipeline. recorder may be nil.
func New(rasters RasterSource, attributes AttributeSource, engine *areal.Engine, transformer *DayTransformer, publisher Publisher, recorder RunRecorder, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	if len(opts.Days) == 0 {
		opts.Days = domain.ForecastDays()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.DayConcurrency < 1 {
		opts.DayConcurrency = 1
	}
	if opts.RasterCRS == "" {
		opts.RasterCRS = domain.CRSWebMercator
	}
	return &Pipeline{
		rasters:     rasters,
		attributes:  attributes,
		engine:      engine,
		transformer: transformer,
		publisher:   publisher,
		recorder:    recorder,
		opts:        opts,
		logger:      logger,
		metrics:     metrics,
	}
}

// CheckReadiness returns nil once a run has published at least one day,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not published any day yet")
	}
	return nil
}

// Run processes every configured day once. Day failures are logged, counted,
// and recorded without stopping the other days. The returned error is
// non-nil only when no day was published.
func (p *Pipeline) Run(ctx context.Context) (domain.RunSummary, error) {
	runID := uuid.NewString()
	runTime := domain.Now().In(p.opts.Location)
	summary := domain.RunSummary{RunID: runID, StartedAt: runTime}

	p.logger.Info("pipeline run started", "run_id", runID, "days", len(p.opts.Days), "day_concurrency", p.opts.DayConcurrency)
	p.metrics.RunsTotal.Inc()
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	if p.recorder != nil {
		if err := p.recorder.StartRun(ctx, runID, runTime); err != nil {
			p.logger.Warn("record run start failed", "error", err, "run_id", runID)
		}
	}

	outcomes := make([]domain.DayOutcome, len(p.opts.Days))
	errs := make([]error, len(p.opts.Days))

	idx, err := p.prepareAttributes(ctx)
	if err != nil {
		p.logger.Error("attribute layer unavailable, failing every day", "error", err, "run_id", runID)
		for i, day := range p.opts.Days {
			errs[i] = &domain.DayError{Day: day, Stage: "attributes", Err: err}
			outcomes[i] = p.failDay(runID, day, errs[i], 0)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.opts.DayConcurrency)
		for i, day := range p.opts.Days {
			g.Go(func() error {
				outcomes[i], errs[i] = p.runDay(gctx, runID, runTime, day, idx)
				return nil
			})
		}
		_ = g.Wait()
	}

	summary.Days = outcomes
	summary.FinishedAt = domain.Now().In(p.opts.Location)
	if p.recorder != nil {
		if err := p.recorder.FinishRun(context.WithoutCancel(ctx), summary); err != nil {
			p.logger.Warn("record run finish failed", "error", err, "run_id", runID)
		}
	}

	succeeded := summary.Succeeded()
	p.logger.Info("pipeline run finished",
		"run_id", runID,
		"published", succeeded,
		"failed", summary.Failed(),
		"duration", summary.FinishedAt.Sub(summary.StartedAt),
	)
	if succeeded == 0 {
		return summary, fmt.Errorf("run %s: all %d days failed: %w", runID, len(outcomes), errors.Join(errs...))
	}
	p.ready.Store(true)
	return summary, nil
}

func (p *Pipeline) prepareAttributes(ctx context.Context) (*areal.Index, error) {
	attrs, err := p.attributes.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load attributes: %w", err)
	}
	idx, err := p.engine.Prepare(attrs, p.opts.RasterCRS)
	if err != nil {
		return nil, fmt.Errorf("prepare attributes: %w", err)
	}
	p.logger.Info("attribute index ready", "features", idx.Len(), "crs", idx.CRS())
	return idx, nil
}

// runDay runs one day under its own timeout.
func (p *Pipeline) runDay(ctx context.Context, runID string, runTime time.Time, day domain.DayLabel, idx *areal.Index) (domain.DayOutcome, error) {
	start := time.Now()
	if p.opts.DayTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.DayTimeout)
		defer cancel()
	}

	pub, err := p.processDay(ctx, runID, runTime, day, idx)
	elapsed := time.Since(start)
	p.metrics.DayDuration.Observe(elapsed.Seconds())
	if err != nil {
		return p.failDay(runID, day, err, elapsed), err
	}

	p.metrics.DaysTotal.WithLabelValues("published").Inc()
	return domain.DayOutcome{Day: day, Published: true, Publication: &pub, Duration: elapsed}, nil
}

func (p *Pipeline) processDay(ctx context.Context, runID string, runTime time.Time, day domain.DayLabel, idx *areal.Index) (domain.Publication, error) {
	path, err := p.rasters.Fetch(ctx, day)
	if err != nil {
		return domain.Publication{}, &domain.DayError{Day: day, Stage: "fetch", Err: err}
	}
	grid, err := raster.ReadGeoTIFF(path, raster.ReadOptions{DefaultCRS: p.opts.RasterCRS})
	if err != nil {
		return domain.Publication{}, &domain.DayError{Day: day, Stage: "read", Err: err}
	}

	layer, err := p.transformer.Transform(ctx, day, grid, idx)
	if err != nil {
		return domain.Publication{}, err
	}

	pub, err := p.publisher.Publish(ctx, runID, layer, runTime)
	if err != nil {
		return domain.Publication{}, &domain.DayError{Day: day, Stage: "publish", Err: err}
	}
	return pub, nil
}

func (p *Pipeline) failDay(runID string, day domain.DayLabel, err error, elapsed time.Duration) domain.DayOutcome {
	p.logger.Error("day failed, skipping", "error", err, "day", day, "run_id", runID)
	p.metrics.DaysTotal.WithLabelValues("failed").Inc()
	return domain.DayOutcome{Day: day, Error: err.Error(), Duration: elapsed}
}
