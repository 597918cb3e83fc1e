package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "heat_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the pipeline.
type Metrics struct {
	RunsTotal       prometheus.Counter
	DaysTotal       *prometheus.CounterVec // labels: outcome={published,failed}
	DayDuration     prometheus.Histogram
	PipelineRunning prometheus.Gauge

	// Geometry metrics.
	PolygonsVectorized prometheus.Counter
	Intersections      prometheus.Counter
	GeometryFallbacks  *prometheus.CounterVec // labels: stage={simplify,overlay,degenerate}

	RecordsHighlighted prometheus.Counter

	// Publishing metrics.
	PublishBytes  prometheus.Counter
	PublishErrors prometheus.Counter

	// Cache metrics.
	AttributeCache *prometheus.CounterVec // labels: result={hit,miss}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RunsTotal,
		m.DaysTotal,
		m.DayDuration,
		m.PipelineRunning,
		m.PolygonsVectorized,
		m.Intersections,
		m.GeometryFallbacks,
		m.RecordsHighlighted,
		m.PublishBytes,
		m.PublishErrors,
		m.AttributeCache,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total pipeline runs started.",
		}),
		DaysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "days_total",
			Help:      "Forecast days processed by outcome.",
		}, []string{"outcome"}),
		DayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "day_duration_seconds",
			Help:      "Duration of one forecast day from raster fetch to publication.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a run is in progress, 0 otherwise.",
		}),
		PolygonsVectorized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polygons_vectorized_total",
			Help:      "Polygons produced from forecast rasters.",
		}),
		Intersections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intersections_total",
			Help:      "Non-empty polygon intersections computed during overlay.",
		}),
		GeometryFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geometry_fallbacks_total",
			Help:      "Geometry operations that fell back or were skipped, by stage.",
		}, []string{"stage"}),
		RecordsHighlighted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_highlighted_total",
			Help:      "Output polygons flagged as high risk.",
		}),
		PublishBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_bytes_total",
			Help:      "Bytes written to the object store.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Object store writes that failed after retries.",
		}),
		AttributeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attribute_cache_total",
			Help:      "Attribute layer cache lookups by result.",
		}, []string{"result"}),
	}
}
