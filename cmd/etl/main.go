package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/couchcryptid/heat-risk-etl/internal/adapter/census"
	httpadapter "github.com/couchcryptid/heat-risk-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/heat-risk-etl/internal/adapter/kafka"
	"github.com/couchcryptid/heat-risk-etl/internal/adapter/noaa"
	"github.com/couchcryptid/heat-risk-etl/internal/adapter/objectstore"
	"github.com/couchcryptid/heat-risk-etl/internal/areal"
	"github.com/couchcryptid/heat-risk-etl/internal/config"
	"github.com/couchcryptid/heat-risk-etl/internal/ledger"
	"github.com/couchcryptid/heat-risk-etl/internal/observability"
	"github.com/couchcryptid/heat-risk-etl/internal/pipeline"
	"github.com/couchcryptid/heat-risk-etl/internal/publish"
)

// downloadTimeout bounds a single raster or attribute download.
const downloadTimeout = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := objectstore.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create object store", "error", err)
		os.Exit(1)
	}

	// Run history is optional; an empty LEDGER_PATH disables it.
	var (
		runLedger *ledger.Ledger
		recorder  publish.Recorder
		runs      pipeline.RunRecorder
		history   httpadapter.RunHistory
	)
	if cfg.LedgerPath != "" {
		runLedger, err = ledger.Open(cfg.LedgerPath, logger)
		if err != nil {
			logger.Error("failed to open ledger", "error", err, "path", cfg.LedgerPath)
			os.Exit(1)
		}
		defer runLedger.Close()
		recorder, runs, history = runLedger, runLedger, runLedger
	} else {
		logger.Info("run ledger disabled")
	}

	// Publication notifications are feature-flagged via KAFKA_ENABLED.
	var notifier publish.Notifier
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		notifier = writer
		logger.Info("kafka notifications enabled", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	} else {
		logger.Info("kafka notifications disabled")
	}

	rasters := noaa.NewFetcher(cfg.RasterURLTemplate, cfg.DataDir, cfg.RasterMaxAge, downloadTimeout, logger)
	attributes := census.NewCachedSource(census.NewSource(cfg, downloadTimeout, logger), cfg.AttributeCacheTTL, metrics)

	engine := areal.NewEngine(logger, metrics, cfg.SimplifyTolerance).WithExtensive(cfg.ExtensiveColumns...)
	transformer := pipeline.NewTransformer(engine, pipeline.Rules{
		NumericColumns:     cfg.NumericColumns,
		CategoricalColumns: cfg.CategoricalColumns,
		Indicator:          cfg.Indicator,
		HeatLevels:         cfg.HeatLevels,
		Percentile:         cfg.Percentile,
	}, logger, metrics)
	publisher := publish.New(store, recorder, notifier, logger, metrics, cfg.PublishRetries)

	p := pipeline.New(rasters, attributes, engine, transformer, publisher, runs, pipeline.Options{
		Location:       cfg.Location,
		DayTimeout:     cfg.DayTimeout,
		DayConcurrency: cfg.DayConcurrency,
	}, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, history, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start the scheduled pipeline. A single run (RUN_INTERVAL=0) ends the
	// process when it finishes.
	exitCode := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := pipeline.NewScheduler(p, cfg.RunInterval, logger).Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
			exitCode = 1
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		<-done
	case <-done:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	if exitCode != 0 {
		cancel()
		if runLedger != nil {
			runLedger.Close()
		}
		os.Exit(exitCode)
	}
}
