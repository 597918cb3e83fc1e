package census

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/heat-risk-etl/internal/config"
	"github.com/couchcryptid/heat-risk-etl/internal/domain"
)

// Source builds the attribute layer from the boundary and health-index
// sources named in the configuration.
type Source struct {
	fetcher     *Fetcher
	zcta        string
	hhi         string
	keyField    string
	keyColumn   string
	numeric     []string
	categorical []string
	logger      *slog.Logger
}

// NewSource creates a Source from cfg. Downloads use a client with timeout.
func NewSource(cfg *config.Config, timeout time.Duration, logger *slog.Logger) *Source {
	return &Source{
		fetcher:     NewFetcher(&http.Client{Timeout: timeout}, cfg.DataDir, logger),
		zcta:        cfg.ZCTASource,
		hhi:         cfg.HHISource,
		keyField:    cfg.ZCTAKeyField,
		keyColumn:   cfg.HHIKeyColumn,
		numeric:     cfg.NumericColumns,
		categorical: cfg.CategoricalColumns,
		logger:      logger,
	}
}

// Load resolves both sources, decodes them, and joins them.
func (s *Source) Load(ctx context.Context) (domain.AttributeLayer, error) {
	zctaPath, err := s.fetcher.Resolve(ctx, s.zcta)
	if err != nil {
		return domain.AttributeLayer{}, fmt.Errorf("resolve boundaries: %w", err)
	}
	hhiPath, err := s.fetcher.Resolve(ctx, s.hhi)
	if err != nil {
		return domain.AttributeLayer{}, fmt.Errorf("resolve health index: %w", err)
	}

	bounds, err := LoadBoundaries(zctaPath, s.keyField, s.logger)
	if err != nil {
		return domain.AttributeLayer{}, err
	}
	table, err := LoadTable(hhiPath, s.keyColumn)
	if err != nil {
		return domain.AttributeLayer{}, err
	}
	layer, err := Join(bounds, table, s.numeric, s.categorical)
	if err != nil {
		return domain.AttributeLayer{}, err
	}

	s.logger.Info("attribute layer loaded",
		"boundaries", len(bounds.Features),
		"table_rows", len(table.Rows),
		"joined", len(layer.Features),
		"numeric_columns", len(layer.NumericColumns),
		"categorical_columns", len(layer.CategoricalColumns),
	)
	return layer, nil
}
