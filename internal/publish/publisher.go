// Package publish writes attributed day layers to the object store and
// announces them.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/heat-risk-etl/internal/adapter/geoparquet"
	"github.com/couchcryptid/heat-risk-etl/internal/domain"
	"github.com/couchcryptid/heat-risk-etl/internal/retry"
	"github.com/couchcryptid/heat-risk-etl/internal/observability"
)

// ContentType is the media type published files are stored with.
const ContentType = "application/vnd.apache.parquet"

// Store is the durable destination for published files.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Location() string
}

// Recorder persists publications, e.g. in the run ledger.
type Recorder interface {
	RecordPublication(ctx context.Context, pub domain.Publication) error
}

// Notifier announces publications to downstream consumers.
type Notifier interface {
	Notify(ctx context.Context, pub domain.Publication) error
}

// Publisher encodes a result layer and stores it under its timestamped key and
// its date-only alias. Re-publishing overwrites; there is no deduplication.
type Publisher struct {
	store    Store
	recorder Recorder
	notifier Notifier
	logger   *slog.Logger
	metrics  *observability.Metrics
	attempts int

	backoff    time.Duration
	maxBackoff time.Duration
}

// New creates a Publisher. recorder and notifier may be nil. attempts is the
// number of tries per object before giving up.
func New(store Store, recorder Recorder, notifier Notifier, logger *slog.Logger, metrics *observability.Metrics, attempts int) *Publisher {
	if attempts < 1 {
		attempts = 1
	}
	return &Publisher{
		store:      store,
		recorder:   recorder,
		notifier:   notifier,
		logger:     logger,
		metrics:    metrics,
		attempts:   attempts,
		backoff:    200 * time.Millisecond,
		maxBackoff: 5 * time.Second,
	}
}

// Publish stores layer for its day. runTime fixes both keys so every day of a
// run shares one timestamp.
func (p *Publisher) Publish(ctx context.Context, runID string, layer domain.ResultLayer, runTime time.Time) (domain.Publication, error) {
	var buf bytes.Buffer
	if err := geoparquet.Encode(&buf, layer); err != nil {
		return domain.Publication{}, fmt.Errorf("encode %s: %w", layer.Day, err)
	}
	body := buf.Bytes()

	pub := domain.Publication{
		RunID:       runID,
		Day:         layer.Day,
		Bucket:      p.store.Location(),
		ObjectKey:   domain.ObjectKey(layer.Day, runTime, true),
		AliasKey:    domain.ObjectKey(layer.Day, runTime, false),
		Records:     len(layer.Records),
		Highlighted: layer.HighlightCount(),
		Bytes:       len(body),
	}

	for _, key := range []string{pub.ObjectKey, pub.AliasKey} {
		if err := p.put(ctx, key, body); err != nil {
			p.metrics.PublishErrors.Inc()
			return domain.Publication{}, &domain.PublishError{Bucket: pub.Bucket, Key: key, Err: err}
		}
		p.metrics.PublishBytes.Add(float64(len(body)))
	}
	pub.PublishedAt = domain.Now()

	p.logger.Info("day published",
		"run_id", runID,
		"day", layer.Day,
		"object_key", pub.ObjectKey,
		"alias_key", pub.AliasKey,
		"records", pub.Records,
		"highlighted", pub.Highlighted,
		"bytes", pub.Bytes,
	)

	if p.recorder != nil {
		if err := p.recorder.RecordPublication(ctx, pub); err != nil {
			p.logger.Warn("record publication failed", "error", err, "day", layer.Day, "run_id", runID)
		}
	}
	if p.notifier != nil {
		if err := p.notifier.Notify(ctx, pub); err != nil {
			p.logger.Warn("publication notification failed", "error", err, "day", layer.Day, "run_id", runID)
		}
	}
	return pub, nil
}

// put retries the store write with exponential backoff.
func (p *Publisher) put(ctx context.Context, key string, body []byte) error {
	backoff := p.backoff
	var err error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err = p.store.Put(ctx, key, body, ContentType); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		p.logger.Warn("store put failed", "error", err, "object_key", key, "attempt", attempt)
		if attempt == p.attempts || !retry.Sleep(ctx, backoff) {
			break
		}
		backoff = retry.NextBackoff(backoff, p.maxBackoff)
	}
	return err
}
