package census

import (
	"context"
	"sync"
	"time"

	"github.com/couchcryptid/heat-risk-etl/internal/domain"
	"github.com/couchcryptid/heat-risk-etl/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Loader produces an attribute layer.
type Loader interface {
	Load(ctx context.Context) (domain.AttributeLayer, error)
}

// CachedSource wraps a Loader and reuses its last successful layer for ttl.
// A zero ttl disables caching.
type CachedSource struct {
	inner   Loader
	ttl     time.Duration
	clock   clockwork.Clock
	metrics *observability.Metrics

	mu       sync.Mutex
	layer    domain.AttributeLayer
	loadedAt time.Time
	valid    bool
}

// NewCachedSource creates a cache decorator around a loader. It reads time
// from the domain clock.
func NewCachedSource(inner Loader, ttl time.Duration, metrics *observability.Metrics) *CachedSource {
	return &CachedSource{
		inner:   inner,
		ttl:     ttl,
		clock:   domain.Clock(),
		metrics: metrics,
	}
}

// Load returns the cached layer while fresh, otherwise reloads. Concurrent
// callers wait for a single reload.
func (c *CachedSource) Load(ctx context.Context) (domain.AttributeLayer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && c.clock.Since(c.loadedAt) < c.ttl {
		c.metrics.AttributeCache.WithLabelValues("hit").Inc()
		return c.layer, nil
	}
	c.metrics.AttributeCache.WithLabelValues("miss").Inc()

	layer, err := c.inner.Load(ctx)
	if err != nil {
		// Failures are not cached so the next run retries.
		return layer, err
	}
	if c.ttl > 0 {
		c.layer, c.loadedAt, c.valid = layer, c.clock.Now(), true
	}
	return layer, nil
}
