// Package cdn is the consumer-side client for published day layers.
package cdn

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/heat-risk-etl/internal/adapter/geoparquet"
	"github.com/couchcryptid/heat-risk-etl/internal/domain"
)

// maxCachedLayers bounds the cache; one entry per forecast day and date.
const maxCachedLayers = 2 * domain.ForecastDayCount

// Client downloads day layers from the CDN or bucket they are published to.
type Client struct {
	httpClient *http.Client
	baseURL    string
	location   *time.Location
	cache      *layerCache
	logger     *slog.Logger
}

// NewClient creates a CDN client. Successful fetches are cached for cacheTTL;
// loc decides which calendar date Latest asks for.
func NewClient(baseURL string, timeout, cacheTTL time.Duration, loc *time.Location, logger *slog.Logger) *Client {
	if loc == nil {
		loc = time.UTC
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:  strings.TrimRight(baseURL, "/"),
		location: loc,
		cache:    newLayerCache(maxCachedLayers, cacheTTL, domain.Clock()),
		logger:   logger,
	}
}

// URL returns the address of day's file for date.
func (c *Client) URL(day domain.DayLabel, date time.Time) string {
	return c.baseURL + "/" + url.PathEscape(domain.ObjectKey(day, date, false))
}

// Latest fetches day's file for today's date in the client's time zone.
func (c *Client) Latest(ctx context.Context, day domain.DayLabel) (domain.ResultLayer, error) {
	return c.Fetch(ctx, day, domain.Now().In(c.location))
}

// Fetch downloads and decodes day's file published on date.
func (c *Client) Fetch(ctx context.Context, day domain.DayLabel, date time.Time) (domain.ResultLayer, error) {
	u := c.URL(day, date)
	if layer, ok := c.cache.get(u); ok {
		return layer, nil
	}
	dateStr := date.Format("20060102")

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.ResultLayer{}, &domain.FetchError{URL: u, Date: dateStr, Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.ResultLayer{}, &domain.FetchError{URL: u, Date: dateStr, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return domain.ResultLayer{}, &domain.FetchError{URL: u, Date: dateStr, StatusCode: resp.StatusCode}
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return domain.ResultLayer{}, &domain.FetchError{URL: u, Date: dateStr, Err: err}
	}
	layer, err := geoparquet.Decode(buf.Bytes())
	if err != nil {
		return domain.ResultLayer{}, &domain.DecodeError{Source: u, Err: err}
	}
	if layer.Day == "" {
		layer.Day = day
	}

	c.logger.Info("day layer fetched",
		"day", day,
		"date", dateStr,
		"records", len(layer.Records),
		"bytes", buf.Len(),
		"duration", time.Since(start),
	)
	c.cache.put(u, layer)
	return layer, nil
}
