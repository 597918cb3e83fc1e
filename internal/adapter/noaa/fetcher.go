// Package noaa downloads the daily HeatRisk forecast rasters.
package noaa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/heat-risk-etl/internal/domain"
	"github.com/couchcryptid/heat-risk-etl/internal/retry"
)

// Fetcher downloads forecast rasters into a local cache directory.
type Fetcher struct {
	httpClient  *http.Client
	urlTemplate string
	dataDir     string
	maxAge      time.Duration
	logger      *slog.Logger

	attempts   int
	backoff    time.Duration
	maxBackoff time.Duration
}

// retryableError marks failures worth another attempt: transport errors and
// 5xx responses.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// NewFetcher creates a Fetcher. urlTemplate holds one %d for the day number.
// Cached files older than maxAge are downloaded again; zero keeps them forever.
func NewFetcher(urlTemplate, dataDir string, maxAge, timeout time.Duration, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		urlTemplate: urlTemplate,
		dataDir:     dataDir,
		maxAge:      maxAge,
		logger:      logger,
		attempts:    3,
		backoff:     time.Second,
		maxBackoff:  10 * time.Second,
	}
}

// URL returns the download URL for day.
func (f *Fetcher) URL(day domain.DayLabel) string {
	return fmt.Sprintf(f.urlTemplate, day.Number())
}

// Path returns the cache location for day, e.g. "data/Day 1.tif".
func (f *Fetcher) Path(day domain.DayLabel) string {
	return filepath.Join(f.dataDir, string(day)+".tif")
}

// Fetch returns the local path of day's raster, downloading it when the cache
// is missing or stale. A stale file is still used if the download fails.
func (f *Fetcher) Fetch(ctx context.Context, day domain.DayLabel) (string, error) {
	if day.Number() == 0 {
		return "", fmt.Errorf("invalid forecast day %q", day)
	}
	path := f.Path(day)

	info, statErr := os.Stat(path)
	if statErr == nil && !f.stale(info) {
		f.logger.Debug("raster cache hit", "day", day, "path", path)
		return path, nil
	}

	err := f.downloadWithRetry(ctx, day, path)
	if err == nil {
		return path, nil
	}
	if statErr == nil && ctx.Err() == nil {
		f.logger.Warn("raster download failed, using stale copy", "day", day, "path", path, "error", err)
		return path, nil
	}
	return "", err
}

func (f *Fetcher) stale(info os.FileInfo) bool {
	return f.maxAge > 0 && domain.Clock().Since(info.ModTime()) > f.maxAge
}

// downloadWithRetry retries retryable failures with exponential backoff.
func (f *Fetcher) downloadWithRetry(ctx context.Context, day domain.DayLabel, dst string) error {
	url := f.URL(day)
	backoff := f.backoff
	var err error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		if err = f.download(ctx, url, dst); err == nil {
			return nil
		}
		var retry *retryableError
		if !errors.As(err, &retry) || ctx.Err() != nil {
			return err
		}
		f.logger.Warn("raster download failed", "day", day, "url", url, "attempt", attempt, "error", err)
		if attempt == f.attempts || !retry.Sleep(ctx, backoff) {
			break
		}
		backoff = retry.NextBackoff(backoff, f.maxBackoff)
	}
	return err
}



func (f *Fetcher) download(ctx context.Context, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return &retryableError{fmt.Errorf("raster request %s: %w", url, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("raster download %s: status %d: %s", url, resp.StatusCode, body)
		if resp.StatusCode >= http.StatusInternalServerError {
			return &retryableError{err}
		}
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".raster-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("raster download %s: %w", url, err)
	}
	if n == 0 {
		return errors.New("raster download " + url + ": empty body")
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("store raster: %w", err)
	}
	f.logger.Info("raster downloaded", "url", url, "path", dst, "bytes", n)
	return nil
}
