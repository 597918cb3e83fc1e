package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httpadapter "github.com/couchcryptid/heat-risk-etl/internal/adapter/http"
	"github.com/couchcryptid/heat-risk-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockHistory struct {
	runs      []domain.RunSummary
	pubs      map[domain.DayLabel]domain.Publication
	err       error
	lastLimit int
}

func (m *mockHistory) RecentRuns(_ context.Context, limit int) ([]domain.RunSummary, error) {
	m.lastLimit = limit
	return m.runs, m.err
}

func (m *mockHistory) LatestPublication(_ context.Context, day domain.DayLabel) (domain.Publication, bool, error) {
	if m.err != nil {
		return domain.Publication{}, false, m.err
	}
	p, ok := m.pubs[day]
	return p, ok, nil
}

func newTestServer(readyErr error) *httpadapter.Server {
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, nil, slog.Default())
}

func serve(srv *httpadapter.Server, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := serve(newTestServer(nil), "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := serve(newTestServer(nil), "/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := serve(newTestServer(fmt.Errorf("no day published yet")), "/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "no day published yet", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(newTestServer(nil), "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRunsOmittedWithoutHistory(t *testing.T) {
	rec := serve(newTestServer(nil), "/runs")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunsListsHistory(t *testing.T) {
	started := time.Date(2024, 7, 1, 14, 30, 0, 0, time.UTC)
	history := &mockHistory{runs: []domain.RunSummary{{
		RunID:     "run-1",
		StartedAt: started,
		Days:      []domain.DayOutcome{{Day: domain.DayLabelFor(1), Published: true}},
	}}}
	srv := httpadapter.NewServer(":0", &mockReadiness{}, history, slog.Default())

	rec := serve(srv, "/runs?limit=500")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 100, history.lastLimit, "limit capped")
	var runs []domain.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
	assert.True(t, runs[0].Days[0].Published)
}

func TestRunsEmptyIsArray(t *testing.T) {
	srv := httpadapter.NewServer(":0", &mockReadiness{}, &mockHistory{}, slog.Default())

	rec := serve(srv, "/runs")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestRunsBadLimit(t *testing.T) {
	srv := httpadapter.NewServer(":0", &mockReadiness{}, &mockHistory{}, slog.Default())

	rec := serve(srv, "/runs?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunsHistoryError(t *testing.T) {
	srv := httpadapter.NewServer(":0", &mockReadiness{}, &mockHistory{err: errors.New("disk I/O error")}, slog.Default())

	rec := serve(srv, "/runs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk I/O")
}

func TestLatestPublication(t *testing.T) {
	pub := domain.Publication{RunID: "run-9", Day: domain.DayLabelFor(3), AliasKey: "heat_risk_analysis_Day 3_20240701.geoparquet"}
	history := &mockHistory{pubs: map[domain.DayLabel]domain.Publication{pub.Day: pub}}
	srv := httpadapter.NewServer(":0", &mockReadiness{}, history, slog.Default())

	rec := serve(srv, "/publications/Day%203")
	assert.Equal(t, http.StatusOK, rec.Code)
	var got domain.Publication
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, pub.AliasKey, got.AliasKey)

	assert.Equal(t, http.StatusNotFound, serve(srv, "/publications/Day%204").Code)
	assert.Equal(t, http.StatusBadRequest, serve(srv, "/publications/today").Code)
}
