package cdn

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/heat-risk-etl/internal/adapter/geoparquet"
	"github.com/couchcryptid/heat-risk-etl/internal/domain"
	"github.com/couchcryptid/heat-risk-etl/internal/observability"
	"github.com/ctessum/geom"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var published = time.Date(2024, time.July, 1, 14, 30, 5, 0, time.UTC)

func encodedDay(t *testing.T) []byte {
	t.Helper()
	layer := domain.ResultLayer{
		CRS:            domain.CRSGeographic,
		Day:            domain.DayLabelFor(1),
		NumericColumns: []string{"OVERALL_SCORE"},
		Records: []domain.WeightedPolygon{{
			Geometry:  geom.Polygon{{{X: -74, Y: 40}, {X: -73, Y: 40}, {X: -73, Y: 41}, {X: -74, Y: 40}}},
			Value:     4,
			Weighted:  map[string]float64{"OVERALL_SCORE": 0.92},
			Highlight: true,
		}},
	}
	var buf bytes.Buffer
	require.NoError(t, geoparquet.Encode(&buf, layer))
	return buf.Bytes()
}

type cdnServer struct {
	*httptest.Server
	hits atomic.Int32
	uris chan string
}

func newCDN(t *testing.T, handler http.HandlerFunc) *cdnServer {
	t.Helper()
	s := &cdnServer{uris: make(chan string, 16)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		s.uris <- r.RequestURI
		handler(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func testClient(t *testing.T, baseURL string) (*Client, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClockAt(published)
	domain.SetClock(fc)
	t.Cleanup(func() { domain.SetClock(nil) })
	return NewClient(baseURL+"/", 5*time.Second, 5*time.Minute, time.UTC, observability.DiscardLogger()), fc
}

func TestClient_FetchDecodesAndCaches(t *testing.T) {
	body := encodedDay(t)
	srv := newCDN(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(body)
	})
	c, fc := testClient(t, srv.URL)

	layer, err := c.Fetch(context.Background(), domain.DayLabelFor(1), published)
	require.NoError(t, err)
	assert.Equal(t, "/heat_risk_analysis_Day%201_20240701.geoparquet", <-srv.uris)
	require.Len(t, layer.Records, 1)
	assert.True(t, layer.Records[0].Highlight)
	assert.Equal(t, domain.DayLabelFor(1), layer.Day)

	_, err = c.Fetch(context.Background(), domain.DayLabelFor(1), published)
	require.NoError(t, err)
	assert.Equal(t, int32(1), srv.hits.Load(), "second fetch served from cache")

	fc.Advance(5 * time.Minute)
	_, err = c.Fetch(context.Background(), domain.DayLabelFor(1), published)
	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.hits.Load(), "expired entry refetched")
}

func TestClient_NotFoundIsFetchError(t *testing.T) {
	srv := newCDN(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "NoSuchKey", http.StatusNotFound)
	})
	c, _ := testClient(t, srv.URL)

	_, err := c.Fetch(context.Background(), domain.DayLabelFor(2), published)

	var fe *domain.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.Equal(t, "20240701", fe.Date)
	assert.Equal(t, c.URL(domain.DayLabelFor(2), published), fe.URL)

	_, err = c.Fetch(context.Background(), domain.DayLabelFor(2), published)
	require.Error(t, err)
	assert.Equal(t, int32(2), srv.hits.Load(), "failures are not cached")
}

func TestClient_TransportFailureIsFetchError(t *testing.T) {
	srv := newCDN(t, func(http.ResponseWriter, *http.Request) {})
	c, _ := testClient(t, srv.URL)
	srv.Close()

	_, err := c.Fetch(context.Background(), domain.DayLabelFor(1), published)

	var fe *domain.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Zero(t, fe.StatusCode)
	assert.Error(t, fe.Err)
}

func TestClient_GarbageIsDecodeError(t *testing.T) {
	srv := newCDN(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	})
	c, _ := testClient(t, srv.URL)

	_, err := c.Fetch(context.Background(), domain.DayLabelFor(1), published)

	var de *domain.DecodeError
	require.ErrorAs(t, err, &de)
	var fe *domain.FetchError
	assert.NotErrorAs(t, err, &fe)
}

func TestClient_LatestUsesLocalDate(t *testing.T) {
	srv := newCDN(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	fc := clockwork.NewFakeClockAt(time.Date(2024, time.July, 2, 2, 0, 0, 0, time.UTC))
	domain.SetClock(fc)
	t.Cleanup(func() { domain.SetClock(nil) })
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	c := NewClient(srv.URL, time.Second, time.Minute, ny, observability.DiscardLogger())

	_, _ = c.Latest(context.Background(), domain.DayLabelFor(1))

	assert.Equal(t, "/heat_risk_analysis_Day%201_20240701.geoparquet", <-srv.uris, "22:00 EDT is still July 1")
}
