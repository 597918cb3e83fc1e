package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/couchcryptid/heat-risk-etl/internal/domain"
	"github.com/couchcryptid/heat-risk-etl/internal/observability"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error {
	c.closed = true
	return nil
}

var publishedAt = time.Date(2024, 7, 1, 14, 31, 0, 0, time.UTC)

func testPublication() domain.Publication {
	return domain.Publication{
		RunID:       "run-1",
		Day:         domain.DayLabelFor(2),
		Bucket:      "heat",
		ObjectKey:   "heat_risk_analysis_Day 2_20240701_143005.geoparquet",
		AliasKey:    "heat_risk_analysis_Day 2_20240701.geoparquet",
		Records:     812,
		Highlighted: 40,
		Bytes:       123456,
		PublishedAt: publishedAt,
	}
}

func TestSerializeToMessage(t *testing.T) {
	msg, err := serializeToMessage(testPublication())
	require.NoError(t, err)

	assert.Equal(t, []byte("Day 2"), msg.Key)
	assert.Contains(t, string(msg.Value), `"alias_key":"heat_risk_analysis_Day 2_20240701.geoparquet"`)
	assert.Len(t, msg.Headers, 2)
	assert.Equal(t, "run_id", msg.Headers[0].Key)
	assert.Equal(t, []byte("run-1"), msg.Headers[0].Value)
	assert.Equal(t, "published_at", msg.Headers[1].Key)
	assert.Equal(t, []byte(publishedAt.Format(time.RFC3339)), msg.Headers[1].Value)
}

func TestDecodeMessage(t *testing.T) {
	msg, err := serializeToMessage(testPublication())
	require.NoError(t, err)

	pub, err := DecodeMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, testPublication(), pub)

	_, err = DecodeMessage(kafkago.Message{Value: []byte("not json")})
	assert.Error(t, err)
}

func TestWriter_Notify(t *testing.T) {
	cw := &captureWriter{}
	w := &Writer{writer: cw, logger: observability.DiscardLogger()}

	require.NoError(t, w.Notify(context.Background(), testPublication()))
	require.Len(t, cw.msgs, 1)
	assert.Equal(t, []byte("Day 2"), cw.msgs[0].Key)

	require.NoError(t, w.Close())
	assert.True(t, cw.closed)
}

func TestWriter_NotifyError(t *testing.T) {
	cw := &captureWriter{err: errors.New("leader not available")}
	w := &Writer{writer: cw, logger: observability.DiscardLogger()}

	err := w.Notify(context.Background(), testPublication())
	assert.ErrorContains(t, err, "leader not available")
}
