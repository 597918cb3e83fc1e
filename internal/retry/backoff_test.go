package retry_test

import (
	"context"
	"testing"
	"time"

	"github.com/couchcryptid/heat-risk-etl/internal/retry"
	"github.com/stretchr/testify/assert"
)

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 400*time.Millisecond, retry.NextBackoff(200*time.Millisecond, 5*time.Second))
	assert.Equal(t, 5*time.Second, retry.NextBackoff(4*time.Second, 5*time.Second))
	assert.Equal(t, 5*time.Second, retry.NextBackoff(5*time.Second, 5*time.Second))
}

func TestSleep_NonPositiveReturnsImmediately(t *testing.T) {
	start := time.Now()
	assert.True(t, retry.Sleep(context.Background(), 0))
	assert.True(t, retry.Sleep(context.Background(), -time.Second))
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleep_Waits(t *testing.T) {
	start := time.Now()
	assert.True(t, retry.Sleep(context.Background(), 10*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, retry.Sleep(ctx, time.Hour))
	assert.False(t, retry.Sleep(ctx, 0), "a done context wins over a zero wait")
}

func TestSleep_CancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	assert.False(t, retry.Sleep(ctx, time.Hour))
	assert.Less(t, time.Since(start), 5*time.Second)
}
