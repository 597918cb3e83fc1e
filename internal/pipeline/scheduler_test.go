package pipeline_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/heat-risk-etl/internal/domain"
	"github.com/couchcryptid/heat-risk-etl/internal/observability"
	"github.com/couchcryptid/heat-risk-etl/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	runs   atomic.Int32
	err    error
	cancel context.CancelFunc
	stopAt int32
}

func (r *countingRunner) Run(_ context.Context) (domain.RunSummary, error) {
	n := r.runs.Add(1)
	if r.cancel != nil && n >= r.stopAt {
		r.cancel()
	}
	return domain.RunSummary{}, r.err
}

func TestScheduler_SingleRunReturnsError(t *testing.T) {
	runner := &countingRunner{err: errors.New("all 7 days failed")}
	s := pipeline.NewScheduler(runner, 0, observability.DiscardLogger())

	err := s.Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, int32(1), runner.runs.Load())
}

func TestScheduler_RepeatsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := &countingRunner{err: errors.New("transient"), cancel: cancel, stopAt: 3}
	s := pipeline.NewScheduler(runner, time.Millisecond, observability.DiscardLogger())

	err := s.Run(ctx)

	require.NoError(t, err, "failed runs do not stop the schedule")
	assert.Equal(t, int32(3), runner.runs.Load())
}

func TestScheduler_StopsWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	runner := &countingRunner{}
	s := pipeline.NewScheduler(runner, time.Hour, observability.DiscardLogger())

	start := time.Now()
	require.NoError(t, s.Run(ctx))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, int32(1), runner.runs.Load())
}
