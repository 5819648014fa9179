package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunExecutesImmediatelyThenOnTicks(t *testing.T) {
	var fetches, runs atomic.Int32
	fetch := func(context.Context) error { fetches.Add(1); return nil }
	run := func(context.Context) error { runs.Add(1); return errors.New("boom") }

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	s := New(fetch, run, time.Hour, 20*time.Millisecond, nil)
	err := s.Run(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), fetches.Load(), "fetch only on start within the hour")
	assert.GreaterOrEqual(t, runs.Load(), int32(2), "failing job keeps being scheduled")
}

func TestRunSkipsNilJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(nil, nil, 0, 0, nil)
	assert.Equal(t, 7*24*time.Hour, s.fetchInt)
	assert.Equal(t, 24*time.Hour, s.runInt)
	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
}
