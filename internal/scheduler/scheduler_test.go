package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsPeriodically(t *testing.T) {
	s := New()
	var n int32
	require.NoError(t, s.Every("tick", 10*time.Millisecond, func(context.Context) error {
		atomic.AddInt32(&n, 1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&n) >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestScheduler_ImmediatelyAndRunNow(t *testing.T) {
	s := New()
	var n int32
	require.NoError(t, s.Every("refresh", time.Hour, func(context.Context) error {
		atomic.AddInt32(&n, 1)
		return errors.New("errors are logged, not fatal")
	}, Immediately()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&n) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, s.RunNow("refresh"))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&n) == 2 }, time.Second, 5*time.Millisecond)
	assert.False(t, s.RunNow("missing"))
}

func TestScheduler_PanicDoesNotKillJob(t *testing.T) {
	s := New()
	var n int32
	require.NoError(t, s.Every("boom", 5*time.Millisecond, func(context.Context) error {
		atomic.AddInt32(&n, 1)
		panic("boom")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&n) >= 2 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_Registration(t *testing.T) {
	s := New()
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.Every("bad", 0, noop))
	require.NoError(t, s.Every("a", time.Minute, noop))
	assert.Error(t, s.Every("a", time.Minute, noop), "duplicate names are rejected")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Run(ctx)
	assert.Error(t, s.Every("late", time.Minute, noop))
}

func TestScheduler_FirstRunAligned(t *testing.T) {
	s := New()
	s.now = func() time.Time { return time.Date(2024, 1, 1, 5, 17, 0, 0, time.UTC) }

	aligned := &job{interval: 4 * time.Hour, align: true}
	plain := &job{interval: 4 * time.Hour}

	assert.Equal(t, time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), s.firstRun(aligned))
	assert.Equal(t, time.Date(2024, 1, 1, 9, 17, 0, 0, time.UTC), s.firstRun(plain))
}
