package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScheduler_RunsJobs(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	var ok, failing, panicking atomic.Int32

	require.NoError(t, s.Every("ok", time.Second, func(ctx context.Context) error {
		ok.Add(1)
		return nil
	}))
	require.NoError(t, s.Every("failing", time.Second, func(ctx context.Context) error {
		failing.Add(1)
		return errors.New("boom")
	}))
	require.NoError(t, s.Every("panicking", time.Second, func(ctx context.Context) error {
		panicking.Add(1)
		panic("job bug")
	}))

	s.Start()
	assert.Eventually(t, func() bool {
		return ok.Load() > 0 && failing.Load() > 0 && panicking.Load() > 0
	}, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestScheduler_RejectsBadInterval(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	assert.Error(t, s.Every("zero", 0, func(context.Context) error { return nil }))
}

func TestScheduler_StopCancelsJobContext(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	started := make(chan struct{})
	var cancelled atomic.Bool

	require.NoError(t, s.Every("long", time.Second, func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}))
	s.Start()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.True(t, cancelled.Load())
}
