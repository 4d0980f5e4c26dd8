package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLease struct {
	mu       sync.Mutex
	held     bool
	acquired int
	released int
	err      error
}

func (f *fakeLease) TryAcquire(context.Context, string, time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.held {
		return false, nil
	}
	f.held = true
	f.acquired++
	return true, nil
}

func (f *fakeLease) Release(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = false
	f.released++
	return nil
}

func TestStartRunsImmediatelyAndStopsOnCancel(t *testing.T) {
	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	loop := NewLoop("test", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		loop.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestTicksNeverOverlap(t *testing.T) {
	var (
		active  atomic.Int32
		overlap atomic.Bool
		runs    atomic.Int32
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := NewLoop("slow", time.Millisecond, func(context.Context) error {
		if active.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		runs.Add(1)
		return nil
	}, zap.NewNop(), WithTimeout(time.Second))

	go loop.Start(ctx)
	require.Eventually(t, func() bool { return runs.Load() >= 5 }, 2*time.Second, time.Millisecond)
	assert.False(t, overlap.Load())
}

func TestTickTimeoutCancelsSweepContext(t *testing.T) {
	loop := NewLoop("bounded", time.Hour, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, zap.NewNop(), WithTimeout(20*time.Millisecond))

	start := time.Now()
	loop.Tick(context.Background())
	assert.Less(t, time.Since(start), time.Second)
}

func TestTickSkipsWithoutLease(t *testing.T) {
	lease := &fakeLease{held: true}
	var runs int
	loop := NewLoop("leased", time.Minute, func(context.Context) error {
		runs++
		return nil
	}, zap.NewNop(), WithLease(lease))

	loop.Tick(context.Background())
	assert.Zero(t, runs)

	lease.held = false
	loop.Tick(context.Background())
	assert.Equal(t, 1, runs)
	assert.Equal(t, 1, lease.released)
	assert.False(t, lease.held)
}

func TestTickSurvivesSweepAndLeaseErrors(t *testing.T) {
	lease := &fakeLease{err: errors.New("redis down")}
	var runs int
	loop := NewLoop("failing", time.Minute, func(context.Context) error {
		runs++
		return errors.New("boom")
	}, zap.NewNop(), WithLease(lease))

	loop.Tick(context.Background())
	assert.Zero(t, runs)

	lease.err = nil
	loop.Tick(context.Background())
	assert.Equal(t, 1, runs)
}
