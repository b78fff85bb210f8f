package serial

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSerializesPerKey(t *testing.T) {
	e := New(8)
	defer e.Close()

	var (
		running atomic.Int32
		overlap atomic.Bool
		count   int
		wg      sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := e.Do(context.Background(), "room", func(context.Context) error {
				if running.Add(1) > 1 {
					overlap.Store(true)
				}
				count++
				time.Sleep(time.Millisecond)
				running.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.False(t, overlap.Load())
	assert.Equal(t, 50, count)
}

func TestDifferentKeysRunInParallel(t *testing.T) {
	e := New(1)
	defer e.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	go e.Do(context.Background(), "a", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	err := e.Do(context.Background(), "b", func(context.Context) error { return nil })
	assert.NoError(t, err)
	close(release)
}

func TestDoReturnsJobError(t *testing.T) {
	e := New(1)
	defer e.Close()

	boom := errors.New("boom")
	assert.ErrorIs(t, e.Do(context.Background(), "k", func(context.Context) error { return boom }), boom)

	err := e.Do(context.Background(), "k", func(context.Context) error { panic("oops") })
	assert.ErrorContains(t, err, "oops")

	// the worker survives a panic
	assert.NoError(t, e.Do(context.Background(), "k", func(context.Context) error { return nil }))
}

func TestReapRemovesIdleWorkers(t *testing.T) {
	e := New(1)
	defer e.Close()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	require.NoError(t, e.Do(context.Background(), "a", func(context.Context) error { return nil }))
	require.NoError(t, e.Do(context.Background(), "b", func(context.Context) error { return nil }))
	assert.Equal(t, 2, e.Workers())

	assert.Zero(t, e.Reap(time.Minute))

	now = now.Add(time.Minute)
	assert.Equal(t, 2, e.Reap(time.Minute))
	assert.Zero(t, e.Workers())

	require.NoError(t, e.Do(context.Background(), "a", func(context.Context) error { return nil }))
	assert.Equal(t, 1, e.Workers())
}

func TestCloseRejectsNewWork(t *testing.T) {
	e := New(1)
	require.NoError(t, e.Do(context.Background(), "a", func(context.Context) error { return nil }))
	e.Close()
	e.Close()

	err := e.Do(context.Background(), "a", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseWaitsForRunningJob(t *testing.T) {
	e := New(1)

	started := make(chan struct{})
	var finished atomic.Bool
	go e.Do(context.Background(), "a", func(context.Context) error {
		close(started)
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return nil
	})
	<-started

	e.Close()
	assert.True(t, finished.Load())
}

func TestQueuedJobOutlivesCallerCancel(t *testing.T) {
	e := New(1)
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())

	var jobErr error
	err := e.Do(ctx, "a", func(ctx context.Context) error {
		cancel()
		jobErr = ctx.Err()
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, jobErr)
}
