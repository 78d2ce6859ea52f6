package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/marketmaker/errs"
)

func TestNewPoolRequiresWorkers(t *testing.T) {
	_, err := NewPool(0, 1, nil)
	require.Error(t, err)
	require.Equal(t, errs.CodeInvalid, errs.CodeOf(err))
}

func TestShutdownDrainsQueuedTasks(t *testing.T) {
	pool, err := NewPool(1, 16, nil)
	require.NoError(t, err)

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
			time.Sleep(time.Millisecond)
			ran.Add(1)
			return nil
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(ctx))
	require.EqualValues(t, 10, ran.Load())
}

func TestSubmitReportsBackpressure(t *testing.T) {
	pool, err := NewPool(1, 1, nil)
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error { return nil }))

	err = pool.Submit(context.Background(), func(context.Context) error { return nil })
	require.Error(t, err)
	require.Equal(t, errs.CodeUnavailable, errs.CodeOf(err))

	close(release)
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestSubmitAfterCloseFails(t *testing.T) {
	pool, err := NewPool(2, 4, nil)
	require.NoError(t, err)
	pool.Close()
	pool.Close()

	err = pool.Submit(context.Background(), func(context.Context) error { return nil })
	require.Error(t, err)
	require.Equal(t, errs.CodeUnavailable, errs.CodeOf(err))
}

func TestSubmitRejectsNilAndCancelled(t *testing.T) {
	pool, err := NewPool(1, 1, nil)
	require.NoError(t, err)
	defer pool.Close()

	require.Error(t, pool.Submit(context.Background(), nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = pool.Submit(ctx, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestErrorsAndPanicsAreReported(t *testing.T) {
	var (
		mu       sync.Mutex
		reported []error
	)
	pool, err := NewPool(1, 4, func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error { return boom }))
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error { panic("kaboom") }))
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error { return nil }))
	require.NoError(t, pool.Shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 2)
	require.ErrorIs(t, reported[0], boom)
	require.Contains(t, reported[1].Error(), "kaboom")
}

func TestShutdownTimeoutCancelsRunningTask(t *testing.T) {
	pool, err := NewPool(1, 1, nil)
	require.NoError(t, err)

	cancelled := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = pool.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("running task was not cancelled")
	}
}
