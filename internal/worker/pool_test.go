package worker

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestPoolRunsEveryJob(t *testing.T) {
	p := NewPool(4, 10, quietLogger())
	var done int64

	for i := 0; i < 100; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) {
			atomic.AddInt64(&done, 1)
		}))
	}
	require.NoError(t, p.Stop(context.Background()))

	assert.Equal(t, int64(100), atomic.LoadInt64(&done))
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(2, 100, quietLogger())
	var running, peak int64

	for i := 0; i < 20; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) {
			n := atomic.AddInt64(&running, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt64(&running, -1)
		}))
	}
	require.NoError(t, p.Stop(context.Background()))

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

func TestPoolRecoversPanics(t *testing.T) {
	p := NewPool(1, 2, quietLogger())
	var ran int64

	require.NoError(t, p.Submit(context.Background(), func(context.Context) { panic("boom") }))
	require.NoError(t, p.Submit(context.Background(), func(context.Context) { atomic.AddInt64(&ran, 1) }))
	require.NoError(t, p.Stop(context.Background()))

	assert.Equal(t, int64(1), atomic.LoadInt64(&ran), "the worker survives a panicking job")
}

func TestSubmitAfterStop(t *testing.T) {
	p := NewPool(1, 1, quietLogger())
	require.NoError(t, p.Stop(context.Background()))

	err := p.Submit(context.Background(), func(context.Context) {})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, p.Stop(context.Background()), "stopping twice is fine")
}

func TestSubmitHonoursContext(t *testing.T) {
	p := NewPool(1, 0, quietLogger())
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, p.Submit(context.Background(), func(context.Context) {
		close(started)
		<-release
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func(context.Context) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, p.Stop(context.Background()))
}

func TestStopCancelsJobsAfterDeadline(t *testing.T) {
	p := NewPool(1, 1, quietLogger())
	started := make(chan struct{})

	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Stop(ctx), context.DeadlineExceeded)
}
