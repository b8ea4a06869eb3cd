package jobs

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

func TestPoolDoReturnsTaskResult(t *testing.T) {
	pool := NewPool("test", PoolConfig{Workers: 2})
	pool.Start(context.Background())
	defer pool.Stop()

	var ran bool
	require.NoError(t, pool.Do(context.Background(), func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)

	boom := errors.New("boom")
	assert.ErrorIs(t, pool.Do(context.Background(), func(context.Context) error { return boom }), boom)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool("test", PoolConfig{Workers: 2})
	pool.Start(context.Background())
	defer pool.Stop()

	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.Do(context.Background(), func(context.Context) error {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestPoolDoHonoursCallerContext(t *testing.T) {
	pool := NewPool("test", PoolConfig{Workers: 1})
	pool.Start(context.Background())
	defer pool.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = pool.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Do(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestPoolRecoversPanics(t *testing.T) {
	pool := NewPool("test", PoolConfig{Workers: 1})
	pool.Start(context.Background())
	defer pool.Stop()

	err := pool.Do(context.Background(), func(context.Context) error { panic("bad input") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad input")

	assert.NoError(t, pool.Do(context.Background(), func(context.Context) error { return nil }))
}

func TestPoolRejectsWorkWhenStopped(t *testing.T) {
	pool := NewPool("test", PoolConfig{})
	assert.ErrorIs(t, pool.Do(context.Background(), func(context.Context) error { return nil }), ErrPoolStopped)

	pool.Start(context.Background())
	pool.Stop()
	pool.Stop()
	assert.ErrorIs(t, pool.Do(context.Background(), func(context.Context) error { return nil }), ErrPoolStopped)
	assert.Equal(t, 1, pool.Workers())
}
