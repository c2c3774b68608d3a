package export

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_BoundsConcurrency(t *testing.T) {
	const limit = 3
	const workers = 20

	pool := NewPool(limit)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, pool.Acquire(ctx))
			defer pool.Release()

			assert.LessOrEqual(t, pool.InFlight(), limit)
			time.Sleep(time.Millisecond)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, pool.InFlight())
	assert.LessOrEqual(t, pool.MaxInFlight(), limit)
	// With 20 workers racing for 3 slots the pool should actually fill up.
	assert.Equal(t, limit, pool.MaxInFlight())
}

func TestPool_AcquireHonorsContext(t *testing.T) {
	pool := NewPool(1)
	ctx := context.Background()

	require.NoError(t, pool.Acquire(ctx))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := pool.Acquire(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, pool.InFlight())

	pool.Release()
	assert.Equal(t, 0, pool.InFlight())
}

func TestNewPool_ClampsLimit(t *testing.T) {
	assert.Equal(t, 1, NewPool(0).Capacity())
	assert.Equal(t, 1, NewPool(-5).Capacity())
	assert.Equal(t, 10, NewPool(10).Capacity())
}

func TestNewCoordinator(t *testing.T) {
	coord := NewCoordinator(5, 10)
	assert.Equal(t, 5, coord.Downloads.Capacity())
	assert.Equal(t, 10, coord.API.Capacity())
}
