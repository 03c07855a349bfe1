package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	p := New(2, []int{1, 2})

	a, err := p.Acquire(context.Background())
	require.NoError(t, err)
	b, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2}, []int{a, b})
	assert.Equal(t, 0, p.Available())

	require.NoError(t, p.Release(a))
	assert.Equal(t, 1, p.Available())
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	p := New(1, []int{42})

	v, err := p.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan int, 1)
	go func() {
		got, err := p.Acquire(context.Background())
		require.NoError(t, err)
		done <- got
	}()

	select {
	case <-done:
		t.Fatal("acquire should have blocked with an empty pool")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, p.Release(v))

	select {
	case got := <-done:
		assert.Equal(t, 42, got)
	case <-time.After(time.Second):
		t.Fatal("acquire never unblocked after release")
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	p := New(1, []int{1})
	_, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReleaseOverflowIsFatal(t *testing.T) {
	p := New(1, []int{1})
	v, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Release(v))

	err = p.Release(v)
	assert.ErrorIs(t, err, ErrPoolOverflow)
}

func TestConcurrentAcquireReleaseStaysWithinCapacity(t *testing.T) {
	const capacity = 4
	initial := make([]int, capacity)
	for i := range initial {
		initial[i] = i
	}
	p := New(capacity, initial)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := p.Acquire(context.Background())
			assert.NoError(t, err)
			assert.LessOrEqual(t, capacity-p.Available(), capacity)
			time.Sleep(time.Millisecond)
			assert.NoError(t, p.Release(v))
		}()
	}
	wg.Wait()
	assert.Equal(t, capacity, p.Available())
}
