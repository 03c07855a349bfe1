package rtnode

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/birdayz/graphflow/internal/rtqueue"
)

var intType = reflect.TypeOf(0)

func TestRunnerProcessesEveryEnqueuedItemOnce(t *testing.T) {
	q := rtqueue.New([]reflect.Type{intType})
	q.AddSender(intType)
	s := rtqueue.NewSender()

	r := &Runner{Name: "n", Queue: q, Sender: s}

	var sum int64
	dispatch := func(ctx context.Context, copyIdx int, item rtqueue.Tagged) error {
		atomic.AddInt64(&sum, int64(item.Value.(int)))
		return nil
	}

	r.Start(context.Background(), 1, nil, dispatch, nil, func() bool {
		return q.IsEmpty() && q.LiveSenders(intType) == 0
	})

	for i := 1; i <= 5; i++ {
		q.Enqueue(intType, i)
	}
	q.NotifySenderTerminated(intType)

	require.NoError(t, r.Wait())
	assert.Equal(t, int64(15), atomic.LoadInt64(&sum))
	assert.Equal(t, StateTerminated, r.State())
}

func TestRunnerNotifiesSenderOnTermination(t *testing.T) {
	q := rtqueue.New([]reflect.Type{intType})
	q.AddSender(intType)
	s := rtqueue.NewSender()
	downstream := rtqueue.New([]reflect.Type{intType})
	s.Subscribe(intType, downstream)

	r := &Runner{Name: "n", Queue: q, Sender: s}
	r.Start(context.Background(), 1, nil, func(ctx context.Context, copyIdx int, item rtqueue.Tagged) error { return nil }, nil, func() bool {
		return q.IsEmpty() && q.LiveSenders(intType) == 0
	})

	require.Equal(t, 1, downstream.LiveSenders(intType))
	q.NotifySenderTerminated(intType)
	require.NoError(t, r.Wait())
	assert.Equal(t, 0, downstream.LiveSenders(intType))
}

func TestRunnerClusterDuplicationSharesQueue(t *testing.T) {
	q := rtqueue.New([]reflect.Type{intType})
	q.AddSender(intType)
	s := rtqueue.NewSender()
	r := &Runner{Name: "n", Queue: q, Sender: s}

	var processed int64
	dispatch := func(ctx context.Context, copyIdx int, item rtqueue.Tagged) error {
		atomic.AddInt64(&processed, 1)
		return nil
	}

	r.Start(context.Background(), 4, nil, dispatch, nil, func() bool {
		return q.IsEmpty() && q.LiveSenders(intType) == 0
	})

	const n = 100
	for i := 0; i < n; i++ {
		q.Enqueue(intType, i)
	}
	q.NotifySenderTerminated(intType)

	require.NoError(t, r.Wait())
	assert.Equal(t, int64(n), atomic.LoadInt64(&processed))
}

func TestRunnerRecoversFromPanicAndAggregatesError(t *testing.T) {
	q := rtqueue.New([]reflect.Type{intType})
	q.AddSender(intType)
	s := rtqueue.NewSender()
	r := &Runner{Name: "n", Queue: q, Sender: s}

	dispatch := func(ctx context.Context, copyIdx int, item rtqueue.Tagged) error {
		panic("boom")
	}

	r.Start(context.Background(), 1, nil, dispatch, nil, func() bool {
		return q.IsEmpty() && q.LiveSenders(intType) == 0
	})
	q.Enqueue(intType, 1)
	q.NotifySenderTerminated(intType)

	err := r.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}

func TestRunnerPropagatesHandlerErrors(t *testing.T) {
	q := rtqueue.New([]reflect.Type{intType})
	q.AddSender(intType)
	s := rtqueue.NewSender()
	r := &Runner{Name: "n", Queue: q, Sender: s}

	sentinel := errors.New("handler failed")
	dispatch := func(ctx context.Context, copyIdx int, item rtqueue.Tagged) error {
		return sentinel
	}

	r.Start(context.Background(), 1, nil, dispatch, nil, func() bool {
		return q.IsEmpty() && q.LiveSenders(intType) == 0
	})
	q.Enqueue(intType, 1)
	q.NotifySenderTerminated(intType)

	err := r.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
}

func TestRunnerRunsInitAndShutdownPerCopy(t *testing.T) {
	q := rtqueue.New([]reflect.Type{intType})
	q.AddSender(intType)
	s := rtqueue.NewSender()
	r := &Runner{Name: "n", Queue: q, Sender: s}

	var inits, shutdowns int64
	initFn := func(copyIdx int) error {
		atomic.AddInt64(&inits, 1)
		return nil
	}
	shutdownFn := func(copyIdx int) error {
		atomic.AddInt64(&shutdowns, 1)
		return nil
	}

	r.Start(context.Background(), 3, initFn, func(ctx context.Context, copyIdx int, item rtqueue.Tagged) error { return nil }, shutdownFn, func() bool {
		return q.IsEmpty() && q.LiveSenders(intType) == 0
	})
	q.NotifySenderTerminated(intType)

	require.NoError(t, r.Wait())
	assert.Equal(t, int64(3), atomic.LoadInt64(&inits))
	assert.Equal(t, int64(3), atomic.LoadInt64(&shutdowns))
}

func TestRunnerCustomCanTerminateOverridesDefault(t *testing.T) {
	q := rtqueue.New([]reflect.Type{intType})
	s := rtqueue.NewSender()
	r := &Runner{Name: "n", Queue: q, Sender: s, CanTerminate: func() bool { return true }}

	r.Start(context.Background(), 1, nil, func(ctx context.Context, copyIdx int, item rtqueue.Tagged) error { return nil }, nil, func() bool {
		return false // default would never terminate; the override must win
	})

	select {
	case <-waitDone(r):
	case <-time.After(time.Second):
		t.Fatal("runner did not honor the custom CanTerminate override")
	}
}

func waitDone(r *Runner) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()
	return done
}
