package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueue_Enqueue_And_Close(t *testing.T) {
	q := New(8)
	q.Start()
	defer q.Close()

	var count int64
	for i := 0; i < 10; i++ {
		if err := q.Enqueue(Func(func(ctx context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		})); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	require.Eventually(t, func() bool { return atomic.LoadInt64(&count) == 10 }, time.Second, 5*time.Millisecond)
}

func TestQueue_PreservesOrder(t *testing.T) {
	q := New(4)
	q.Start()
	defer q.Close()

	var got []int
	for i := 0; i < 20; i++ {
		i := i
		require.NoError(t, q.Enqueue(Func(func(ctx context.Context) error {
			got = append(got, i)
			return nil
		})))
	}
	require.NoError(t, q.RunSync(func(ctx context.Context) error { return nil }))
	require.Len(t, got, 20)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestQueue_RunSync(t *testing.T) {
	q := New(1)
	q.Start()
	defer q.Close()

	boom := errors.New("boom")
	require.ErrorIs(t, q.RunSync(func(ctx context.Context) error { return boom }), boom)

	err := q.RunSync(func(ctx context.Context) error { panic("bad op") })
	require.ErrorContains(t, err, "panic: bad op")

	// the worker survives a panicking op
	require.NoError(t, q.RunSync(func(ctx context.Context) error { return nil }))
	t.Log("✅ RunSync returns op errors and recovers panics")
}

func TestQueue_Closed(t *testing.T) {
	q := New(1)
	q.Start()
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Enqueue(Func(func(ctx context.Context) error { return nil })), ErrClosed)
	require.ErrorIs(t, q.RunSync(func(ctx context.Context) error { return nil }), ErrClosed)

	var nilQ *Queue
	require.ErrorIs(t, nilQ.Enqueue(nil), ErrNotInitialized)
	ran := false
	require.NoError(t, nilQ.RunSync(func(ctx context.Context) error { ran = true; return nil }))
	require.True(t, ran)
}
