package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPutBlocksAtCapacity(t *testing.T) {
	q := New[int](3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Put(ctx, i))
	}

	done := make(chan error, 1)
	go func() { done <- q.Put(ctx, 3) }()

	select {
	case <-done:
		t.Fatal("put on a full queue returned before a take")
	case <-time.After(50 * time.Millisecond):
	}

	assert.Equal(t, 0, q.Take().Value())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("put did not unblock after a take")
	}
	assert.Equal(t, 3, q.Len())
}

func TestPutHonoursContext(t *testing.T) {
	q := New[string](1)
	require.NoError(t, q.Put(context.Background(), "a"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Put(ctx, "b")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, q.Len())
}

func TestDrainOrderAndSingleMarker(t *testing.T) {
	q := New[int](4)
	ctx := context.Background()

	go func() {
		for i := 0; i < 20; i++ {
			_ = q.Put(ctx, i)
		}
		q.Finish()
		q.Finish()
	}()

	var got []int
	for {
		item := q.Take()
		if item.EndOfStream() {
			break
		}
		got = append(got, item.Value())
	}

	want := make([]int, 20)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, got)
	assert.True(t, q.IsEmpty(), "second Finish must not enqueue another marker")
}

func TestPutAfterFinish(t *testing.T) {
	q := New[int](2)
	q.Finish()
	assert.True(t, q.Finished())
	assert.ErrorIs(t, q.Put(context.Background(), 1), ErrFinished)
}

func TestRelayReleasesEveryWorker(t *testing.T) {
	const workers = 5
	q := New[int](2)

	var (
		mu    sync.Mutex
		seen  []int
		wg    sync.WaitGroup
		exits int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item := q.Take()
				if item.EndOfStream() {
					q.Relay()
					mu.Lock()
					exits++
					mu.Unlock()
					return
				}
				mu.Lock()
				seen = append(seen, item.Value())
				mu.Unlock()
			}
		}()
	}

	for i := 0; i < 50; i++ {
		require.NoError(t, q.Put(context.Background(), i))
	}
	q.Finish()
	wg.Wait()

	assert.Equal(t, workers, exits)
	assert.Len(t, seen, 50)
	// the last worker leaves the marker behind
	assert.Equal(t, 1, q.Len())
	assert.True(t, q.Take().EndOfStream())
}

func TestContains(t *testing.T) {
	q := New[string](3)
	require.NoError(t, q.Put(context.Background(), "attachments/1"))
	q.Finish()

	assert.True(t, Contains(q, "attachments/1"))
	assert.False(t, Contains(q, "attachments/2"))
	assert.False(t, q.ContainsFunc(func(s string) bool { return s == "" }))
}

func TestCapacityClamped(t *testing.T) {
	q := New[int](0)
	require.NoError(t, q.Put(context.Background(), 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, q.Put(ctx, 2), context.Canceled)
}
