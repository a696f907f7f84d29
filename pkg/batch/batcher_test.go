package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]int
}

func (r *recorder) flush(_ context.Context, items []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]int(nil), items...))
	return nil
}

func (r *recorder) snapshot() [][]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]int(nil), r.batches...)
}

func TestBatcher_FlushesWhenFull(t *testing.T) {
	rec := &recorder{}
	b := NewBatcher(3, time.Hour, rec.flush, nil)
	defer b.Stop()

	for i := 1; i <= 3; i++ {
		require.True(t, b.Add(i))
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{1, 2, 3}, rec.snapshot()[0])
	assert.Equal(t, 0, b.PendingCount())
}

func TestBatcher_FlushesOnInterval(t *testing.T) {
	rec := &recorder{}
	b := NewBatcher(100, 10*time.Millisecond, rec.flush, nil)
	defer b.Stop()

	b.Add(7)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{7}, rec.snapshot()[0])
}

func TestBatcher_StopFlushesAndRejects(t *testing.T) {
	rec := &recorder{}
	b := NewBatcher(100, time.Hour, rec.flush, nil)

	b.Add(1)
	b.Add(2)
	b.Stop()
	b.Stop()

	assert.Equal(t, [][]int{{1, 2}}, rec.snapshot())
	assert.False(t, b.Add(3))
	assert.Equal(t, 0, b.PendingCount())
}

func TestBatcher_ReportsErrors(t *testing.T) {
	var (
		gotErr     error
		gotDropped int
	)
	failing := func(context.Context, []string) error { return errors.New("redis down") }
	b := NewBatcher(10, time.Hour, failing, func(err error, dropped int) {
		gotErr = err
		gotDropped = dropped
	})
	defer b.Stop()

	b.Add("a")
	b.Add("b")
	err := b.Flush(context.Background())

	assert.EqualError(t, err, "redis down")
	assert.EqualError(t, gotErr, "redis down")
	assert.Equal(t, 2, gotDropped)
	assert.Equal(t, 0, b.PendingCount())
}
