package batch

import (
	"context"
	"sync"
	"time"
)

// FlushFunc processes one batch. Items are never passed twice, even when it
// returns an error.
type FlushFunc[T any] func(ctx context.Context, items []T) error

// Batcher collects items and flushes them when batchSize is reached or
// batchInterval elapses, whichever comes first.
type Batcher[T any] struct {
	batchSize     int
	batchInterval time.Duration
	flush         FlushFunc[T]
	onError       func(err error, dropped int)

	mu      sync.Mutex
	pending []T
	stopped bool

	flushChan chan struct{}
	stopChan  chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
}

// NewBatcher starts the background flush loop. onError may be nil.
func NewBatcher[T any](batchSize int, batchInterval time.Duration, flush FlushFunc[T], onError func(err error, dropped int)) *Batcher[T] {
	if batchSize <= 0 {
		batchSize = 1
	}
	if batchInterval <= 0 {
		batchInterval = 100 * time.Millisecond
	}
	b := &Batcher[T]{
		batchSize:     batchSize,
		batchInterval: batchInterval,
		flush:         flush,
		onError:       onError,
		pending:       make([]T, 0, batchSize),
		flushChan:     make(chan struct{}, 1),
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
	}

	go b.run()

	return b
}

// Add queues item. It reports false once the batcher is stopped.
func (b *Batcher[T]) Add(item T) bool {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return false
	}
	b.pending = append(b.pending, item)
	shouldFlush := len(b.pending) >= b.batchSize
	b.mu.Unlock()

	if shouldFlush {
		select {
		case b.flushChan <- struct{}{}:
		default:
		}
	}
	return true
}

// Flush immediately processes all pending items.
func (b *Batcher[T]) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	items := b.pending
	b.pending = make([]T, 0, b.batchSize)
	b.mu.Unlock()

	err := b.flush(ctx, items)
	if err != nil && b.onError != nil {
		b.onError(err, len(items))
	}
	return err
}

func (b *Batcher[T]) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.batchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = b.Flush(context.Background())
		case <-b.flushChan:
			_ = b.Flush(context.Background())
		case <-b.stopChan:
			// Final flush on stop
			_ = b.Flush(context.Background())
			return
		}
	}
}

// Stop rejects further items, flushes what is pending and waits for the
// loop to exit. It is safe to call more than once.
func (b *Batcher[T]) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()
		close(b.stopChan)
	})
	<-b.done
}

// PendingCount returns the number of queued items.
func (b *Batcher[T]) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
