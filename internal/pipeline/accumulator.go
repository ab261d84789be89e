// Package pipeline implements the chunk -> embed -> upsert data flow:
// BatchAccumulator batches items, WorkerPool runs bounded-concurrency
// handlers with retry, and ChunkPipeline wires both together for the
// upsert and delete dataflows spec.md §4.6-4.8 describes.
package pipeline

import (
	"sync"
	"sync/atomic"
	"time"
)

// AccumulatorConfig configures a BatchAccumulator.
type AccumulatorConfig struct {
	BatchSize    int
	FlushTimeout time.Duration
	MaxQueueSize int
	TypeTag      string
}

// Batch is an ordered list of items emitted by a BatchAccumulator for a
// WorkerPool to process.
type Batch[T any] struct {
	ID        int64
	Type      string
	Items     []T
	CreatedAt time.Time
}

// BatchAccumulator buffers items until the buffer reaches BatchSize or
// FlushTimeout elapses since the first item in the current buffer was
// added, then emits a Batch via onBatch. Safe for concurrent use; all
// buffer mutation is serialized through a single mutex, which is also
// what keeps batch emission order well-defined.
type BatchAccumulator[T any] struct {
	cfg     AccumulatorConfig
	onBatch func(Batch[T])

	mu     sync.Mutex
	buffer []T
	timer  *time.Timer
	closed bool

	nextID int64
}

// NewBatchAccumulator returns an accumulator that calls onBatch for each
// emitted batch. onBatch is invoked synchronously from whichever
// goroutine triggers the emission (Add reaching BatchSize, the flush
// timer firing, or an explicit Flush call); callers that need emission
// to be non-blocking should make onBatch a fast hand-off (e.g. to a
// WorkerPool.Submit, which itself returns immediately).
func NewBatchAccumulator[T any](cfg AccumulatorConfig, onBatch func(Batch[T])) *BatchAccumulator[T] {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 2 * time.Second
	}
	return &BatchAccumulator[T]{cfg: cfg, onBatch: onBatch}
}

// Add appends item to the buffer. If the buffer now has BatchSize items,
// a batch is emitted immediately. Otherwise a one-shot flush timer is
// armed (if not already armed) so the buffer doesn't wait forever for
// more items. Add is a no-op after Shutdown.
func (a *BatchAccumulator[T]) Add(item T) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}

	a.buffer = append(a.buffer, item)
	if len(a.buffer) >= a.cfg.BatchSize {
		a.emitLocked()
		a.mu.Unlock()
		return
	}

	if a.timer == nil {
		a.timer = time.AfterFunc(a.cfg.FlushTimeout, a.onTimerFire)
	}
	a.mu.Unlock()
}

func (a *BatchAccumulator[T]) onTimerFire() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timer = nil
	if a.closed {
		return
	}
	if len(a.buffer) > 0 {
		a.emitLocked()
	}
}

// Flush emits any pending items immediately (even if fewer than
// BatchSize) and cancels the pending timer, if any. A Flush with an
// empty buffer is a no-op.
func (a *BatchAccumulator[T]) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if len(a.buffer) > 0 {
		a.emitLocked()
	}
}

// Shutdown flushes any pending items and refuses further Add calls.
func (a *BatchAccumulator[T]) Shutdown() {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if len(a.buffer) > 0 {
		a.emitLocked()
	}
	a.closed = true
	a.mu.Unlock()
}

// emitLocked must be called with a.mu held. It snapshots the buffer,
// resets it, assigns the next monotonic batch id, and invokes onBatch.
func (a *BatchAccumulator[T]) emitLocked() {
	items := a.buffer
	a.buffer = nil
	id := atomic.AddInt64(&a.nextID, 1)
	batch := Batch[T]{ID: id, Type: a.cfg.TypeTag, Items: items, CreatedAt: time.Now()}
	a.onBatch(batch)
}

// PendingCount returns the number of items currently buffered, not yet
// emitted as a batch.
func (a *BatchAccumulator[T]) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffer)
}
