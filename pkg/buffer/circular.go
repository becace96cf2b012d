package buffer

import (
	"sync"

	"github.com/michieltjampens/dcafs-sub002/errors"
)

type circularBuffer[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics
	metrics  *bufferMetrics
	opts     *bufferOptions[T]
	closed   bool
}

func newCircularBuffer[T any](capacity int, opts *bufferOptions[T]) (*circularBuffer[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *bufferMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "newCircularBuffer", "metrics registration")
		}
	}

	return &circularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}, nil
}

// Write adds an item according to the overflow policy
func (cb *circularBuffer[T]) Write(item T) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Buffer", "Write", "buffer closed")
	}

	if cb.size == cb.capacity {
		cb.stats.Drop()
		cb.metrics.recordDrop()

		if cb.opts.overflowPolicy == DropNewest {
			if cb.opts.dropCallback != nil {
				defer cb.opts.dropCallback(item)
			}
			return nil
		}

		dropped := cb.items[cb.tail]
		cb.tail = (cb.tail + 1) % cb.capacity
		cb.size--
		if cb.opts.dropCallback != nil {
			// runs after the unlock
			defer cb.opts.dropCallback(dropped)
		}
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++

	cb.stats.Write()
	cb.stats.UpdateSize(int64(cb.size))
	cb.metrics.recordWrite(cb.size, cb.capacity)
	return nil
}

// Read removes the oldest item
func (cb *circularBuffer[T]) Read() (T, bool) {
	items := cb.ReadBatch(1)
	if len(items) == 0 {
		var zero T
		return zero, false
	}
	return items[0], true
}

// ReadBatch removes up to max items
func (cb *circularBuffer[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		return nil
	}
	n := min(max, cb.size)

	result := make([]T, n)
	var zero T
	for i := range n {
		result[i] = cb.items[cb.tail]
		cb.items[cb.tail] = zero
		cb.tail = (cb.tail + 1) % cb.capacity
	}
	cb.size -= n

	cb.stats.Read(int64(n))
	cb.stats.UpdateSize(int64(cb.size))
	cb.metrics.updateSize(cb.size, cb.capacity)
	return result
}

// Size returns the number of queued items
func (cb *circularBuffer[T]) Size() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size
}

// Capacity returns the maximum number of items
func (cb *circularBuffer[T]) Capacity() int {
	return cb.capacity
}

// IsEmpty reports whether nothing is queued
func (cb *circularBuffer[T]) IsEmpty() bool {
	return cb.Size() == 0
}

// Clear drops all items
func (cb *circularBuffer[T]) Clear() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var zero T
	dropped := make([]T, 0, cb.size)
	for i := 0; i < cb.size; i++ {
		idx := (cb.tail + i) % cb.capacity
		dropped = append(dropped, cb.items[idx])
		cb.items[idx] = zero
	}
	cb.head, cb.tail, cb.size = 0, 0, 0
	cb.stats.UpdateSize(0)
	cb.metrics.updateSize(0, cb.capacity)

	if cb.opts.dropCallback != nil {
		defer func() {
			for _, item := range dropped {
				cb.opts.dropCallback(item)
			}
		}()
	}
}

// Stats returns the buffer statistics
func (cb *circularBuffer[T]) Stats() *Statistics {
	return cb.stats
}

// Close refuses further writes. Queued items can still be read.
func (cb *circularBuffer[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.closed = true
	return nil
}
