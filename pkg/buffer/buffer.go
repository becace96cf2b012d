// Package buffer provides a bounded, thread-safe queue used by sinks that
// write in batches. When full, the queue drops either the oldest or the
// newest item so a slow sink never blocks the stream delivering to it.
package buffer

// Buffer is a bounded queue of T
type Buffer[T any] interface {
	// Write adds an item, dropping one when the buffer is full
	Write(item T) error
	// Read removes the oldest item
	Read() (T, bool)
	// ReadBatch removes up to max items, oldest first
	ReadBatch(max int) []T
	Size() int
	Capacity() int
	IsEmpty() bool
	// Clear drops everything, calling the drop callback per item
	Clear()
	Stats() *Statistics
	Close() error
}

// OverflowPolicy selects what gets dropped when the buffer is full
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room
	DropOldest OverflowPolicy = iota
	// DropNewest discards the item being written
	DropNewest
)

// String returns the policy name
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback receives every dropped item
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a ring buffer holding at most capacity items
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
