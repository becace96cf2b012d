package buffer

import (
	"sync"
	"sync/atomic"
)

// Statistics counts buffer activity
type Statistics struct {
	writes atomic.Int64
	reads  atomic.Int64
	drops  atomic.Int64

	mu          sync.Mutex
	currentSize int64
	maxSize     int64
}

// NewStatistics creates zeroed statistics
func NewStatistics() *Statistics {
	return &Statistics{}
}

// Write records a write
func (s *Statistics) Write() { s.writes.Add(1) }

// Read records n items read
func (s *Statistics) Read(n int64) { s.reads.Add(n) }

// Drop records a dropped item
func (s *Statistics) Drop() { s.drops.Add(1) }

// UpdateSize records the current size and tracks the peak
func (s *Statistics) UpdateSize(size int64) {
	s.mu.Lock()
	s.currentSize = size
	if size > s.maxSize {
		s.maxSize = size
	}
	s.mu.Unlock()
}

// Writes returns the number of items written
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads returns the number of items read
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Drops returns the number of dropped items
func (s *Statistics) Drops() int64 { return s.drops.Load() }

// MaxSize returns the peak number of queued items
func (s *Statistics) MaxSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxSize
}

// DropRate returns drops per write (0.0 to 1.0)
func (s *Statistics) DropRate() float64 {
	writes := s.Writes()
	if writes == 0 {
		return 0
	}
	return float64(s.Drops()) / float64(writes)
}

// StatsSummary is a snapshot of the statistics
type StatsSummary struct {
	Writes      int64   `json:"writes"`
	Reads       int64   `json:"reads"`
	Drops       int64   `json:"drops"`
	CurrentSize int64   `json:"current_size"`
	MaxSize     int64   `json:"max_size"`
	DropRate    float64 `json:"drop_rate"`
}

// Summary returns a snapshot
func (s *Statistics) Summary() StatsSummary {
	s.mu.Lock()
	current, peak := s.currentSize, s.maxSize
	s.mu.Unlock()
	return StatsSummary{
		Writes:      s.Writes(),
		Reads:       s.Reads(),
		Drops:       s.Drops(),
		CurrentSize: current,
		MaxSize:     peak,
		DropRate:    s.DropRate(),
	}
}
