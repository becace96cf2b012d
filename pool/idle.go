package pool

import (
	"context"
	"time"

	"github.com/michieltjampens/dcafs-sub002/pkg/timestamp"
)

// idleTask is one check of the idle monitor for a stream
type idleTask struct {
	pool *Pool
	m    *managed
}

// armIdle starts or restarts idle monitoring. Silence is measured from now
// until the stream receives a newer frame.
func (p *Pool) armIdle(m *managed) {
	ttl := m.s.ReaderIdleSeconds()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.idle.Cancel()
	m.idle = nil
	if m.removed || ttl <= 0 {
		return
	}
	m.armedAt = p.clock.Now().UnixMilli()
	task := idleTask{pool: p, m: m}
	m.idle = p.sched.Schedule(m.key, time.Duration(ttl)*time.Second, task.run)
}

func (t idleTask) reschedule(delay time.Duration) {
	m := t.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removed {
		return
	}
	m.idle = t.pool.sched.Schedule(m.key, delay, t.run)
}

func (t idleTask) run(_ context.Context) {
	p, m := t.pool, t.m
	if m.isRemoved() {
		return
	}
	s := m.s
	ttl := s.ReaderIdleSeconds()
	if ttl <= 0 {
		return
	}
	period := time.Duration(ttl) * time.Second

	if !s.IsConnectionValid() {
		p.RequestReconnection(s.ID())
		t.reschedule(period)
		return
	}

	m.mu.Lock()
	armedAt := m.armedAt
	m.mu.Unlock()
	budget := int64(ttl) * 1000
	next := budget - timestamp.Elapsed(p.clock.Now(), s.LastTimestamp(), armedAt)

	if next > 0 {
		t.reschedule(time.Duration(next) * time.Millisecond)
		return
	}

	t.reschedule(period)
	// only the first overdue check of an episode reports it
	if next > -budget && s.MarkIdle() {
		p.NotifyIdle(s.ID())
	}
}
