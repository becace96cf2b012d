package pool

import (
	"context"
	"time"

	"github.com/michieltjampens/dcafs-sub002/health"
	"github.com/michieltjampens/dcafs-sub002/sched"
)

// retryWarnEvery is the least time between two retry warnings of a stream.
// Retries in between log at debug level.
const retryWarnEvery = 30 * time.Second

// reconnectTask is one run of the reconnect supervisor for a stream
type reconnectTask struct {
	pool *Pool
	m    *managed
}

// scheduleReconnect marks the stream reconnecting and arms a connect after
// delay, replacing any pending one. Caller must not hold m.mu.
func (p *Pool) scheduleReconnect(m *managed, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removed {
		return
	}
	m.reconnect.Cancel()
	m.reconnecting = true
	task := reconnectTask{pool: p, m: m}
	m.reconnect = p.sched.Schedule(m.key, delay, task.run)
}

// RequestReconnection asks for a connect attempt on a stream. It is ignored
// while an earlier attempt is still waiting or queued. A request that arrives
// while an attempt runs is kept and served once that attempt returns.
func (p *Pool) RequestReconnection(id string) bool {
	m := p.lookup(id)
	if m == nil {
		return false
	}

	m.mu.Lock()
	if m.removed {
		m.mu.Unlock()
		return false
	}
	if m.reconnect.Running() {
		m.pending = true
		m.reconnecting = true
		m.mu.Unlock()
		return true
	}
	if inFlight(m.reconnect) {
		m.mu.Unlock()
		return false
	}
	m.reconnecting = true
	task := reconnectTask{pool: p, m: m}
	m.reconnect = p.sched.Schedule(m.key, 0, task.run)
	m.mu.Unlock()

	p.logger.Debug("Reconnection requested", "stream", m.s.ID())
	return true
}

// Reconnect forces a fresh connect now, dropping any pending attempt
func (p *Pool) Reconnect(id string) bool {
	m := p.lookup(id)
	if m == nil {
		return false
	}
	m.mu.Lock()
	m.failures = 0
	m.mu.Unlock()
	p.scheduleReconnect(m, 0)
	return true
}

func inFlight(h *sched.Handle) bool {
	return h != nil && !h.Finished() && !h.Cancelled()
}

func (t reconnectTask) run(ctx context.Context) {
	p, m := t.pool, t.m
	if m.isRemoved() {
		return
	}
	s := m.s
	id := s.ID()

	s.Disconnect()

	m.mu.Lock()
	m.attempts++
	m.pending = false
	attempt := m.attempts
	m.mu.Unlock()

	ok := s.Connect(ctx)
	p.metrics.RecordConnectAttempt(id, ok)
	valid := s.IsConnectionValid()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removed {
		return
	}
	dropped := ok && (m.pending || !valid)
	m.pending = false
	if ok && !dropped {
		m.reconnecting = false
		m.failures = 0
		return
	}

	delay := p.cfg.Backoff.Delay(m.failures)
	m.failures++
	logf := p.logger.Debug
	if m.warns.AllowN(p.clock.Now(), 1) {
		logf = p.logger.Warn
	}
	if dropped {
		logf("Link dropped right after connect, retrying", "stream", id, "attempt", attempt, "delay", delay)
	} else {
		logf("Connect failed, retrying", "stream", id, "attempt", attempt, "delay", delay)
	}
	p.issues.SetIssue(health.IssueKey(id, IssueConnectionLost), true)
	p.metrics.RecordReconnectDelay(id, delay)

	if ctx.Err() != nil {
		m.reconnecting = false
		return
	}
	m.reconnect = p.sched.Schedule(m.key, delay, t.run)
}
