package pool

import (
	"context"
	"strings"

	"github.com/michieltjampens/dcafs-sub002/confirm"
	"github.com/michieltjampens/dcafs-sub002/health"
	"github.com/michieltjampens/dcafs-sub002/stream"
)

var _ stream.Listener = (*Pool)(nil)

// NotifyOpened clears the connection-lost issue, starts idle monitoring and
// runs the hello and open triggers.
func (p *Pool) NotifyOpened(id string) {
	m := p.lookup(id)
	if m == nil {
		return
	}
	m.mu.Lock()
	m.failures = 0
	m.reconnecting = false
	attempts := m.attempts
	m.mu.Unlock()

	p.issues.SetIssue(health.IssueKey(id, IssueConnectionLost), false)
	p.issues.SetIssue(health.IssueKey(id, IssueIdle), false)
	p.logger.Info("Stream connected", "stream", id, "attempts", attempts)

	p.armIdle(m)
	p.fireTriggers(m, stream.TriggerHello, stream.TriggerOpen)
}

// NotifyClosed runs the close triggers. Reconnecting is left to the
// stream's own request or the idle monitor.
func (p *Pool) NotifyClosed(id string) {
	m := p.lookup(id)
	if m == nil {
		return
	}
	p.logger.Info("Stream closed", "stream", id)
	p.fireTriggers(m, stream.TriggerClose)
}

// NotifyIdle raises the idle issue and runs the idle triggers followed by
// the wakeup triggers.
func (p *Pool) NotifyIdle(id string) {
	m := p.lookup(id)
	if m == nil {
		return
	}
	p.issues.SetIssue(health.IssueKey(id, IssueIdle), true)
	p.metrics.RecordIdle(id)
	p.logger.Warn("Stream idle", "stream", id, "ttl", m.s.ReaderIdleSeconds())

	// TODO: decide whether wakeup belongs in NotifyActive, today it fires right after idle.
	p.fireTriggers(m, stream.TriggerIdle, stream.TriggerWakeup)
}

// NotifyActive clears the idle issue
func (p *Pool) NotifyActive(id string) {
	if p.lookup(id) == nil {
		return
	}
	p.issues.SetIssue(health.IssueKey(id, IssueIdle), false)
	p.logger.Info("Stream active again", "stream", id)
}

// fireTriggers hands the commands bound to kinds to the stream's lane
func (p *Pool) fireTriggers(m *managed, kinds ...stream.Trigger) {
	var cmds []string
	for _, k := range kinds {
		cmds = append(cmds, m.s.Triggers().Commands(k)...)
	}
	if len(cmds) == 0 {
		return
	}
	p.sched.Submit(m.key, func(context.Context) {
		for _, cmd := range cmds {
			p.runTriggered(m, cmd)
		}
	})
}

func (p *Pool) runTriggered(m *managed, cmd string) {
	if admin, ok := strings.CutPrefix(cmd, stream.CommandPrefix); ok {
		reply := p.Handle(admin)
		p.logger.Debug("Triggered command", "stream", m.s.ID(), "command", admin, "reply", reply)
		return
	}
	w, ok := m.s.(stream.Writable)
	if !ok {
		return
	}
	if !confirm.Write(w, cmd) {
		p.logger.Warn("Triggered write failed", "stream", m.s.ID(), "data", cmd)
	}
}
