package health

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Monitor tracks health of named entries in a thread-safe manner. Issue keys
// share the same table: an active issue is stored as degraded, a cleared
// one as healthy.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
	}
}

// IssueKey builds the key for an issue on a stream: the id with spaces
// stripped and lower-cased, a dot and the suffix.
func IssueKey(streamID, suffix string) string {
	return strings.ToLower(strings.ReplaceAll(streamID, " ", "")) + "." + suffix
}

// Update updates the health status for a named entry
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// SetIssue raises or clears a boolean issue
func (m *Monitor) SetIssue(key string, active bool) {
	if active {
		m.Update(key, NewDegraded(key, "raised"))
		return
	}
	m.Update(key, NewHealthy(key, "cleared"))
}

// IssueActive reports whether an issue is currently raised
func (m *Monitor) IssueActive(key string) bool {
	status, ok := m.Get(key)
	return ok && !status.Healthy
}

// ActiveIssues returns the sorted keys of all raised issues
func (m *Monitor) ActiveIssues() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for name, status := range m.statuses {
		if !status.Healthy {
			keys = append(keys, name)
		}
	}
	sort.Strings(keys)
	return keys
}

// Get retrieves the health status for a named entry
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, exists := m.statuses[name]
	return status, exists
}

// GetAll returns a copy of all current health statuses
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]Status, len(m.statuses))
	for name, status := range m.statuses {
		result[name] = status
	}
	return result
}

// Remove removes an entry and every issue recorded under its prefix
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := name + "."
	for key := range m.statuses {
		if key == name || strings.HasPrefix(key, prefix) {
			delete(m.statuses, key)
		}
	}
}

// AggregateHealth returns an aggregated health status for the entire system
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	subStatuses := make([]Status, 0, len(names))
	for _, name := range names {
		subStatuses = append(subStatuses, m.statuses[name])
	}
	return Aggregate(systemName, subStatuses)
}

// Count returns the number of entries being monitored
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.statuses)
}
