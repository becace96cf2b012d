package health

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueKey(t *testing.T) {
	tests := []struct {
		id, suffix, expected string
	}{
		{"dev1", "conlost", "dev1.conlost"},
		{"Dev 1", "conidle", "dev1.conidle"},
		{"GPS Main Unit", "conlost", "gpsmainunit.conlost"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, IssueKey(tt.id, tt.suffix))
	}
}

func TestMonitor_SetIssue(t *testing.T) {
	monitor := NewMonitor()

	monitor.SetIssue("dev1.conidle", true)
	assert.True(t, monitor.IssueActive("dev1.conidle"))
	assert.Equal(t, []string{"dev1.conidle"}, monitor.ActiveIssues())

	monitor.SetIssue("dev1.conidle", false)
	assert.False(t, monitor.IssueActive("dev1.conidle"))
	assert.Empty(t, monitor.ActiveIssues())

	assert.False(t, monitor.IssueActive("never.raised"))
}

func TestMonitor_UpdateCorrectsName(t *testing.T) {
	monitor := NewMonitor()
	monitor.Update("correct-name", Status{Component: "wrong-name", Status: StatusHealthy, Healthy: true})

	retrieved, exists := monitor.Get("correct-name")
	require.True(t, exists)
	assert.Equal(t, "correct-name", retrieved.Component)
	assert.False(t, retrieved.Timestamp.IsZero())
}

func TestMonitor_RemoveDropsIssues(t *testing.T) {
	monitor := NewMonitor()
	monitor.Update("dev1", NewHealthy("dev1", "connected"))
	monitor.SetIssue("dev1.conlost", true)
	monitor.SetIssue("dev1.conidle", true)
	monitor.SetIssue("dev10.conlost", true)

	monitor.Remove("dev1")

	assert.Equal(t, 1, monitor.Count())
	assert.True(t, monitor.IssueActive("dev10.conlost"))
}

func TestMonitor_AggregateHealth(t *testing.T) {
	monitor := NewMonitor()

	assert.True(t, monitor.AggregateHealth("dcafs").IsHealthy())

	monitor.Update("a", NewHealthy("a", "ok"))
	monitor.SetIssue("a.conidle", true)
	agg := monitor.AggregateHealth("dcafs")
	assert.True(t, agg.IsDegraded())
	assert.Len(t, agg.SubStatuses, 2)

	monitor.Update("b", NewUnhealthy("b", "down"))
	assert.True(t, monitor.AggregateHealth("dcafs").IsUnhealthy())
}

func TestMonitor_Concurrent(t *testing.T) {
	monitor := NewMonitor()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := IssueKey("dev", "conlost")
			monitor.SetIssue(key, i%2 == 0)
			_ = monitor.ActiveIssues()
			_ = monitor.GetAll()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, monitor.Count())
}
