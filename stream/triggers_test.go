package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/michieltjampens/dcafs-sub002/config"
)

func TestParseTrigger(t *testing.T) {
	for _, s := range []string{"hello", "OPEN", " close ", "Idle", "wakeup"} {
		_, ok := ParseTrigger(s)
		assert.True(t, ok, s)
	}
	_, ok := ParseTrigger("later")
	assert.False(t, ok)
}

func TestTriggers_LoadExport(t *testing.T) {
	tr := NewTriggers()
	unknown := tr.Load([]config.TriggerConfig{
		{When: "open", Command: "cmd:status"},
		{When: "idle", Command: "ping"},
		{When: "open", Command: "hi"},
		{When: "sometimes", Command: "x"},
	})

	assert.Equal(t, []string{"sometimes"}, unknown)
	assert.Equal(t, 3, tr.Len())
	assert.Equal(t, []string{"cmd:status", "hi"}, tr.Commands(TriggerOpen))
	assert.Equal(t, []config.TriggerConfig{
		{When: "open", Command: "cmd:status"},
		{When: "open", Command: "hi"},
		{When: "idle", Command: "ping"},
	}, tr.Export())

	tr.Clear()
	assert.Empty(t, tr.Commands(TriggerOpen))
}
