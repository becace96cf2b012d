package stream_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michieltjampens/dcafs-sub002/config"
	"github.com/michieltjampens/dcafs-sub002/stream"
	"github.com/michieltjampens/dcafs-sub002/testutil"
)

func newMock(t *testing.T, cfg config.StreamConfig) (*testutil.MockStream, *testutil.MockListener, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	m := testutil.NewMockStream(cfg, stream.Deps{Clock: clk})
	l := testutil.NewMockListener()
	m.SetListener(l)
	return m, l, clk
}

func TestBase_Defaults(t *testing.T) {
	m, _, _ := newMock(t, config.StreamConfig{ID: "dev1", Label: "nmea"})

	assert.Equal(t, "dev1", m.ID())
	assert.Equal(t, "nmea", m.Label())
	assert.Equal(t, "\r\n", m.EOL())
	assert.Equal(t, -1, m.ReaderIdleSeconds(), "ttl 0 disables monitoring")
	assert.Equal(t, int64(-1), m.LastTimestamp())
	assert.False(t, m.IsConnectionValid())
}

func TestBase_DisconnectInvalidates(t *testing.T) {
	m, l, _ := newMock(t, config.StreamConfig{ID: "dev1"})

	require.True(t, m.Connect(context.Background()))
	assert.True(t, m.IsConnectionValid())

	m.Disconnect()
	assert.False(t, m.IsConnectionValid())
	m.Disconnect()
	assert.False(t, m.IsConnectionValid())

	assert.Equal(t, 1, l.Count("opened"))
	assert.Equal(t, 1, l.Count("closed"))
	assert.Equal(t, 0, l.Count("reconnect"), "requested close asks for nothing")
}

func TestBase_UnexpectedCloseRequestsReconnection(t *testing.T) {
	m, l, _ := newMock(t, config.StreamConfig{ID: "dev1"})
	m.Connect(context.Background())

	m.Drop()

	assert.False(t, m.IsConnectionValid())
	assert.Equal(t, []testutil.Event{
		{Kind: "opened", ID: "dev1"},
		{Kind: "closed", ID: "dev1"},
		{Kind: "reconnect", ID: "dev1"},
	}, l.Events())
}

func TestBase_ReceiveStampsAndDelivers(t *testing.T) {
	m, _, clk := newMock(t, config.StreamConfig{ID: "dev1", TTL: 5})
	sink := testutil.NewMockSink("out")
	m.Targets().Add(sink)

	m.Feed(testutil.NMEALines[0])

	assert.Equal(t, clk.Now().UnixMilli(), m.LastTimestamp())
	assert.Equal(t, []testutil.Line{{Origin: "dev1", Data: testutil.NMEALines[0]}}, sink.Lines())
}

func TestBase_ActiveIsEdgeTriggered(t *testing.T) {
	m, l, _ := newMock(t, config.StreamConfig{ID: "dev1", TTL: 5})

	m.Feed("a")
	assert.Equal(t, 0, l.Count("active"), "not idle, no edge")

	assert.True(t, m.MarkIdle())
	assert.False(t, m.MarkIdle(), "already idle")

	m.Feed("b")
	m.Feed("c")
	assert.Equal(t, 1, l.Count("active"))
}

func TestBase_ConfigReflectsEdits(t *testing.T) {
	m, _, _ := newMock(t, config.StreamConfig{
		ID:       "dev1",
		Address:  "localhost:4000",
		Triggers: []config.TriggerConfig{{When: "open", Command: "hello"}, {When: "bogus", Command: "x"}},
	})

	m.SetLabel("temp")
	m.SetReaderIdleSeconds(12)
	m.SetEOL("\n")
	m.Alter("mode", "fast")

	cfg := m.Config()
	assert.Equal(t, "temp", cfg.Label)
	assert.Equal(t, 12, cfg.TTL)
	assert.Equal(t, "lf", cfg.EOL)
	assert.Equal(t, "fast", cfg.Extra["mode"])
	assert.Equal(t, []config.TriggerConfig{{When: "open", Command: "hello"}}, cfg.Triggers)

	m.SetReaderIdleSeconds(0)
	assert.Equal(t, -1, m.ReaderIdleSeconds())
}

func TestBase_Info(t *testing.T) {
	m, _, clk := newMock(t, config.StreamConfig{ID: "dev1", Type: "mock", Label: "nmea", Address: "h:1"})
	assert.Equal(t, "dev1 [MOCK|nmea] h:1 NC", m.Info())

	m.Connect(context.Background())
	assert.Equal(t, "dev1 [MOCK|nmea] h:1 no data yet", m.Info())

	m.Feed("x")
	clk.Add(3 * time.Second)
	assert.Equal(t, "dev1 [MOCK|nmea] h:1 3s ago", m.Info())
}
