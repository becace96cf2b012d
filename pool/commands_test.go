package pool

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michieltjampens/dcafs-sub002/config"
	"github.com/michieltjampens/dcafs-sub002/stream"
	"github.com/michieltjampens/dcafs-sub002/testutil"
)

func TestHandle_ArgumentChecks(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)

	tests := []struct {
		line, want string
	}{
		{"bogus", "Unknown command 'bogus', try ?"},
		{"recon", "Bad amount of arguments, should be 1"},
		{"recon,a,b", "Bad amount of arguments, should be 1"},
		{"send,A", "Bad amount of arguments, should be 2"},
		{"status,x", "Bad amount of arguments, should be 0"},
		{"addtcp,id,host:1", "Bad amount of arguments, should be 3"},
		{"", "No streams yet"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, f.pool.Handle(tt.line))
		})
	}
}

func TestHandle_ListAndStatus(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.add(t, config.StreamConfig{ID: "gps", Label: "nmea"})
	f.add(t, config.StreamConfig{ID: "ctd", Extra: map[string]string{"fail": "true"}})
	f.connect(t, "gps")
	f.sched.RunNext("ctd")

	list := f.pool.Handle("")
	lines := strings.Split(list, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "gps [MOCK|nmea] no data yet", lines[0])
	assert.Equal(t, "ctd [MOCK] NC", lines[1])

	status := f.pool.Handle("STATUS")
	assert.Contains(t, status, "ctd [MOCK] NC attempts=1 reconnect=pending !conlost")
	assert.NotContains(t, strings.Split(status, "\n")[0], "!conlost")

	assert.Equal(t, "gps -> nmea\nctd -> -", f.pool.Handle("labels"))
}

func TestHandle_Help(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	help := f.pool.Handle("?")
	for _, name := range []string{"addserial", "addtcp", "alter", "send", "tunnel", "link"} {
		assert.Contains(t, help, name)
	}
	assert.NotContains(t, help, " connect:")
}

func TestHandle_Send(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.add(t, config.StreamConfig{ID: "A"})
	a := f.connect(t, "A")

	assert.Equal(t, "Sent to A", f.pool.Handle("send,A,x,y"))
	assert.Equal(t, []string{"x,y\r\n"}, a.Written(), "data keeps its commas")
	assert.Equal(t, "No such stream: B", f.pool.Handle("send,B,x"))
}

func TestHandle_BuffersAndRequests(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	assert.Equal(t, "No buffers in use", f.pool.Handle("buffers"))
	assert.Equal(t, "No requests yet", f.pool.Handle("requests"))

	f.add(t, config.StreamConfig{ID: "A"})
	f.connect(t, "A")
	f.pool.WriteToStream("A", "PING", "PONG")
	f.pool.AddForwarding("id:A", testutil.NewMockSink("x"))

	assert.Contains(t, f.pool.Handle("buffers"), "sent 'PING' awaiting 'PONG'")
	assert.Equal(t, "A -> confirm:A, x", f.pool.Handle("requests"))
}

func TestHandle_EchoTunnelLink(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.add(t, config.StreamConfig{ID: "A", Label: "gps"})
	f.add(t, config.StreamConfig{ID: "B"})
	a, b := f.connect(t, "A"), f.connect(t, "B")

	assert.Equal(t, "Echo enabled for A", f.pool.Handle("echo,A"))
	assert.Equal(t, "Echo disabled for A", f.pool.Handle("echo,A"))
	assert.Contains(t, f.pool.Handle("echo,C"), "Echo failed")

	assert.Equal(t, "Linked label:gps to B", f.pool.Handle("link,label:gps,B"))
	a.Feed("fix")
	assert.Equal(t, []string{"fix\r\n"}, b.Written())
	assert.Equal(t, "Failed to link label:none to B", f.pool.Handle("forward,label:none,B"))

	assert.Equal(t, "Tunnel between A and B", f.pool.Handle("connect,A,B"))
	b.Feed("back")
	assert.Equal(t, []string{"back\r\n"}, a.Written())
}

func TestHandle_Alter(t *testing.T) {
	store := config.NewStore("", testutil.NewConfigBuilder().Build())
	f := newFixture(t, DefaultConfig(), store)
	f.add(t, config.StreamConfig{ID: "A", Label: "old"})
	a := f.connect(t, "A")

	assert.Equal(t, "Altered label of A to new", f.pool.Handle("alter,A,label:new"))
	assert.Equal(t, "new", a.Label())
	assert.Equal(t, "Altered eol of A to lf", f.pool.Handle("alter,A,eol:lf"))
	assert.Equal(t, "\n", a.EOL())
	assert.Equal(t, "Altered baudrate of A to 9600", f.pool.Handle("alter,A,baudrate:9600"))
	assert.Equal(t, "Altered ttl of A to 2m", f.pool.Handle("alter,A,ttl:2m"))
	assert.Equal(t, 120, a.ReaderIdleSeconds())

	assert.Equal(t, "Invalid ttl: soon", f.pool.Handle("alter,A,ttl:soon"))
	assert.Equal(t, "Expected param:value", f.pool.Handle("alter,A,label"))
	assert.Equal(t, "No such stream: C", f.pool.Handle("alter,C,label:x"))

	kept, ok := store.Stream("A")
	require.True(t, ok)
	assert.Equal(t, "new", kept.Label)
	assert.Equal(t, 120, kept.TTL)
	assert.Equal(t, "9600", kept.Extra["baudrate"])
}

func TestHandle_AddAndRemove(t *testing.T) {
	store := config.NewStore("", testutil.NewConfigBuilder().Build())
	f := newFixture(t, DefaultConfig(), store)
	require.NoError(t, f.reg.Register(stream.RegistrationConfig{
		Name: "local",
		Factory: func(cfg config.StreamConfig, deps stream.Deps) (stream.Stream, error) {
			return testutil.NewMockStream(cfg, deps), nil
		},
	}))
	f.add(t, config.StreamConfig{ID: "src"})

	assert.Contains(t, f.pool.Handle("addtcp,t1,localhost:4000,nmea"), "Failed to add t1")
	assert.Equal(t, "Added local stream l1 fed by src", f.pool.Handle("addlocal,l1,calc,src"))
	assert.Equal(t, "Added local stream l2, but source nope not found", f.pool.Handle("addlocal,l2,calc,nope"))
	assert.Contains(t, f.pool.Handle("addlocal,l1,calc,src"), "Failed to add l1")

	_, ok := store.Stream("l1")
	assert.True(t, ok)
	assert.Equal(t, 3, f.pool.Count())

	assert.Equal(t, "Removed l1", f.pool.Handle("remove,l1"))
	assert.Equal(t, "No such stream: l1", f.pool.Handle("remove,l1"))
	_, ok = store.Stream("l1")
	assert.False(t, ok)
}

func TestHandle_Recon(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.add(t, config.StreamConfig{ID: "A"})
	a := f.connect(t, "A")

	assert.Equal(t, "Reconnecting A", f.pool.Handle("recon,A"))
	f.sched.RunNext("a")
	assert.Equal(t, 2, a.Connects())
	assert.Equal(t, "No such stream: B", f.pool.Handle("recon,B"))
}

func TestHandle_StoreAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	cfg := testutil.NewConfigBuilder().Stream("A", testutil.MockType, "old", 0).Build()
	store := config.NewStore(path, cfg)
	require.NoError(t, store.Save())

	f := newFixture(t, DefaultConfig(), store)
	require.NoError(t, f.startErr)
	f.connect(t, "A")
	x := testutil.NewMockSink("x")
	f.pool.AddForwarding("id:A", x)

	f.pool.Handle("alter,A,label:stored")
	assert.Equal(t, "Stored A", f.pool.Handle("store,A"))

	onDisk, err := config.NewLoader().LoadFile(path)
	require.NoError(t, err)
	sc, ok := onDisk.Stream("A")
	require.True(t, ok)
	assert.Equal(t, "stored", sc.Label)

	// someone edits the file behind our back
	sc.Label = "edited"
	onDisk.PutStream(sc)
	require.NoError(t, onDisk.SaveToFile(path))

	assert.Equal(t, "Reloaded A", f.pool.Handle("reload,A"))
	s, ok := f.pool.Stream("A")
	require.True(t, ok)
	assert.Equal(t, "edited", s.Label())
	assert.True(t, s.Targets().Contains(x), "targets survive a reload")

	fresh := f.connect(t, "A")
	fresh.Feed("after")
	assert.Equal(t, []string{"after"}, x.Data())

	onDisk.RemoveStream("A")
	require.NoError(t, onDisk.SaveToFile(path))
	assert.Equal(t, "Removed A, no longer in config", f.pool.Handle("reload,A"))
	assert.Zero(t, f.pool.Count())

	assert.Contains(t, f.pool.Handle("store,A"), "Store failed")
}

func TestHandle_ReloadKeepsLinksIntoStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	cfg := testutil.NewConfigBuilder().
		Stream("A", testutil.MockType, "", 0).
		Stream("B", testutil.MockType, "", 0).
		Build()
	store := config.NewStore(path, cfg)
	require.NoError(t, store.Save())

	f := newFixture(t, DefaultConfig(), store)
	require.NoError(t, f.startErr)
	old := f.connect(t, "A")
	b := f.connect(t, "B")

	assert.Equal(t, "Linked B to A", f.pool.Handle("link,B,A"))
	assert.Equal(t, "Echo enabled for A", f.pool.Handle("echo,A"))
	assert.Equal(t, "Reloaded A", f.pool.Handle("reload,A"))

	fresh := f.connect(t, "A")
	require.NotSame(t, old, fresh)

	b.Feed("from b")
	fresh.Feed("echoed")
	assert.Equal(t, []string{"from b\r\n", "echoed\r\n"}, fresh.Written())
	assert.Empty(t, old.Written())

	bs, ok := f.pool.Stream("B")
	require.True(t, ok)
	assert.Equal(t, 1, bs.Targets().Len(), "the retired stream is no longer a target")
}

func TestHandle_StoreWithoutFile(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.add(t, config.StreamConfig{ID: "A"})
	assert.Contains(t, f.pool.Handle("store,A"), "Store failed")
	assert.Contains(t, f.pool.Handle("reload,all"), "Reload failed")
}
