package pool

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michieltjampens/dcafs-sub002/config"
	"github.com/michieltjampens/dcafs-sub002/errors"
	"github.com/michieltjampens/dcafs-sub002/health"
	"github.com/michieltjampens/dcafs-sub002/pkg/retry"
	"github.com/michieltjampens/dcafs-sub002/sched"
	"github.com/michieltjampens/dcafs-sub002/stream"
	"github.com/michieltjampens/dcafs-sub002/testutil"
)

type fixture struct {
	pool   *Pool
	sched  *sched.Manual
	clock  *clock.Mock
	issues *health.Monitor
	reg    *stream.Registry
	mock   func(id string) *testutil.MockStream

	startErr error
}

func newFixture(t *testing.T, cfg Config, store ConfigStore) *fixture {
	t.Helper()
	reg, lookup := testutil.MockRegistry()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	f := &fixture{
		sched:  sched.NewManual(),
		clock:  clk,
		issues: health.NewMonitor(),
		reg:    reg,
		mock:   lookup,
	}
	p, err := New(cfg, Deps{
		Registry:  reg,
		Scheduler: f.sched,
		Clock:     clk,
		Issues:    f.issues,
		Store:     store,
	})
	require.NoError(t, err)
	f.startErr = p.Start(context.Background())
	t.Cleanup(func() { _ = p.Stop() })
	f.pool = p
	return f
}

func (f *fixture) add(t *testing.T, sc config.StreamConfig) *testutil.MockStream {
	t.Helper()
	if sc.Type == "" {
		sc.Type = testutil.MockType
	}
	_, err := f.pool.AddStream(sc)
	require.NoError(t, err)
	return f.mock(sc.ID)
}

// connect runs the stream's pending first connect
func (f *fixture) connect(t *testing.T, id string) *testutil.MockStream {
	t.Helper()
	require.True(t, f.sched.RunNext(normalize(id)))
	m := f.mock(id)
	require.True(t, m.IsConnectionValid())
	return m
}

func secs(n ...int) []time.Duration {
	out := make([]time.Duration, len(n))
	for i, v := range n {
		out[i] = time.Duration(v) * time.Second
	}
	return out
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{Scheduler: sched.NewManual()})
	assert.Error(t, err)
	reg, _ := testutil.MockRegistry()
	_, err = New(DefaultConfig(), Deps{Registry: reg})
	assert.Error(t, err)
}

func TestPool_AddStreamSchedulesConnect(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	m := f.add(t, config.StreamConfig{ID: "Dev1"})

	assert.Equal(t, secs(0), f.sched.Delays("dev1"))
	assert.True(t, f.pool.IsReconnecting("dev1"))

	f.connect(t, "dev1")
	assert.False(t, f.pool.IsReconnecting("DEV1"))
	assert.Equal(t, 1, f.pool.ConnectionAttempts("dev1"))
	assert.Equal(t, 1, m.Disconnects(), "connect is preceded by a defensive disconnect")

	_, err := f.pool.AddStream(config.StreamConfig{ID: "DEV1", Type: testutil.MockType})
	assert.Error(t, err, "ids are case-insensitive")
}

func TestReconnect_CappedLinearBackoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backoff = retry.Linear{Increment: 5 * time.Second, Max: 20 * time.Second}
	f := newFixture(t, cfg, nil)
	f.add(t, config.StreamConfig{ID: "dev1", Extra: map[string]string{"fail": "true"}})

	for i := 0; i < 5; i++ {
		require.True(t, f.sched.RunNext("dev1"))
	}

	assert.Equal(t, secs(5, 10, 15, 20, 20), f.sched.Delays("dev1")[1:])
	assert.Equal(t, 5, f.pool.ConnectionAttempts("dev1"))
	assert.True(t, f.issues.IssueActive("dev1.conlost"))
	assert.True(t, f.pool.IsReconnecting("dev1"))
	assert.Len(t, f.sched.Waiting("dev1"), 1, "the supervisor never gives up")
}

func TestReconnect_DefaultSchedule(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.add(t, config.StreamConfig{ID: "dev1", Extra: map[string]string{"fail": "true"}})

	for i := 0; i < 8; i++ {
		f.sched.RunNext("dev1")
	}
	assert.Equal(t, secs(5, 10, 15, 20, 25, 30, 30, 30), f.sched.Delays("dev1")[1:])
}

func TestReconnect_RecoveryClearsIssue(t *testing.T) {
	cfg := DefaultConfig()
	f := newFixture(t, cfg, nil)
	m := f.add(t, config.StreamConfig{ID: "dev1", Extra: map[string]string{"fail": "true"}})

	f.sched.RunNext("dev1")
	f.sched.RunNext("dev1")
	require.True(t, f.issues.IssueActive("dev1.conlost"))

	m.SetFail(false)
	f.sched.RunNext("dev1")

	assert.True(t, m.IsConnectionValid())
	assert.False(t, f.issues.IssueActive("dev1.conlost"))
	assert.False(t, f.pool.IsReconnecting("dev1"))
	assert.Empty(t, f.sched.Waiting("dev1"), "no reschedule after success")

	// a later loss starts the backoff from the bottom again
	m.SetFail(true)
	m.Drop()
	f.sched.RunNext("dev1")
	delays := f.sched.Delays("dev1")
	assert.Equal(t, 5*time.Second, delays[len(delays)-1])
}

func TestRequestReconnection_IgnoredWhilePending(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	m := f.add(t, config.StreamConfig{ID: "dev1", Extra: map[string]string{"fail": "true"}})

	f.sched.RunNext("dev1")
	before := len(f.sched.Entries())
	assert.False(t, f.pool.RequestReconnection("dev1"), "5s timer still pending")
	assert.Len(t, f.sched.Entries(), before)

	m.SetFail(false)
	f.sched.RunNext("dev1")
	assert.True(t, f.pool.RequestReconnection("dev1"))
	assert.False(t, f.pool.RequestReconnection("dev1"), "the new request is queued but not run")
	assert.False(t, f.pool.RequestReconnection("nope"))
}

func TestReconnect_UnexpectedDropRequestsReconnect(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.add(t, config.StreamConfig{ID: "dev1"})
	m := f.connect(t, "dev1")

	m.Drop()

	assert.False(t, m.IsConnectionValid())
	require.Len(t, f.sched.Waiting("dev1"), 1)
	f.sched.RunNext("dev1")
	assert.True(t, m.IsConnectionValid())
	assert.Equal(t, 2, f.pool.ConnectionAttempts("dev1"))
}

func TestReconnect_DropDuringConnectIsRetried(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	m := f.add(t, config.StreamConfig{ID: "dev1", TTL: -1})
	m.SetDropOnOpen(true)

	require.True(t, f.sched.RunNext("dev1"))
	assert.False(t, m.IsConnectionValid())
	assert.True(t, f.pool.IsReconnecting("dev1"))
	assert.True(t, f.issues.IssueActive("dev1.conlost"))
	waiting := f.sched.Waiting("dev1")
	require.Len(t, waiting, 1, "the request made while connecting is not lost")
	assert.Equal(t, 5*time.Second, waiting[0].Delay)

	m.SetDropOnOpen(false)
	require.True(t, f.sched.RunNext("dev1"))
	assert.True(t, m.IsConnectionValid())
	assert.False(t, f.pool.IsReconnecting("dev1"))
	assert.False(t, f.issues.IssueActive("dev1.conlost"))
	assert.Equal(t, 2, f.pool.ConnectionAttempts("dev1"))
	assert.Empty(t, f.sched.Waiting("dev1"))
}

func TestReconnect_RetryWarningsAreThrottled(t *testing.T) {
	var logs bytes.Buffer
	reg, _ := testutil.MockRegistry()
	clk := clock.NewMock()
	runner := sched.NewManual()
	p, err := New(DefaultConfig(), Deps{
		Registry:  reg,
		Scheduler: runner,
		Clock:     clk,
		Logger:    slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Stop() })

	_, err = p.AddStream(config.StreamConfig{ID: "dev1", Type: testutil.MockType, Extra: map[string]string{"fail": "true"}})
	require.NoError(t, err)

	warns := func() int {
		n := 0
		for _, line := range strings.Split(logs.String(), "\n") {
			if strings.Contains(line, "level=WARN") && strings.Contains(line, "Connect failed") {
				n++
			}
		}
		return n
	}

	for i := 0; i < 3; i++ {
		require.True(t, runner.RunNext("dev1"))
	}
	assert.Equal(t, 1, warns())
	assert.Equal(t, 3, strings.Count(logs.String(), "Connect failed"))

	clk.Add(retryWarnEvery)
	require.True(t, runner.RunNext("dev1"))
	assert.Equal(t, 2, warns())
	assert.Equal(t, 4, p.ConnectionAttempts("dev1"))
}

func TestPool_ForceReconnect(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	m := f.add(t, config.StreamConfig{ID: "dev1", Extra: map[string]string{"fail": "true"}})
	f.sched.RunNext("dev1")
	pending := f.sched.Waiting("dev1")
	require.Len(t, pending, 1)

	assert.True(t, f.pool.Reconnect("dev1"))
	assert.True(t, pending[0].Handle.Cancelled())

	m.SetFail(false)
	f.sched.RunNext("dev1")
	assert.True(t, m.IsConnectionValid())
	assert.False(t, f.pool.Reconnect("other"))
}

func TestPool_RemoveStream(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	a := f.add(t, config.StreamConfig{ID: "a", Extra: map[string]string{"fail": "true"}})
	f.add(t, config.StreamConfig{ID: "b"})
	b := f.connect(t, "b")
	f.sched.RunNext("a")
	require.True(t, f.pool.AddForwarding("id:b", a))

	assert.True(t, f.pool.RemoveStream("A"))
	assert.False(t, f.pool.RemoveStream("a"))

	assert.False(t, a.IsConnectionValid())
	assert.Empty(t, f.sched.Waiting("a"))
	assert.Equal(t, 0, b.Targets().Len(), "others stop forwarding to it")
	assert.False(t, f.issues.IssueActive("a.conlost"))
	_, ok := f.issues.Get("a.conlost")
	assert.False(t, ok)
	assert.Equal(t, 1, f.pool.Count())
}

func TestPool_StopDisconnectsAll(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.add(t, config.StreamConfig{ID: "a"})
	f.add(t, config.StreamConfig{ID: "b", TTL: 5})
	a := f.connect(t, "a")
	b := f.connect(t, "b")

	require.NoError(t, f.pool.Stop())

	assert.False(t, a.IsConnectionValid())
	assert.False(t, b.IsConnectionValid())
	assert.Empty(t, f.sched.Waiting("b"), "idle monitor cancelled")
	assert.NoError(t, f.pool.Stop())
}

func TestPool_StartFromStore(t *testing.T) {
	cfg := testutil.NewConfigBuilder().
		Stream("dev1", testutil.MockType, "nmea", 0).
		Stream("dev2", testutil.MockType, "", 0).
		Stream("bad", "i2c", "", 0).
		Build()
	f := newFixture(t, DefaultConfig(), config.NewStore("", cfg))

	assert.ErrorIs(t, f.startErr, errors.ErrUnknownTransport)
	assert.Equal(t, 2, f.pool.Count())
	_, ok := f.pool.Stream("DEV2")
	assert.True(t, ok)
	assert.ErrorIs(t, f.pool.Start(context.Background()), errors.ErrAlreadyStarted)
}

func TestTriggers_HelloThenOpen(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.add(t, config.StreamConfig{ID: "dev1", Triggers: []config.TriggerConfig{
		{When: "open", Command: "init"},
		{When: "hello", Command: "hi"},
		{When: "close", Command: "bye"},
	}})
	m := f.connect(t, "dev1")

	f.sched.RunNext("dev1")
	assert.Equal(t, []string{"hi\r\n", "init\r\n"}, m.Written())
}

func TestTriggers_AdminCommand(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.add(t, config.StreamConfig{ID: "dev1", Label: "old", Triggers: []config.TriggerConfig{
		{When: "open", Command: "cmd:alter,dev1,label:new"},
	}})
	f.connect(t, "dev1")
	f.sched.RunNext("dev1")

	s, _ := f.pool.Stream("dev1")
	assert.Equal(t, "new", s.Label())
}
