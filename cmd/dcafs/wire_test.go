package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michieltjampens/dcafs-sub002/config"
	"github.com/michieltjampens/dcafs-sub002/health"
	"github.com/michieltjampens/dcafs-sub002/stream"
	"github.com/michieltjampens/dcafs-sub002/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startApp builds and starts an app for cfg and stops it when the test ends
func startApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	a, err := newApp(cfg, config.NewStore(path, cfg), quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = a.stop(time.Second)
	})
	return a
}

func waitConnected(t *testing.T, a *app, id string) stream.Writable {
	t.Helper()
	s, ok := a.pool.Stream(id)
	require.True(t, ok, "stream %s exists", id)
	testutil.WaitFor(t, 2*time.Second, s.IsConnectionValid, id+" connected")
	w, ok := s.(stream.Writable)
	require.True(t, ok)
	return w
}

func TestApp_FilterToFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "logs", "passed.log")
	cfg := testutil.NewConfigBuilder().
		Stream("sensor", "local", "system", -1).
		Processor(config.ProcessorConfig{
			Kind:   "filter",
			ID:     "okonly",
			Source: "sensor",
			Rules:  []config.RuleConfig{{Type: "startswith", Value: "ok"}},
		}).
		Forward("filter:okonly", config.SinkConfig{Type: "file", Path: out}).
		Build()

	a := startApp(t, cfg)
	sensor := waitConnected(t, a, "sensor")

	sensor.WriteLine("", "ok;1")
	sensor.WriteLine("", "bad;2")
	sensor.WriteLine("", "ok;3")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "ok;1\nok;3\n", string(data))
}

func TestApp_ProcessorChain(t *testing.T) {
	cfg := testutil.NewConfigBuilder().
		Stream("sensor", "local", "system", -1).
		Stream("result", "local", "system", -1).
		Processor(config.ProcessorConfig{
			Kind:   "editor",
			ID:     "strip",
			Source: "sensor",
			Rules:  []config.RuleConfig{{Type: "remove", Value: "$"}},
		}).
		Processor(config.ProcessorConfig{
			Kind:    "math",
			ID:      "double",
			Source:  "editor:strip",
			Outputs: []string{"i0*2"},
		}).
		Forward("math:double", config.SinkConfig{Type: "stream", ID: "result"}).
		Build()

	a := startApp(t, cfg)
	sensor := waitConnected(t, a, "sensor")
	waitConnected(t, a, "result")

	sink := testutil.NewMockSink("capture")
	require.True(t, a.pool.AddForwarding("result", sink))

	sensor.WriteLine("", "$21")
	assert.Equal(t, []string{"42"}, sink.Data())
}

func TestApp_UnknownProcessorKind(t *testing.T) {
	cfg := testutil.NewConfigBuilder().Build()
	cfg.Processors = append(cfg.Processors, config.ProcessorConfig{Kind: "graph", ID: "g"})

	a, err := newApp(cfg, nil, quietLogger())
	require.NoError(t, err)
	assert.Error(t, a.wireProcessors())
}

func TestApp_BuildSinkErrors(t *testing.T) {
	a, err := newApp(testutil.NewConfigBuilder().Build(), nil, quietLogger())
	require.NoError(t, err)

	_, err = a.buildSink(context.Background(), config.SinkConfig{Type: "kafka"})
	assert.Error(t, err)

	_, err = a.buildSink(context.Background(), config.SinkConfig{Type: "stream", ID: "missing"})
	assert.Error(t, err)

	_, err = a.buildSink(context.Background(), config.SinkConfig{Type: "file"})
	assert.Error(t, err, "file sink needs a path")
	assert.Empty(t, a.sinks)
}

func TestApp_SQLiteSinkClosedOnStop(t *testing.T) {
	db := filepath.Join(t.TempDir(), "lines.db")
	cfg := testutil.NewConfigBuilder().
		Stream("sensor", "local", "system", -1).
		Forward("sensor", config.SinkConfig{Type: "sqlite", Path: db}).
		Build()

	path := filepath.Join(t.TempDir(), "settings.json")
	a, err := newApp(cfg, config.NewStore(path, cfg), quietLogger())
	require.NoError(t, err)
	require.NoError(t, a.start(context.Background()))
	require.Len(t, a.sinks, 1)

	sensor := waitConnected(t, a, "sensor")
	sensor.WriteLine("", "row")

	require.NoError(t, a.stop(time.Second))
	_, err = os.Stat(db)
	assert.NoError(t, err)
}

func TestHTTP_IssuesAndHealth(t *testing.T) {
	a := startApp(t, testutil.NewConfigBuilder().Stream("sensor", "local", "", -1).Build())
	waitConnected(t, a, "sensor")
	srv := httptest.NewServer(a.handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/issues")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	a.issues.SetIssue(health.IssueKey("sensor", "conidle"), true)

	resp, err = http.Get(srv.URL + "/issues")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.JSONEq(t, `["sensor.conidle"]`, string(body))

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "degraded still answers 200")
	assert.Contains(t, string(body), `"status":"degraded"`)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "go_goroutines")
}

func TestHTTP_Command(t *testing.T) {
	a := startApp(t, testutil.NewConfigBuilder().Stream("sensor", "local", "", -1).Build())
	waitConnected(t, a, "sensor")
	srv := httptest.NewServer(a.handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/cmd", strings.NewReader("labels\n\nfoo\n"))
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-1", resp.Header.Get("X-Request-ID"))
	assert.Contains(t, string(body), "sensor")
	assert.Contains(t, string(body), "Unknown command 'foo'")

	resp, err = http.Post(srv.URL+"/cmd", "text/plain", strings.NewReader("  \n"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"), "a request id is generated")

	resp, err = http.Get(srv.URL + "/cmd")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
