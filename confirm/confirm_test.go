package confirm

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michieltjampens/dcafs-sub002/testutil"
)

type result struct {
	ref string
	ok  bool
}

type recorder struct {
	mu      sync.Mutex
	results []result
}

func (r *recorder) ConfirmDone(ref string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result{ref, ok})
}

func (r *recorder) all() []result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]result(nil), r.results...)
}

func newTracker(t *testing.T) (*Tracker, *testutil.MockSink, *clock.Mock, *recorder) {
	t.Helper()
	clk := clock.NewMock()
	sink := testutil.NewMockSink("dev1")
	rec := &recorder{}
	tr := New(sink, Config{Key: "r1_dev1", Ref: "r1", Clock: clk})
	tr.Subscribe(rec)
	return tr, sink, clk, rec
}

// advanceUntil moves the mock clock in one second steps until cond holds
func advanceUntil(t *testing.T, clk *clock.Mock, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		if cond() {
			return true
		}
		clk.Add(time.Second)
		return cond()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTracker_SingleStep(t *testing.T) {
	tr, sink, _, rec := newTracker(t)

	require.True(t, tr.AddPayload("PING", "PONG"))
	assert.Equal(t, []string{"PING"}, sink.Data())
	assert.True(t, tr.IsConnectionValid())

	tr.WriteLine("dev1", "noise")
	assert.False(t, tr.Done())

	tr.WriteLine("dev1", "PONG\r")
	assert.True(t, tr.Done())
	assert.True(t, tr.Succeeded())
	assert.False(t, tr.IsConnectionValid())
	assert.Equal(t, []result{{"r1", true}}, rec.all())
}

func TestTracker_StepsShareReply(t *testing.T) {
	tr, sink, _, rec := newTracker(t)

	tr.AddPayload("set a;set b", "OK")
	assert.Equal(t, []string{"set a"}, sink.Data())

	tr.WriteLine("", "OK")
	assert.Equal(t, []string{"set a", "set b"}, sink.Data())
	assert.False(t, tr.Done())

	tr.WriteLine("", "OK")
	assert.True(t, tr.Succeeded())
	assert.Len(t, rec.all(), 1)
}

func TestTracker_EmptyReplyCompletesOnWrite(t *testing.T) {
	tr, sink, _, rec := newTracker(t)

	tr.AddPayload("one;two;three", "")

	assert.Equal(t, []string{"one", "two", "three"}, sink.Data())
	assert.True(t, tr.Succeeded())
	assert.Equal(t, []result{{"r1", true}}, rec.all())
}

func TestTracker_WildcardReply(t *testing.T) {
	tr, _, _, _ := newTracker(t)

	tr.AddPayload("ver?", "VER*")
	tr.WriteLine("", "VER 2.1.0")
	assert.True(t, tr.Succeeded())
}

func TestTracker_RetriesThenFails(t *testing.T) {
	tr, sink, clk, rec := newTracker(t)

	tr.AddPayload("PING", "PONG")
	advanceUntil(t, clk, tr.Done)

	assert.Equal(t, []string{"PING", "PING", "PING"}, sink.Data())
	assert.False(t, tr.Succeeded())
	assert.Equal(t, []result{{"r1", false}}, rec.all())
	assert.False(t, tr.Add(Step{Text: "late"}), "finished trackers take no steps")
}

func TestTracker_ReplyAfterRetry(t *testing.T) {
	tr, sink, clk, _ := newTracker(t)

	tr.AddPayload("PING", "PONG")
	advanceUntil(t, clk, func() bool { return sink.Count() == 2 })

	tr.WriteLine("", "PONG")
	assert.True(t, tr.Succeeded())
}

func TestTracker_Lifetime(t *testing.T) {
	tr, _, clk, _ := newTracker(t)

	tr.AddPayload("a;b", "OK")
	assert.Equal(t, clk.Now().Add(2*3*DefaultTimeout), tr.ExpiresAt())

	clk.Add(time.Second)
	tr.Add(Step{Text: "c", Reply: "OK"})
	assert.Equal(t, clk.Now().Add(3*3*DefaultTimeout), tr.ExpiresAt())
}

func TestTracker_OnCompleteAndCancel(t *testing.T) {
	var completed []bool
	sink := testutil.NewMockSink("dev1")
	tr := New(sink, Config{
		Clock:      clock.NewMock(),
		OnComplete: func(_ *Tracker, ok bool) { completed = append(completed, ok) },
	})
	assert.Equal(t, "dev1", tr.Key())

	tr.AddPayload("PING", "PONG")
	tr.Cancel()
	tr.Cancel()

	assert.Equal(t, []bool{false}, completed)
	assert.Contains(t, tr.Info(), "done ok=false")
}

// echoSink answers every write synchronously, like a local stream does
type echoSink struct {
	*testutil.MockSink
	tr *Tracker
}

func (e *echoSink) WriteLine(origin, line string) bool {
	e.MockSink.WriteLine(origin, line)
	e.tr.WriteLine(e.ID(), "ACK")
	return true
}

func TestTracker_SynchronousReply(t *testing.T) {
	echo := &echoSink{MockSink: testutil.NewMockSink("local")}
	echo.tr = New(echo, Config{Clock: clock.NewMock()})

	echo.tr.AddPayload("x;y", "ACK")

	assert.True(t, echo.tr.Succeeded())
	assert.Equal(t, []string{"x", "y"}, echo.Data())
}

func TestTracker_InfoWhilePending(t *testing.T) {
	tr, _, _, _ := newTracker(t)
	tr.AddPayload("PING", "PONG")
	assert.Equal(t, "r1_dev1 -> dev1, sent 'PING' awaiting 'PONG' attempt 1/3, 1 step(s) left", tr.Info())
}

func TestWrite(t *testing.T) {
	sink := testutil.NewMockSink("s")

	assert.True(t, Write(sink, "line"))
	assert.True(t, Write(sink, `raw\0`))
	assert.True(t, Write(sink, `\h(0A 1b,FF)`))
	assert.False(t, Write(sink, `\h(zz)`))

	assert.Equal(t, []string{"line", "raw"}, sink.Data())
	assert.Equal(t, [][]byte{{0x0A, 0x1B, 0xFF}}, sink.Bytes())
}

func TestMatches(t *testing.T) {
	assert.True(t, Matches("OK", " OK "))
	assert.False(t, Matches("OK", "OK!"))
	assert.True(t, Matches("OK*", "OK!"))
	assert.True(t, Matches("*", "anything"))
}

func TestSplit(t *testing.T) {
	assert.Equal(t, []Step{{"a", "r"}, {"b", "r"}}, Split("a;;b;", "r"))
	assert.Empty(t, Split("", "r"))
}
