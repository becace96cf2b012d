package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michieltjampens/dcafs-sub002/config"
	"github.com/michieltjampens/dcafs-sub002/errors"
	"github.com/michieltjampens/dcafs-sub002/output"
)

func rows(t *testing.T, o *Output) []Row {
	t.Helper()
	res, err := o.DB().QueryContext(context.Background(),
		"SELECT ts, origin, line FROM "+o.table+" ORDER BY id")
	require.NoError(t, err)
	defer res.Close()

	var out []Row
	for res.Next() {
		var r Row
		require.NoError(t, res.Scan(&r.TS, &r.Origin, &r.Line))
		out = append(out, r)
	}
	require.NoError(t, res.Err())
	return out
}

func TestNew_Validation(t *testing.T) {
	ctx := context.Background()
	_, err := New(ctx, config.SinkConfig{Type: Type}, output.Deps{})
	assert.ErrorIs(t, err, errors.ErrMissingConfig)

	_, err = New(ctx, config.SinkConfig{Type: Type, Path: filepath.Join(t.TempDir(), "x.db"), Table: "drop table;"}, output.Deps{})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestOutput_FlushInsertsRows(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	path := filepath.Join(t.TempDir(), "data", "dcafs.db")

	o, err := New(context.Background(), config.SinkConfig{Type: Type, Path: path, Table: "ctd"},
		output.Deps{Clock: mock}, WithBatchSize(1000), WithFlushInterval(time.Hour))
	require.NoError(t, err)
	defer o.Close()
	assert.Equal(t, "sqlite:ctd", o.ID())

	assert.True(t, o.WriteLine("ctd", "12.5,35.1"))
	assert.True(t, o.WriteString("manual"))
	assert.Equal(t, 2, o.Pending())

	require.NoError(t, o.Flush(context.Background()))
	assert.Equal(t, 0, o.Pending())

	ts := mock.Now().UnixMilli()
	assert.Equal(t, []Row{
		{TS: ts, Origin: "ctd", Line: "12.5,35.1"},
		{TS: ts, Origin: "", Line: "manual"},
	}, rows(t, o))
}

func TestOutput_FullBatchFlushes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dcafs.db")
	o, err := New(context.Background(), config.SinkConfig{Type: Type, Path: path},
		output.Deps{}, WithBatchSize(3), WithFlushInterval(time.Hour))
	require.NoError(t, err)
	defer o.Close()

	for _, line := range []string{"a", "b", "c"} {
		o.WriteLine("gps", line)
	}
	assert.Eventually(t, func() bool { return o.Pending() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return len(rows(t, o)) == 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestOutput_CloseFlushes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dcafs.db")
	o, err := New(context.Background(), config.SinkConfig{Type: Type, Path: path},
		output.Deps{}, WithFlushInterval(time.Hour))
	require.NoError(t, err)

	o.WriteLine("gps", "last words")
	require.NoError(t, o.Close())
	assert.False(t, o.IsConnectionValid())
	assert.False(t, o.WriteLine("gps", "too late"))
	require.NoError(t, o.Close())

	reopened, err := New(context.Background(), config.SinkConfig{Type: Type, Path: path}, output.Deps{})
	require.NoError(t, err)
	defer reopened.Close()
	got := rows(t, reopened)
	require.Len(t, got, 1)
	assert.Equal(t, "last words", got[0].Line)
}
