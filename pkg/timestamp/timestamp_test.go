package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConversions(t *testing.T) {
	ref := time.Date(2024, 5, 1, 12, 0, 0, 250_000_000, time.UTC)
	ms := ToUnixMs(ref)

	assert.Equal(t, ref, FromUnixMs(ms))
	assert.Equal(t, Never, ToUnixMs(time.Time{}))
	assert.True(t, FromUnixMs(Never).IsZero())
	assert.True(t, IsNever(Never))
	assert.False(t, IsNever(0))
}

func TestFormat(t *testing.T) {
	ms := time.Date(2024, 5, 1, 12, 0, 3, 7_000_000, time.UTC).UnixMilli()
	assert.Equal(t, "2024-05-01 12:00:03.007", Format(ms))
	assert.Equal(t, "never", Format(Never))
}

func TestAgeAndElapsed(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 10, 0, time.UTC)
	last := now.Add(-6500 * time.Millisecond).UnixMilli()

	assert.Equal(t, 6*time.Second, Age(now, last))
	assert.Equal(t, time.Duration(-1), Age(now, Never))
	assert.Equal(t, time.Duration(0), Age(now, now.Add(time.Second).UnixMilli()), "clock skew")

	armed := now.Add(-8 * time.Second).UnixMilli()
	assert.Equal(t, int64(6500), Elapsed(now, last, armed))
	assert.Equal(t, int64(8000), Elapsed(now, Never, armed))

	rearmed := now.Add(-2 * time.Second).UnixMilli()
	assert.Equal(t, int64(2000), Elapsed(now, last, rearmed), "data older than the arming counts from the arming")
}
