// Package timestamp handles the epoch millisecond timestamps kept by streams.
//
// Timestamps are int64 milliseconds since the Unix epoch (UTC). The value
// Never (-1) marks a stream that has not received anything yet.
package timestamp

import (
	"time"
)

// Never is the timestamp of something that did not happen yet
const Never int64 = -1

// Layout is the format used when timestamps are written to files or tables
const Layout = "2006-01-02 15:04:05.000"

// ToUnixMs converts a time.Time to Unix milliseconds, Never for the zero time
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return Never
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to a UTC time. Never gives the zero time.
func FromUnixMs(ms int64) time.Time {
	if IsNever(ms) {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// IsNever reports whether ms marks a missing timestamp
func IsNever(ms int64) bool {
	return ms < 0
}

// Format renders ms with Layout, or "never"
func Format(ms int64) string {
	if IsNever(ms) {
		return "never"
	}
	return FromUnixMs(ms).Format(Layout)
}

// Age returns how long ago ms was at now, truncated to whole seconds.
// It returns -1 for Never.
func Age(now time.Time, ms int64) time.Duration {
	if IsNever(ms) {
		return -1
	}
	age := now.Sub(time.UnixMilli(ms))
	if age < 0 {
		return 0
	}
	return age.Truncate(time.Second)
}

// Elapsed returns the milliseconds from the later of ms and since until now.
// A Never ms always counts from since.
func Elapsed(now time.Time, ms, since int64) int64 {
	return now.UnixMilli() - max(ms, since)
}
