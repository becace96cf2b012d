package stream

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// DefaultEOL is used when a stream has no delimiter configured
const DefaultEOL = "\r\n"

// MaxFrame bounds a single frame, longer input fails the read
const MaxFrame = 64 * 1024

// ParseEOL turns a config value into the delimiter it names. Besides the
// names crlf, lf, cr and none it accepts escaped forms like "\r\n".
func ParseEOL(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultEOL
	case "crlf":
		return "\r\n"
	case "lf":
		return "\n"
	case "cr":
		return "\r"
	case "none":
		return ""
	}
	r := strings.NewReplacer(`\r`, "\r", `\n`, "\n", `\t`, "\t", `\0`, "\x00")
	return r.Replace(s)
}

// FormatEOL is the inverse of ParseEOL
func FormatEOL(eol string) string {
	switch eol {
	case "\r\n":
		return "crlf"
	case "\n":
		return "lf"
	case "\r":
		return "cr"
	case "":
		return "none"
	}
	r := strings.NewReplacer("\r", `\r`, "\n", `\n`, "\t", `\t`, "\x00", `\0`)
	return r.Replace(eol)
}

// SplitFunc returns a bufio.SplitFunc that cuts frames on eol. With crlf a
// lone lf also ends a frame. An empty eol passes chunks through as read.
func SplitFunc(eol string) func(data []byte, atEOF bool) (int, []byte, error) {
	delim := []byte(eol)
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		if len(delim) == 0 {
			return len(data), data, nil
		}
		if eol == "\r\n" {
			if i := bytes.IndexByte(data, '\n'); i >= 0 {
				return i + 1, bytes.TrimSuffix(data[:i], []byte{'\r'}), nil
			}
		} else if i := bytes.Index(data, delim); i >= 0 {
			return i + len(delim), data[:i], nil
		}
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
}

// ReadFrames reads r until it fails, calling fn with every non-empty frame.
// It returns the read error, nil on a clean EOF. The delimiter is fixed for
// the life of the reader, a changed EOL applies from the next connect.
func ReadFrames(r io.Reader, eol string, fn func(frame string)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), MaxFrame)
	sc.Split(SplitFunc(eol))
	for sc.Scan() {
		if frame := sc.Text(); frame != "" {
			fn(frame)
		}
	}
	return sc.Err()
}
