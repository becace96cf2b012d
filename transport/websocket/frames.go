package websocket

import (
	"strings"

	"github.com/michieltjampens/dcafs-sub002/stream"
)

// splitFrames cuts a message into frames the way a byte stream would be cut
func splitFrames(msg, eol string) []string {
	var frames []string
	_ = stream.ReadFrames(strings.NewReader(msg), eol, func(f string) {
		frames = append(frames, f)
	})
	return frames
}
