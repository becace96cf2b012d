// Package file provides a sink that appends lines to a file.
package file

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/michieltjampens/dcafs-sub002/config"
	"github.com/michieltjampens/dcafs-sub002/errors"
	"github.com/michieltjampens/dcafs-sub002/output"
	"github.com/michieltjampens/dcafs-sub002/pkg/timestamp"
)

// Type is the sink type used in configuration
const Type = "file"

// Output appends every line to one file. With origin enabled each line is
// prefixed by the time it arrived and the stream it came from.
type Output struct {
	id         string
	path       string
	withOrigin bool
	deps       output.Deps

	mu     sync.Mutex
	file   *os.File
	closed bool
}

var _ output.Sink = (*Output)(nil)

// New opens path for appending, creating directories as needed
func New(cfg config.SinkConfig, deps output.Deps) (*Output, error) {
	if cfg.Path == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "FileOutput", "New", "path")
	}
	id := cfg.ID
	if id == "" {
		id = "file:" + filepath.Base(cfg.Path)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, errors.WrapFatal(err, "FileOutput", "New", "create directory")
	}
	f, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.WrapFatal(err, "FileOutput", "New", "open "+cfg.Path)
	}

	return &Output{
		id:         id,
		path:       cfg.Path,
		withOrigin: cfg.WithOrigin,
		deps:       deps.WithDefaults("file-output", id),
		file:       f,
	}, nil
}

// ID returns the sink id
func (o *Output) ID() string { return o.id }

// Path returns the file being written
func (o *Output) Path() string { return o.path }

// IsConnectionValid is false once closed
func (o *Output) IsConnectionValid() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.closed
}

// WriteLine appends line and a newline
func (o *Output) WriteLine(origin, line string) bool {
	var sb strings.Builder
	if o.withOrigin {
		sb.WriteString(timestamp.Format(o.deps.Clock.Now().UnixMilli()))
		sb.WriteString("\t")
		if origin == "" {
			origin = "-"
		}
		sb.WriteString(origin)
		sb.WriteString("\t")
	}
	sb.WriteString(line)
	sb.WriteString("\n")
	return o.write([]byte(sb.String()))
}

// WriteString appends data as is
func (o *Output) WriteString(data string) bool {
	return o.write([]byte(data))
}

// WriteBytes appends data as is
func (o *Output) WriteBytes(data []byte) bool {
	return o.write(data)
}

func (o *Output) write(data []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	if _, err := o.file.Write(data); err != nil {
		o.deps.Logger.Error("Write failed", "path", o.path, "error", err)
		o.deps.Metrics.RecordSinkWrite(o.id, false, 1)
		return false
	}
	o.deps.Metrics.RecordSinkWrite(o.id, true, 1)
	return true
}

// Close syncs and closes the file
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	if err := o.file.Sync(); err != nil {
		_ = o.file.Close()
		return errors.WrapTransient(err, "FileOutput", "Close", "sync")
	}
	if err := o.file.Close(); err != nil {
		return errors.WrapTransient(err, "FileOutput", "Close", "close")
	}
	return nil
}
