// Package serial provides the serial port stream on top of go.bug.st/serial.
// The port is opened 8N1 at the configured baudrate; the baudrate can be
// altered while the port is open.
package serial

import (
	"context"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/michieltjampens/dcafs-sub002/config"
	"github.com/michieltjampens/dcafs-sub002/errors"
	"github.com/michieltjampens/dcafs-sub002/stream"
)

// Type is the transport name used in configuration
const Type = "serial"

// DefaultBaudrate applies when the config leaves it out
const DefaultBaudrate = 19200

// Port is the part of a serial port the stream uses
type Port interface {
	io.ReadWriteCloser
	SetMode(mode *serial.Mode) error
}

// Opener opens a port by name
type Opener func(name string, mode *serial.Mode) (Port, error)

// SystemOpener opens a real serial device
func SystemOpener(name string, mode *serial.Mode) (Port, error) {
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Stream is a serial port link
type Stream struct {
	*stream.Base
	open Opener

	mu   sync.Mutex
	port Port

	writeMu sync.Mutex
}

var (
	_ stream.Stream   = (*Stream)(nil)
	_ stream.Writable = (*Stream)(nil)
	_ stream.Alterer  = (*Stream)(nil)
)

// Factory returns a stream factory opening ports with open
func Factory(open Opener) stream.Factory {
	return func(cfg config.StreamConfig, deps stream.Deps) (stream.Stream, error) {
		if strings.TrimSpace(cfg.Address) == "" {
			return nil, errors.WrapInvalid(errors.ErrMissingConfig, "serial", "New", "port of "+cfg.ID)
		}
		if cfg.Baudrate <= 0 {
			cfg.Baudrate = DefaultBaudrate
		}
		return &Stream{Base: stream.NewBase(cfg, deps), open: open}, nil
	}
}

// New creates a stream on a real serial device
func New(cfg config.StreamConfig, deps stream.Deps) (stream.Stream, error) {
	return Factory(SystemOpener)(cfg, deps)
}

func (s *Stream) mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: s.Config().Baudrate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Connect opens the port
func (s *Stream) Connect(_ context.Context) bool {
	port, err := s.open(s.Address(), s.mode())
	if err != nil {
		s.Logger().Debug("Failed to open port", "port", s.Address(), "error", err)
		return false
	}

	s.mu.Lock()
	s.port = port
	s.mu.Unlock()

	s.Opened()
	go s.readLoop(port)
	return true
}

func (s *Stream) readLoop(port Port) {
	err := stream.ReadFrames(port, s.EOL(), s.Receive)

	s.mu.Lock()
	current := s.port == port
	if current {
		s.port = nil
	}
	s.mu.Unlock()
	_ = port.Close()

	if current {
		s.Logger().Info("Port lost", "port", s.Address(), "error", err)
		s.Closed(false)
	}
}

// Disconnect closes the port, if open
func (s *Stream) Disconnect() bool {
	s.mu.Lock()
	port := s.port
	s.port = nil
	s.mu.Unlock()

	if port != nil {
		_ = port.Close()
	}
	s.Closed(true)
	return true
}

// Alter changes the baudrate, live when the port is open
func (s *Stream) Alter(key, value string) bool {
	switch strings.ToLower(key) {
	case "baudrate", "baud":
	default:
		return false
	}
	baud, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || baud <= 0 {
		return false
	}
	s.UpdateConfig(func(cfg *config.StreamConfig) { cfg.Baudrate = baud })

	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return true
	}
	if err := port.SetMode(s.mode()); err != nil {
		s.Logger().Warn("Failed to change baudrate", "baudrate", baud, "error", err)
		return false
	}
	return true
}

// WriteString writes data as is
func (s *Stream) WriteString(data string) bool {
	return s.write([]byte(data))
}

// WriteLine writes line followed by the stream's EOL
func (s *Stream) WriteLine(_ string, line string) bool {
	return s.write([]byte(line + s.EOL()))
}

// WriteBytes writes raw data
func (s *Stream) WriteBytes(data []byte) bool {
	return s.write(data)
}

func (s *Stream) write(data []byte) bool {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return false
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := port.Write(data); err != nil {
		s.Logger().Warn("Write failed", "error", err)
		return false
	}
	return true
}
