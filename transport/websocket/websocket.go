// Package websocket provides a WebSocket client stream. Every received
// message is framed on the stream's EOL; every written line is sent as one
// text message without delimiter, message boundaries take its place.
package websocket

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/michieltjampens/dcafs-sub002/config"
	"github.com/michieltjampens/dcafs-sub002/errors"
	"github.com/michieltjampens/dcafs-sub002/pkg/security"
	"github.com/michieltjampens/dcafs-sub002/pkg/tlsutil"
	"github.com/michieltjampens/dcafs-sub002/stream"
)

// Type is the transport name used in configuration
const Type = "websocket"

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
)

// Stream is a WebSocket client link
type Stream struct {
	*stream.Base
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn

	// gorilla allows one concurrent writer
	writeMu sync.Mutex
}

var (
	_ stream.Stream   = (*Stream)(nil)
	_ stream.Writable = (*Stream)(nil)
)

// New creates a WebSocket stream. The address is a ws:// or wss:// URL.
func New(cfg config.StreamConfig, deps stream.Deps) (stream.Stream, error) {
	if cfg.Address == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "websocket", "New", "url of "+cfg.ID)
	}
	u, err := url.Parse(cfg.Address)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "websocket", "New", "parse url "+cfg.Address)
	}

	dialer := &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	tlsConfig, err := tlsutil.LoadClientTLSConfig(security.ClientFromExtra(cfg.Extra))
	if err != nil {
		return nil, err
	}
	dialer.TLSClientConfig = tlsConfig

	return &Stream{Base: stream.NewBase(cfg, deps), dialer: dialer}, nil
}

// Connect performs the handshake
func (s *Stream) Connect(ctx context.Context) bool {
	conn, _, err := s.dialer.DialContext(ctx, s.Address(), nil)
	if err != nil {
		s.Logger().Debug("Dial failed", "url", s.Address(), "error", err)
		return false
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.Opened()
	go s.readLoop(conn)
	return true
}

func (s *Stream) readLoop(conn *websocket.Conn) {
	eol := s.EOL()
	var err error
	for {
		var msg []byte
		if _, msg, err = conn.ReadMessage(); err != nil {
			break
		}
		s.receiveMessage(eol, string(msg))
	}

	s.mu.Lock()
	current := s.conn == conn
	if current {
		s.conn = nil
	}
	s.mu.Unlock()
	_ = conn.Close()

	if current {
		s.Logger().Info("Connection lost", "url", s.Address(), "error", err)
		s.Closed(false)
	}
}

func (s *Stream) receiveMessage(eol, msg string) {
	if eol == "" {
		s.Receive(msg)
		return
	}
	for _, frame := range splitFrames(msg, eol) {
		s.Receive(frame)
	}
}

// Disconnect sends a close frame and drops the connection
func (s *Stream) Disconnect() bool {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = conn.Close()
	}
	s.Closed(true)
	return true
}

// WriteString sends data as a text message
func (s *Stream) WriteString(data string) bool {
	return s.send(websocket.TextMessage, []byte(data))
}

// WriteLine sends line as a text message
func (s *Stream) WriteLine(_ string, line string) bool {
	return s.send(websocket.TextMessage, []byte(line))
}

// WriteBytes sends data as a binary message
func (s *Stream) WriteBytes(data []byte) bool {
	return s.send(websocket.BinaryMessage, data)
}

func (s *Stream) send(kind int, data []byte) bool {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return false
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(kind, data); err != nil {
		s.Logger().Warn("Send failed", "error", err)
		return false
	}
	return true
}
