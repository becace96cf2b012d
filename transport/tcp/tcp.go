// Package tcp provides the TCP client stream. It dials the configured
// host:port, frames received bytes on the stream's EOL and writes lines back
// over the same connection. TLS is used when the stream's tls_* settings ask
// for it.
package tcp

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/michieltjampens/dcafs-sub002/config"
	"github.com/michieltjampens/dcafs-sub002/errors"
	"github.com/michieltjampens/dcafs-sub002/pkg/security"
	"github.com/michieltjampens/dcafs-sub002/pkg/tlsutil"
	"github.com/michieltjampens/dcafs-sub002/stream"
)

// Type is the transport name used in configuration
const Type = "tcp"

const (
	dialTimeout  = 5 * time.Second
	writeTimeout = 5 * time.Second
)

// Stream is a TCP client link
type Stream struct {
	*stream.Base
	tlsConfig *tls.Config

	mu   sync.Mutex
	conn net.Conn

	writeMu sync.Mutex
}

var (
	_ stream.Stream   = (*Stream)(nil)
	_ stream.Writable = (*Stream)(nil)
)

// New creates a TCP stream. The address must be host:port.
func New(cfg config.StreamConfig, deps stream.Deps) (stream.Stream, error) {
	if cfg.Address == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "tcp", "New", "address of "+cfg.ID)
	}
	if _, _, err := net.SplitHostPort(cfg.Address); err != nil {
		return nil, errors.WrapInvalid(err, "tcp", "New", "parse address "+cfg.Address)
	}
	tlsConfig, err := tlsutil.LoadClientTLSConfig(security.ClientFromExtra(cfg.Extra))
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil && tlsConfig.ServerName == "" {
		host, _, _ := net.SplitHostPort(cfg.Address)
		tlsConfig.ServerName = host
	}
	return &Stream{Base: stream.NewBase(cfg, deps), tlsConfig: tlsConfig}, nil
}

// Connect makes one dial attempt
func (s *Stream) Connect(ctx context.Context) bool {
	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.Address())
	if err != nil {
		s.Logger().Debug("Dial failed", "address", s.Address(), "error", err)
		return false
	}
	if s.tlsConfig != nil {
		tc := tls.Client(conn, s.tlsConfig)
		if err := tc.HandshakeContext(ctx); err != nil {
			s.Logger().Warn("TLS handshake failed", "address", s.Address(), "error", err)
			_ = conn.Close()
			return false
		}
		conn = tc
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.Opened()
	go s.readLoop(conn)
	return true
}

func (s *Stream) readLoop(conn net.Conn) {
	err := stream.ReadFrames(conn, s.EOL(), s.Receive)

	s.mu.Lock()
	current := s.conn == conn
	if current {
		s.conn = nil
	}
	s.mu.Unlock()
	_ = conn.Close()

	if current {
		s.Logger().Info("Connection lost", "address", s.Address(), "error", err)
		s.Closed(false)
	}
}

// Disconnect closes the connection, if any
func (s *Stream) Disconnect() bool {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	s.Closed(true)
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
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return false
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(data); err != nil {
		s.Logger().Warn("Write failed, closing", "error", err)
		// the read loop reports the loss
		_ = conn.Close()
		return false
	}
	return true
}
