// Package udp provides the UDP stream. Without a listen address it dials the
// configured host:port and talks to that peer only. With Extra["listen"] set
// it binds that local address, receives from anyone and answers the
// configured address, or the last sender when none is configured.
//
// Every datagram is framed on the stream's EOL, a datagram without a
// delimiter is one frame.
package udp

import (
	"bytes"
	"context"
	"net"
	"sync"

	"github.com/michieltjampens/dcafs-sub002/config"
	"github.com/michieltjampens/dcafs-sub002/errors"
	"github.com/michieltjampens/dcafs-sub002/stream"
)

// Type is the transport name used in configuration
const Type = "udp"

// ExtraListen is the stream setting holding the local bind address
const ExtraListen = "listen"

// Larger buffer to handle any UDP packet size
const maxDatagram = 65536

// Stream is a UDP link
type Stream struct {
	*stream.Base
	listen string

	mu     sync.Mutex
	conn   *net.UDPConn
	remote *net.UDPAddr
	peer   *net.UDPAddr
}

var (
	_ stream.Stream   = (*Stream)(nil)
	_ stream.Writable = (*Stream)(nil)
)

// New creates a UDP stream
func New(cfg config.StreamConfig, deps stream.Deps) (stream.Stream, error) {
	listen := cfg.Extra[ExtraListen]
	if cfg.Address == "" && listen == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "udp", "New", "address or listen of "+cfg.ID)
	}
	for _, addr := range []string{cfg.Address, listen} {
		if addr == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return nil, errors.WrapInvalid(err, "udp", "New", "parse address "+addr)
		}
	}
	return &Stream{Base: stream.NewBase(cfg, deps), listen: listen}, nil
}

// Connect binds or dials the socket
func (s *Stream) Connect(_ context.Context) bool {
	var remote *net.UDPAddr
	if addr := s.Address(); addr != "" {
		var err error
		if remote, err = net.ResolveUDPAddr("udp", addr); err != nil {
			s.Logger().Debug("Failed to resolve UDP address", "address", addr, "error", err)
			return false
		}
	}

	var conn *net.UDPConn
	var err error
	if s.listen != "" {
		var local *net.UDPAddr
		if local, err = net.ResolveUDPAddr("udp", s.listen); err == nil {
			conn, err = net.ListenUDP("udp", local)
		}
	} else {
		conn, err = net.DialUDP("udp", nil, remote)
	}
	if err != nil {
		s.Logger().Debug("Failed to open UDP socket", "listen", s.listen, "address", s.Address(), "error", err)
		return false
	}

	s.mu.Lock()
	s.conn = conn
	s.remote = remote
	s.peer = nil
	s.mu.Unlock()

	s.Opened()
	go s.readLoop(conn)
	return true
}

// LocalAddr returns the bound address while connected
func (s *Stream) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

func (s *Stream) readLoop(conn *net.UDPConn) {
	buf := make([]byte, maxDatagram)
	eol := s.EOL()
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			s.mu.Lock()
			current := s.conn == conn
			if current {
				s.conn = nil
			}
			s.mu.Unlock()
			_ = conn.Close()
			if current {
				s.Logger().Info("Socket closed", "error", err)
				s.Closed(false)
			}
			return
		}
		if from != nil {
			s.mu.Lock()
			s.peer = from
			s.mu.Unlock()
		}
		_ = stream.ReadFrames(bytes.NewReader(buf[:n]), eol, s.Receive)
	}
}

// Disconnect closes the socket, if any
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

// WriteString sends data as one datagram
func (s *Stream) WriteString(data string) bool {
	return s.send([]byte(data))
}

// WriteLine sends line plus EOL as one datagram
func (s *Stream) WriteLine(_ string, line string) bool {
	return s.send([]byte(line + s.EOL()))
}

// WriteBytes sends data as one datagram
func (s *Stream) WriteBytes(data []byte) bool {
	return s.send(data)
}

func (s *Stream) send(data []byte) bool {
	s.mu.Lock()
	conn, listening := s.conn, s.listen != ""
	to := s.remote
	if to == nil {
		to = s.peer
	}
	s.mu.Unlock()
	if conn == nil {
		return false
	}

	var err error
	switch {
	case !listening:
		_, err = conn.Write(data)
	case to != nil:
		_, err = conn.WriteToUDP(data, to)
	default:
		s.Logger().Debug("Nobody to send to yet")
		return false
	}
	if err != nil {
		s.Logger().Warn("Send failed", "error", err)
		return false
	}
	return true
}
