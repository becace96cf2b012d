// Package natsclient manages the NATS connection used by the nats output.
//
// The client wraps nats.go with a connection status, bounded retries for the
// initial connect and a health callback the host uses to raise an issue when
// the server goes away. Reconnects after the first connect are left to
// nats.go.
package natsclient

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/michieltjampens/dcafs-sub002/errors"
	"github.com/michieltjampens/dcafs-sub002/pkg/retry"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Connection states
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosed
)

// String returns the state name
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Status is a snapshot of the connection
type Status struct {
	Status     ConnectionStatus
	URL        string
	Reconnects uint64
	LastError  string
	RTT        time.Duration
}

// Client is a NATS connection with status tracking
type Client struct {
	url    string
	logger *slog.Logger
	retry  retry.Config

	name          string
	token         string
	username      string
	password      string
	certFile      string
	keyFile       string
	caFile        string
	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	onHealthChange func(healthy bool)

	status atomic.Int32

	mu      sync.RWMutex
	conn    *nats.Conn
	lastErr error
}

// NewClient creates a client. Nothing connects until Connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient", "url")
	}
	c := &Client{
		url:           url,
		logger:        slog.Default().With("component", "natsclient"),
		retry:         retry.Quick(),
		name:          "dcafs",
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  5 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.setStatus(StatusDisconnected)
	return c, nil
}

// URL returns the server URL
func (c *Client) URL() string { return c.url }

// Status returns the connection state
func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

// IsConnected reports whether publishing is possible right now
func (c *Client) IsConnected() bool {
	return c.Status() == StatusConnected
}

func (c *Client) setStatus(s ConnectionStatus) {
	old := ConnectionStatus(c.status.Swap(int32(s)))
	if old == s || c.onHealthChange == nil {
		return
	}
	if s == StatusConnected || old == StatusConnected {
		c.onHealthChange(s == StatusConnected)
	}
}

func (c *Client) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.Name(c.name),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
	}
	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.certFile != "" && c.keyFile != "" {
		opts = append(opts, nats.ClientCert(c.certFile, c.keyFile))
	}
	if c.caFile != "" {
		opts = append(opts, nats.RootCAs(c.caFile))
	}
	return opts
}

// Connect dials the server, retrying a few times before giving up
func (c *Client) Connect(ctx context.Context) error {
	if c.Status() == StatusClosed {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Client", "Connect", "client closed")
	}
	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS", "url", c.url)

	var conn *nats.Conn
	err := retry.Do(ctx, c.retry, func() error {
		var err error
		conn, err = nats.Connect(c.url, c.connectionOptions()...)
		if err != nil {
			c.logger.Debug("NATS connect attempt failed", "url", c.url, "error", err)
		}
		return err
	})
	if err != nil {
		c.recordError(err)
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "establish connection")
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setStatus(StatusConnected)
	c.logger.Info("Connected to NATS", "url", conn.ConnectedUrl())
	return nil
}

// Publish sends data on subject
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil || !c.IsConnected() {
		return errors.WrapTransient(errors.ErrNotConnected, "Client", "Publish", "publish to "+subject)
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish to "+subject)
	}
	return nil
}

// Flush waits until the server has seen everything published so far
func (c *Client) Flush(ctx context.Context) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return errors.WrapTransient(errors.ErrNotConnected, "Client", "Flush", "flush")
	}
	if err := conn.FlushWithContext(ctx); err != nil {
		return errors.WrapTransient(err, "Client", "Flush", "flush")
	}
	return nil
}

// GetStatus returns a snapshot of the connection
func (c *Client) GetStatus() Status {
	c.mu.RLock()
	conn, lastErr := c.conn, c.lastErr
	c.mu.RUnlock()

	st := Status{Status: c.Status(), URL: c.url}
	if lastErr != nil {
		st.LastError = lastErr.Error()
	}
	if conn != nil {
		st.Reconnects = conn.Stats().Reconnects
		if conn.IsConnected() {
			if rtt, err := conn.RTT(); err == nil {
				st.RTT = rtt
			}
		}
	}
	return st
}

// Close drains and closes the connection. Calling it twice is harmless.
func (c *Client) Close(ctx context.Context) error {
	if c.Status() == StatusClosed {
		return nil
	}
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	c.setStatus(StatusClosed)

	if conn == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- conn.Drain() }()
	select {
	case err := <-done:
		conn.Close()
		if err != nil {
			return errors.WrapTransient(err, "Client", "Close", "drain")
		}
		return nil
	case <-ctx.Done():
		conn.Close()
		return errors.WrapTransient(ctx.Err(), "Client", "Close", "drain")
	}
}

func (c *Client) recordError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.Status() == StatusClosed {
		return
	}
	if err != nil {
		c.recordError(err)
	}
	c.logger.Warn("NATS disconnected", "url", c.url, "error", err)
	c.setStatus(StatusReconnecting)
}

func (c *Client) handleReconnect(conn *nats.Conn) {
	c.logger.Info("NATS reconnected", "url", conn.ConnectedUrl())
	c.setStatus(StatusConnected)
}

func (c *Client) handleClosed(_ *nats.Conn) {
	if c.Status() != StatusClosed {
		c.logger.Warn("NATS connection closed", "url", c.url)
		c.setStatus(StatusDisconnected)
	}
}
