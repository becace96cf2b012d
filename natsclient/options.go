package natsclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/michieltjampens/dcafs-sub002/pkg/retry"
)

// ClientOption configures a Client
type ClientOption func(*Client) error

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger.With("component", "natsclient")
		}
		return nil
	}
}

// WithName sets the client name shown by the server
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.name = name
		return nil
	}
}

// WithRetry sets the retry policy of the initial connect
func WithRetry(cfg retry.Config) ClientOption {
	return func(c *Client) error {
		if cfg.MaxAttempts < 1 {
			return fmt.Errorf("retry needs at least one attempt")
		}
		c.retry = cfg
		return nil
	}
}

// WithMaxReconnects sets the reconnect limit after a drop, -1 for no limit
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the wait between reconnect attempts
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("reconnect wait must be positive")
		}
		c.reconnectWait = d
		return nil
	}
}

// WithTimeout sets the dial timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive")
		}
		c.timeout = d
		return nil
	}
}

// WithCredentials sets user and password
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithToken sets token authentication
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithTLS sets the client certificate and CA files, empty values are skipped
func WithTLS(certFile, keyFile, caFile string) ClientOption {
	return func(c *Client) error {
		if (certFile == "") != (keyFile == "") {
			return fmt.Errorf("certificate and key must be given together")
		}
		c.certFile, c.keyFile, c.caFile = certFile, keyFile, caFile
		return nil
	}
}

// WithHealthChangeCallback is called when the connection goes up or down
func WithHealthChangeCallback(fn func(healthy bool)) ClientOption {
	return func(c *Client) error {
		c.onHealthChange = fn
		return nil
	}
}
