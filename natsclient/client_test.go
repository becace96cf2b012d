package natsclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michieltjampens/dcafs-sub002/errors"
	"github.com/michieltjampens/dcafs-sub002/pkg/retry"
)

func TestNewClient_Options(t *testing.T) {
	_, err := NewClient("")
	assert.True(t, errors.IsInvalid(err))

	tests := []struct {
		name string
		opt  ClientOption
	}{
		{"retry without attempts", WithRetry(retry.Config{})},
		{"zero reconnect wait", WithReconnectWait(0)},
		{"zero timeout", WithTimeout(0)},
		{"cert without key", WithTLS("cert.pem", "", "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient("nats://localhost:4222", tt.opt)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	c, err := NewClient("nats://localhost:4222",
		WithName("dcafs-test"), WithToken("secret"), WithCredentials("u", "p"),
		WithMaxReconnects(3), WithTLS("c.pem", "k.pem", "ca.pem"))
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Equal(t, "nats://localhost:4222", c.URL())
	assert.Len(t, c.connectionOptions(), 8+4)
}

func TestClient_PublishWhileDisconnected(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	err = c.Publish(context.Background(), "dcafs.gps", []byte("x"))
	assert.ErrorIs(t, err, errors.ErrNotConnected)
	assert.True(t, errors.IsTransient(err))
	assert.ErrorIs(t, c.Flush(context.Background()), errors.ErrNotConnected)
}

func TestClient_ConnectFails(t *testing.T) {
	// a port nothing listens on
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	var health []bool
	c, err := NewClient("nats://"+addr,
		WithTimeout(200*time.Millisecond),
		WithRetry(retry.Config{MaxAttempts: 2, InitialDelay: 10 * time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 1}),
		WithHealthChangeCallback(func(ok bool) { health = append(health, ok) }))
	require.NoError(t, err)

	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.NotEmpty(t, c.GetStatus().LastError)
	assert.Empty(t, health, "never connected, so health never changed")

	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, StatusClosed, c.Status())
	assert.Error(t, c.Connect(context.Background()), "closed client stays closed")
}

func TestClient_HealthCallback(t *testing.T) {
	var health []bool
	c, err := NewClient("nats://localhost:4222", WithHealthChangeCallback(func(ok bool) { health = append(health, ok) }))
	require.NoError(t, err)

	c.setStatus(StatusConnecting)
	c.setStatus(StatusConnected)
	c.setStatus(StatusConnected)
	c.setStatus(StatusReconnecting)
	c.setStatus(StatusConnected)
	assert.Equal(t, []bool{true, false, true}, health)
	assert.Equal(t, "connected", c.Status().String())
}
