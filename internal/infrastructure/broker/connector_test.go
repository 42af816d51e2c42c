package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"caseimport/internal/ports"
)

func TestConnectorGivesUpAfterBoundedAttempts(t *testing.T) {
	c := NewConnector(Config{
		URL:             "nats://127.0.0.1:1",
		ConnectAttempts: 3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	})
	calls := 0
	c.dial = func(string, ...nats.Option) (*nats.Conn, error) {
		calls++
		return nil, errors.New("connection refused")
	}

	_, err := c.Connect(context.Background())
	if !errors.Is(err, ports.ErrQueueUnavailable) {
		t.Fatalf("Connect() error = %v, want ErrQueueUnavailable", err)
	}
	if calls != 3 {
		t.Fatalf("dial calls = %d, want 3", calls)
	}

	health := c.Health()
	if health.Connected || health.State != string(StateUnavailable) || health.Attempts != 3 {
		t.Fatalf("Health() = %+v", health)
	}
	if health.LastError != "connection refused" {
		t.Fatalf("Health().LastError = %q", health.LastError)
	}
}

func TestConnectorStopsOnContextCancel(t *testing.T) {
	c := NewConnector(Config{ConnectAttempts: 100, InitialInterval: 50 * time.Millisecond, MaxInterval: 50 * time.Millisecond})
	c.dial = func(string, ...nats.Option) (*nats.Conn, error) {
		return nil, errors.New("no route")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := c.Connect(ctx); err == nil {
		t.Fatalf("Connect() expected error")
	}
	if c.Health().Attempts >= 100 {
		t.Fatalf("Connect() ignored context, attempts = %d", c.Health().Attempts)
	}
}

func TestConnectorReconnectStates(t *testing.T) {
	c := NewConnector(Config{})
	c.setState(StateConnected)

	c.onDisconnect(errors.New("eof"))
	if h := c.Health(); h.Connected || h.State != string(StateReconnecting) || h.LastError != "eof" {
		t.Fatalf("after disconnect Health() = %+v", h)
	}

	c.onReconnect()
	if h := c.Health(); !h.Connected || h.State != string(StateConnected) {
		t.Fatalf("after reconnect Health() = %+v", h)
	}

	c.onClosed()
	if h := c.Health(); h.Connected || h.State != string(StateUnavailable) {
		t.Fatalf("after close Health() = %+v", h)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() without connection error = %v", err)
	}
}
