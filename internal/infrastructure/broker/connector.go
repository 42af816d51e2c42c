package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/nats-io/nats.go"

	"caseimport/internal/bootstrap/logging"
	"caseimport/internal/errs"
	"caseimport/internal/ports"
)

type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateUnavailable  State = "unavailable"
)

type Config struct {
	URL             string
	Name            string
	ConnectAttempts int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	ReconnectWait   time.Duration
	MaxReconnects   int
}

type dialFunc func(url string, opts ...nats.Option) (*nats.Conn, error)

// Connector establishes the NATS connection with a bounded exponential retry
// and tracks its state for status reporting.
type Connector struct {
	cfg  Config
	dial dialFunc

	mu       sync.RWMutex
	state    State
	attempts int
	lastErr  string
	conn     *nats.Conn
}

func NewConnector(cfg Config) *Connector {
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	return &Connector{cfg: cfg, dial: nats.Connect, state: StateIdle}
}

func (c *Connector) Connect(ctx context.Context) (*nats.Conn, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	logCtx := logging.WithAttrs(ctx, slog.String("component", "broker.connector"), slog.String("url", c.cfg.URL))

	c.setState(StateConnecting)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.InitialInterval
	policy.MaxInterval = c.cfg.MaxInterval

	conn, err := backoff.Retry(ctx, func() (*nats.Conn, error) {
		c.mu.Lock()
		c.attempts++
		c.mu.Unlock()

		conn, err := c.dial(c.cfg.URL, c.options(logCtx)...)
		if err != nil {
			c.recordError(err)
			return nil, err
		}
		return conn, nil
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.cfg.ConnectAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logging.Warn(logCtx, "nats connect failed, retrying", slog.Any("err", errs.Loggable(err)), slog.Duration("next", next))
		}),
	)
	if err != nil {
		c.setState(StateUnavailable)
		logging.Error(logCtx, "nats unavailable", slog.Int("attempts", c.Health().Attempts), slog.Any("err", errs.Loggable(err)))
		return nil, errs.Wrapf(errors.Join(ports.ErrQueueUnavailable, err), "connect nats after %d attempts", c.cfg.ConnectAttempts)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.lastErr = ""
	c.mu.Unlock()

	logging.Info(logCtx, "nats connected", slog.Int("attempts", c.Health().Attempts))
	return conn, nil
}

func (c *Connector) options(ctx context.Context) []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.cfg.MaxReconnects),
		nats.ReconnectWait(c.cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.onDisconnect(err)
			logging.Warn(ctx, "nats disconnected", slog.Any("err", errs.Loggable(err)))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.onReconnect()
			logging.Info(ctx, "nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.onClosed()
		}),
	}
	if c.cfg.Name != "" {
		opts = append(opts, nats.Name(c.cfg.Name))
	}
	return opts
}

func (c *Connector) onDisconnect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateReconnecting
	if err != nil {
		c.lastErr = err.Error()
	}
}

func (c *Connector) onReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateConnected
	c.lastErr = ""
}

func (c *Connector) onClosed() {
	c.setState(StateUnavailable)
}

func (c *Connector) recordError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err.Error()
}

func (c *Connector) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

func (c *Connector) Health() ports.BrokerHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ports.BrokerHealth{
		Connected: c.state == StateConnected,
		State:     string(c.state),
		Attempts:  c.attempts,
		LastError: c.lastErr,
	}
}

// Close drains the connection if one was established.
func (c *Connector) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return errs.Wrap(err, "drain nats connection")
	}
	return nil
}
