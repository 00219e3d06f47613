package rabbitmq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Handle is one live broker connection with its administrative channel and
// the exchange declared on it. Handles are built completely before they are
// installed and are never modified afterwards.
type Handle struct {
	id         string
	generation uint64
	endpoint   Endpoint
	conn       Connection
	admin      Channel
	exchange   *Exchange

	closeOnce sync.Once
	closeErr  error
}

// ID returns the unique id of this connection
func (h *Handle) ID() string {
	return h.id
}

// Generation increases with every connection made by the same Connector
func (h *Handle) Generation() uint64 {
	return h.generation
}

// Endpoint returns the endpoint the connection is bound to
func (h *Handle) Endpoint() Endpoint {
	return h.endpoint
}

// Exchange returns the exchange declared on the administrative channel
func (h *Handle) Exchange() *Exchange {
	return h.exchange
}

// IsOpen reports whether the physical connection is still usable
func (h *Handle) IsOpen() bool {
	return h != nil && h.conn != nil && !h.conn.IsClosed()
}

// Close closes the connection, which also closes every channel opened on it
func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	h.closeOnce.Do(func() {
		if h.conn != nil && !h.conn.IsClosed() {
			h.closeErr = h.conn.Close()
		}
	})
	return h.closeErr
}

// OpenChannel opens a new channel on the connection
func (h *Handle) OpenChannel() (Channel, error) {
	if !h.IsOpen() {
		return nil, ErrConnectionClosed
	}
	ch, err := h.conn.Channel()
	if err != nil {
		return nil, errors.Join(ErrChannelCreationFailed, err)
	}
	return ch, nil
}

// Connector opens connections and declares exchanges. It never retries;
// retry and failover belong to the Engine.
type Connector struct {
	dialer     Dialer
	logger     *slog.Logger
	generation atomic.Uint64
}

// ConnectorOption configures the Connector
type ConnectorOption func(*Connector)

// WithConnectorLogger sets the logger
func WithConnectorLogger(logger *slog.Logger) ConnectorOption {
	return func(c *Connector) {
		c.logger = logger
	}
}

// NewConnector creates a connector over dialer. A nil dialer uses AMQPDialer.
func NewConnector(dialer Dialer, options ...ConnectorOption) *Connector {
	if dialer == nil {
		dialer = AMQPDialer{}
	}
	c := &Connector{
		dialer: dialer,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Connect dials endpoint and opens the administrative channel
func (c *Connector) Connect(ctx context.Context, endpoint Endpoint, settings Settings) (*Handle, error) {
	c.logger.Debug("connecting to RabbitMQ", "url", settings.Redacted(endpoint))

	conn, err := c.dialer.Dial(ctx, endpoint, settings)
	if err != nil {
		return nil, &ConnectionError{
			Op:        "connect",
			Endpoint:  endpoint.String(),
			Err:       err,
			Timestamp: time.Now(),
			Attempts:  1,
		}
	}

	admin, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, &ConnectionError{
			Op:        "open channel",
			Endpoint:  endpoint.String(),
			Err:       errors.Join(ErrChannelCreationFailed, err),
			Timestamp: time.Now(),
			Attempts:  1,
		}
	}

	return &Handle{
		id:         uuid.New().String(),
		generation: c.generation.Add(1),
		endpoint:   endpoint,
		conn:       conn,
		admin:      admin,
	}, nil
}

// DeclareExchange declares decl on ch and returns a reference bound to ch
func (c *Connector) DeclareExchange(ch Channel, decl ExchangeDeclaration) (*Exchange, error) {
	c.logger.Debug("declaring exchange",
		"name", decl.Name,
		"type", decl.Type,
		"durable", decl.Durable)

	if err := decl.declare(ch); err != nil {
		return nil, &ConnectionError{
			Op:        "declare exchange " + decl.Name,
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return &Exchange{channel: ch, declaration: decl}, nil
}

// ready declares decl on the administrative channel of h. It must run before
// h is visible to other goroutines.
func (c *Connector) ready(h *Handle, decl ExchangeDeclaration) error {
	x, err := c.DeclareExchange(h.admin, decl)
	if err != nil {
		var connErr *ConnectionError
		if errors.As(err, &connErr) {
			connErr.Endpoint = h.endpoint.String()
		}
		return err
	}
	h.exchange = x
	return nil
}
