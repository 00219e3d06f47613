package rabbitmq

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Settings holds the connection parameters shared by every endpoint.
// A Settings value is never mutated after construction.
type Settings struct {
	VHost    string
	User     string
	Password string

	// TLS switches the scheme to amqps. TLSConfig is handed to the client
	// library as is; nil means its defaults.
	TLS       bool
	TLSConfig *tls.Config

	// AutomaticRecovery is always false. The engine owns every recovery
	// decision.
	AutomaticRecovery bool

	RetryInterval  time.Duration
	Heartbeat      time.Duration
	DialTimeout    time.Duration
	ConnectionName string
}

// DefaultSettings returns the settings used when nothing is configured
func DefaultSettings() Settings {
	return Settings{
		VHost:         "/",
		User:          "guest",
		Password:      "guest",
		RetryInterval: time.Second,
		Heartbeat:     60 * time.Second,
		DialTimeout:   30 * time.Second,
	}
}

// URI builds the AMQP URI for endpoint
func (s Settings) URI(endpoint Endpoint) amqp.URI {
	scheme := "amqp"
	if s.TLS {
		scheme = "amqps"
	}
	return amqp.URI{
		Scheme:   scheme,
		Host:     endpoint.Host,
		Port:     endpoint.Port,
		Username: s.User,
		Password: s.Password,
		Vhost:    s.VHost,
	}
}

// Redacted renders the URI for endpoint without the password
func (s Settings) Redacted(endpoint Endpoint) string {
	uri := s.URI(endpoint)
	vhost := uri.Vhost
	if vhost == "" || vhost[0] != '/' {
		vhost = "/" + vhost
	}
	return fmt.Sprintf("%s://%s@%s%s", uri.Scheme, uri.Username, endpoint, vhost)
}

// Dialer opens physical connections. It is the only way the engine reaches
// the broker client library.
type Dialer interface {
	Dial(ctx context.Context, endpoint Endpoint, settings Settings) (Connection, error)
}

// Connection is the subset of a broker connection the engine uses
type Connection interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

// Channel is the subset of a broker channel the engine uses. *amqp.Channel
// satisfies it.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// DialerFunc adapts a function to Dialer
type DialerFunc func(ctx context.Context, endpoint Endpoint, settings Settings) (Connection, error)

// Dial implements Dialer
func (f DialerFunc) Dial(ctx context.Context, endpoint Endpoint, settings Settings) (Connection, error) {
	return f(ctx, endpoint, settings)
}

// AMQPDialer dials with amqp091-go
type AMQPDialer struct{}

// Dial implements Dialer
func (AMQPDialer) Dial(ctx context.Context, endpoint Endpoint, settings Settings) (Connection, error) {
	timeout := settings.DialTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	props := amqp.NewConnectionProperties()
	if settings.ConnectionName != "" {
		props.SetClientConnectionName(settings.ConnectionName)
	}

	cfg := amqp.Config{
		Vhost:           settings.VHost,
		Heartbeat:       settings.Heartbeat,
		TLSClientConfig: settings.TLSConfig,
		Properties:      props,
		Dial:            amqp.DefaultDial(timeout),
	}
	if settings.TLS && cfg.TLSClientConfig == nil {
		cfg.TLSClientConfig = &tls.Config{ServerName: endpoint.Host}
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	connChan := make(chan *amqp.Connection)
	errChan := make(chan error, 1)

	go func() {
		conn, err := amqp.DialConfig(settings.URI(endpoint).String(), cfg)
		if err != nil {
			errChan <- err
			return
		}
		select {
		case connChan <- conn:
		case <-dialCtx.Done():
			// nobody is waiting anymore
			conn.Close()
		}
	}()

	select {
	case conn := <-connChan:
		return &amqpConnection{conn: conn}, nil
	case err := <-errChan:
		return nil, err
	case <-dialCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrConnectionTimeout
	}
}

type amqpConnection struct {
	conn *amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *amqpConnection) IsClosed() bool {
	return c.conn.IsClosed()
}

func (c *amqpConnection) Close() error {
	return c.conn.Close()
}
