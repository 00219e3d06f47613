package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type publishCall struct {
	endpoint   Endpoint
	channelID  int
	exchange   string
	routingKey string
	msg        amqp.Publishing
}

type declareCall struct {
	channelID int
	decl      ExchangeDeclaration
}

// fakeBroker is an in-memory broker client recording every call
type fakeBroker struct {
	mu         sync.Mutex
	dials      []Endpoint
	dialFails  map[string]int
	declares   []declareCall
	publishes  []publishCall
	publishErr []error
	conns      []*fakeConnection
	channels   []*fakeChannel
	nextID     int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{dialFails: make(map[string]int)}
}

// failDials makes the next n dials to endpoint fail
func (b *fakeBroker) failDials(endpoint string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialFails[endpoint] += n
}

// failPublishes queues results for the next publish calls; nil succeeds
func (b *fakeBroker) failPublishes(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = append(b.publishErr, errs...)
}

func (b *fakeBroker) Dial(ctx context.Context, endpoint Endpoint, settings Settings) (Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials = append(b.dials, endpoint)
	if n := b.dialFails[endpoint.String()]; n > 0 {
		b.dialFails[endpoint.String()] = n - 1
		return nil, errors.New("dial tcp " + endpoint.String() + ": connection refused")
	}

	conn := &fakeConnection{broker: b, endpoint: endpoint}
	b.conns = append(b.conns, conn)
	return conn, nil
}

func (b *fakeBroker) dialed() []Endpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Endpoint, len(b.dials))
	copy(out, b.dials)
	return out
}

func (b *fakeBroker) published() []publishCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]publishCall, len(b.publishes))
	copy(out, b.publishes)
	return out
}

func (b *fakeBroker) declared() []declareCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]declareCall, len(b.declares))
	copy(out, b.declares)
	return out
}

func (b *fakeBroker) connection(i int) *fakeConnection {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conns[i]
}

type fakeConnection struct {
	broker   *fakeBroker
	endpoint Endpoint
	mu       sync.Mutex
	closed   bool
	channels []*fakeChannel
}

func (c *fakeConnection) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}

	c.broker.mu.Lock()
	c.broker.nextID++
	ch := &fakeChannel{conn: c, id: c.broker.nextID}
	c.broker.channels = append(c.broker.channels, ch)
	c.broker.mu.Unlock()

	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.closed = true
	for _, ch := range c.channels {
		ch.markClosed()
	}
	return nil
}

type fakeChannel struct {
	conn   *fakeConnection
	id     int
	mu     sync.Mutex
	closed bool
}

func (ch *fakeChannel) markClosed() {
	ch.mu.Lock()
	ch.closed = true
	ch.mu.Unlock()
}

func (ch *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	if ch.IsClosed() {
		return amqp.ErrClosed
	}
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	b.declares = append(b.declares, declareCall{
		channelID: ch.id,
		decl:      ExchangeDeclaration{Name: name, Type: kind, Durable: durable},
	})
	return nil
}

func (ch *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if ch.IsClosed() {
		return amqp.ErrClosed
	}

	b := ch.conn.broker
	b.mu.Lock()
	b.publishes = append(b.publishes, publishCall{
		endpoint:   ch.conn.endpoint,
		channelID:  ch.id,
		exchange:   exchange,
		routingKey: key,
		msg:        msg,
	})
	var err error
	if len(b.publishErr) > 0 {
		err = b.publishErr[0]
		b.publishErr = b.publishErr[1:]
	}
	b.mu.Unlock()

	if errors.Is(err, amqp.ErrClosed) {
		ch.markClosed()
	}
	return err
}

func (ch *fakeChannel) IsClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

func (ch *fakeChannel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.closed = true
	return nil
}

// recordingSleeper returns at once and records requested delays. hook, when
// set, runs before returning.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
	hook   func(n int)
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	n := len(s.delays)
	hook := s.hook
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return ctx.Err()
}

func (s *recordingSleeper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delays)
}
