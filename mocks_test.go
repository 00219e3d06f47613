package rabbitout

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/mock"

	"github.com/glimte/rabbitout/internal/rabbitmq"
)

// MockDialer for publisher testing
type MockDialer struct {
	mock.Mock
}

func (m *MockDialer) Dial(ctx context.Context, endpoint rabbitmq.Endpoint, settings rabbitmq.Settings) (rabbitmq.Connection, error) {
	args := m.Called(endpoint)
	conn, _ := args.Get(0).(rabbitmq.Connection)
	return conn, args.Error(1)
}

// MockConnection is a broker connection
type MockConnection struct {
	mock.Mock
}

func (m *MockConnection) Channel() (rabbitmq.Channel, error) {
	args := m.Called()
	ch, _ := args.Get(0).(rabbitmq.Channel)
	return ch, args.Error(1)
}

func (m *MockConnection) IsClosed() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockConnection) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockChannel is a broker channel
type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	ret := m.Called(name, kind, durable)
	return ret.Error(0)
}

func (m *MockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(exchange, key, msg)
	return args.Error(0)
}

func (m *MockChannel) IsClosed() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockChannel) Close() error {
	args := m.Called()
	return args.Error(0)
}

// newMockBroker wires a dialer that always hands out conn, whose channels
// are all ch
func newMockBroker() (*MockDialer, *MockConnection, *MockChannel) {
	ch := &MockChannel{}
	ch.On("IsClosed").Return(false).Maybe()
	ch.On("Close").Return(nil).Maybe()
	ch.On("ExchangeDeclare", "foo", "topic", true).Return(nil).Maybe()

	conn := &MockConnection{}
	conn.On("Channel").Return(ch, nil).Maybe()
	conn.On("IsClosed").Return(false).Maybe()
	conn.On("Close").Return(nil).Maybe()

	dialer := &MockDialer{}
	dialer.On("Dial", mock.Anything).Return(conn, nil).Maybe()

	return dialer, conn, ch
}
