package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// Connection errors
	ErrConnectionClosed  = errors.New("rabbitmq: connection is closed")
	ErrConnectionTimeout = errors.New("rabbitmq: connection timeout")
	ErrShutdown          = errors.New("rabbitmq: publisher is shutting down")

	// Channel errors
	ErrChannelClosed         = errors.New("rabbitmq: channel is closed")
	ErrChannelCreationFailed = errors.New("rabbitmq: failed to create channel")

	// General errors
	ErrInvalidConfiguration = errors.New("rabbitmq: invalid configuration")
)

// ErrorClass is the retry engine's view of a broker client error.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	ClassConnection
	ClassChannel
	ClassOther
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassConnection:
		return "connection"
	case ClassChannel:
		return "channel"
	default:
		return "other"
	}
}

// ConnectionError represents a failure to establish or keep a broker connection
type ConnectionError struct {
	Op        string    // Operation that failed
	Endpoint  string    // host:port that was tried
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
	Attempts  int       // Number of attempts made
}

func (e *ConnectionError) Error() string {
	op := e.Op
	if e.Endpoint != "" {
		op += " " + e.Endpoint
	}
	if e.Attempts > 1 {
		return fmt.Sprintf("rabbitmq connection error: %s failed after %d attempts: %v", op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("rabbitmq connection error: %s failed: %v", op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ChannelError represents a channel that can no longer be used
type ChannelError struct {
	Op        string    // Operation that failed
	Worker    WorkerID  // Worker owning the channel, empty for the admin channel
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *ChannelError) Error() string {
	if e.Worker == "" {
		return fmt.Sprintf("rabbitmq channel error: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("rabbitmq channel error: %s on worker %s: %v", e.Op, e.Worker, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// PublishError is returned for publish failures the engine does not retry
type PublishError struct {
	Exchange   string    // Target exchange
	RoutingKey string    // Routing key used
	Err        error     // Underlying error
	Timestamp  time.Time // When the error occurred
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("rabbitmq publish error: failed to publish to %s/%s: %v",
		e.Exchange, e.RoutingKey, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// connection-level AMQP reply codes; every other code closes only the channel
var connectionReplyCodes = map[int]bool{
	amqp.ConnectionForced: true,
	amqp.InvalidPath:      true,
	amqp.FrameError:       true,
	amqp.SyntaxError:      true,
	amqp.CommandInvalid:   true,
	amqp.ChannelError:     true,
	amqp.UnexpectedFrame:  true,
	amqp.ResourceError:    true,
	amqp.NotAllowed:       true,
	amqp.NotImplemented:   true,
	amqp.InternalError:    true,
}

// Classify maps any broker client error onto the classes the retry engine
// dispatches on.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return ClassConnection
	}

	var chanErr *ChannelError
	if errors.As(err, &chanErr) {
		return ClassChannel
	}

	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		if connectionReplyCodes[amqpErr.Code] {
			return ClassConnection
		}
		return ClassChannel
	}

	switch {
	case errors.Is(err, amqp.ErrClosed), errors.Is(err, ErrChannelClosed):
		return ClassChannel
	case errors.Is(err, ErrConnectionClosed), errors.Is(err, ErrConnectionTimeout):
		return ClassConnection
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE), errors.Is(err, syscall.ECONNREFUSED):
		return ClassConnection
	case errors.Is(err, context.DeadlineExceeded):
		// per-call broker timeout
		return ClassConnection
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassConnection
	}

	return ClassOther
}

// IsRetryable reports whether the engine reconnects and retries on err
func IsRetryable(err error) bool {
	switch Classify(err) {
	case ClassConnection, ClassChannel:
		return !errors.Is(err, ErrShutdown)
	default:
		return false
	}
}
