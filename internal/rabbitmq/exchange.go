package rabbitmq

import (
	"context"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange types accepted for declaration
const (
	ExchangeFanout = "fanout"
	ExchangeDirect = "direct"
	ExchangeTopic  = "topic"
)

// ValidExchangeType reports whether kind can be declared
func ValidExchangeType(kind string) bool {
	switch kind {
	case ExchangeFanout, ExchangeDirect, ExchangeTopic:
		return true
	}
	return false
}

// ExchangeDeclaration defines the exchange to be declared
type ExchangeDeclaration struct {
	Name    string
	Type    string
	Durable bool
}

// Validate checks the declaration before any broker call
func (d ExchangeDeclaration) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: exchange name is required", ErrInvalidConfiguration)
	}
	if !ValidExchangeType(d.Type) {
		return fmt.Errorf("%w: unknown exchange type %q", ErrInvalidConfiguration, d.Type)
	}
	return nil
}

// declare issues an idempotent exchange.declare on ch
func (d ExchangeDeclaration) declare(ch Channel) error {
	return ch.ExchangeDeclare(
		d.Name,
		d.Type,
		d.Durable,
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
}

// Exchange is a declared exchange bound to the channel it was declared on
type Exchange struct {
	channel     Channel
	declaration ExchangeDeclaration
}

// Name returns the exchange name
func (x *Exchange) Name() string {
	return x.declaration.Name
}

// Declaration returns the parameters the exchange was declared with
func (x *Exchange) Declaration() ExchangeDeclaration {
	return x.declaration
}

// Publish sends body with routingKey and properties on the exchange's channel
func (x *Exchange) Publish(ctx context.Context, routingKey string, body []byte, props Properties) error {
	msg, err := props.Publishing(body)
	if err != nil {
		return err
	}
	return x.channel.PublishWithContext(
		ctx,
		x.declaration.Name,
		routingKey,
		false, // mandatory
		false, // immediate
		msg,
	)
}

// Property keys recognised on top of free-form headers
const (
	PropPersistent      = "persistent"
	PropContentType     = "content_type"
	PropContentEncoding = "content_encoding"
	PropPriority        = "priority"
	PropCorrelationID   = "correlation_id"
	PropReplyTo         = "reply_to"
	PropExpiration      = "expiration"
	PropMessageID       = "message_id"
	PropType            = "type"
	PropUserID          = "user_id"
	PropAppID           = "app_id"
	PropHeaders         = "headers"
	PropTimestamp       = "timestamp"
)

// Properties are the message properties sent with each publish
type Properties map[string]any

// MergeProperties copies extra and sets the persistence flag, which always
// wins over a caller supplied value with the same key.
func MergeProperties(extra map[string]any, persistent bool) Properties {
	props := make(Properties, len(extra)+1)
	for k, v := range extra {
		props[k] = v
	}
	props[PropPersistent] = persistent
	return props
}

// Persistent reports the delivery persistence flag
func (p Properties) Persistent() bool {
	v, _ := p[PropPersistent].(bool)
	return v
}

// Publishing maps the properties onto an AMQP message. Keys that are not
// basic properties travel as headers.
func (p Properties) Publishing(body []byte) (amqp.Publishing, error) {
	msg := amqp.Publishing{
		Body:         body,
		DeliveryMode: amqp.Transient,
	}

	for key, value := range p {
		switch key {
		case PropPersistent:
			if p.Persistent() {
				msg.DeliveryMode = amqp.Persistent
			}
		case PropContentType:
			msg.ContentType = fmt.Sprint(value)
		case PropContentEncoding:
			msg.ContentEncoding = fmt.Sprint(value)
		case PropPriority:
			n, err := toUint8(value)
			if err != nil {
				return amqp.Publishing{}, fmt.Errorf("property %s: %w", key, err)
			}
			msg.Priority = n
		case PropCorrelationID:
			msg.CorrelationId = fmt.Sprint(value)
		case PropReplyTo:
			msg.ReplyTo = fmt.Sprint(value)
		case PropExpiration:
			msg.Expiration = fmt.Sprint(value)
		case PropMessageID:
			msg.MessageId = fmt.Sprint(value)
		case PropType:
			msg.Type = fmt.Sprint(value)
		case PropUserID:
			msg.UserId = fmt.Sprint(value)
		case PropAppID:
			msg.AppId = fmt.Sprint(value)
		case PropTimestamp:
			if t, ok := value.(time.Time); ok {
				msg.Timestamp = t
			}
		case PropHeaders:
			var headers map[string]any
			switch h := value.(type) {
			case map[string]any:
				headers = h
			case amqp.Table:
				headers = h
			default:
				return amqp.Publishing{}, fmt.Errorf("property %s: expected a map, got %T", key, value)
			}
			if msg.Headers == nil {
				msg.Headers = make(amqp.Table, len(headers))
			}
			for hk, hv := range headers {
				msg.Headers[hk] = hv
			}
		default:
			if msg.Headers == nil {
				msg.Headers = make(amqp.Table)
			}
			if _, exists := msg.Headers[key]; !exists {
				msg.Headers[key] = value
			}
		}
	}

	return msg, nil
}

func toUint8(v any) (uint8, error) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int64:
		n = x
	case uint8:
		return x, nil
	case float64:
		n = int64(x)
	case string:
		parsed, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
	if n < 0 || n > 255 {
		return 0, fmt.Errorf("value %d out of range", n)
	}
	return uint8(n), nil
}
