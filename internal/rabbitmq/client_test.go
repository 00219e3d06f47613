package rabbitmq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsURI(t *testing.T) {
	s := DefaultSettings()
	s.User = "admin"
	s.Password = "secret"

	t.Run("plain", func(t *testing.T) {
		uri := s.URI(Endpoint{"h1", 5672})
		assert.Equal(t, "amqp", uri.Scheme)
		assert.Equal(t, "h1", uri.Host)
		assert.Equal(t, 5672, uri.Port)
		assert.Equal(t, "admin", uri.Username)
		assert.Equal(t, "secret", uri.Password)
		assert.Equal(t, "/", uri.Vhost)
	})

	t.Run("tls switches scheme", func(t *testing.T) {
		tlsSettings := s
		tlsSettings.TLS = true
		assert.Equal(t, "amqps", tlsSettings.URI(Endpoint{"h1", 5671}).Scheme)
	})

	t.Run("redacted hides the password", func(t *testing.T) {
		assert.Equal(t, "amqp://admin@h1:5672/", s.Redacted(Endpoint{"h1", 5672}))

		named := s
		named.VHost = "logs"
		redacted := named.Redacted(Endpoint{"h1", 5672})
		assert.Equal(t, "amqp://admin@h1:5672/logs", redacted)
		assert.NotContains(t, redacted, "secret")
	})
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, "/", s.VHost)
	assert.Equal(t, "guest", s.User)
	assert.Equal(t, time.Second, s.RetryInterval)
	assert.Equal(t, 60*time.Second, s.Heartbeat)
	assert.Equal(t, 30*time.Second, s.DialTimeout)
	assert.False(t, s.AutomaticRecovery)
}

func TestDialerFunc(t *testing.T) {
	want := errors.New("refused")
	var got Endpoint
	d := DialerFunc(func(ctx context.Context, endpoint Endpoint, settings Settings) (Connection, error) {
		got = endpoint
		return nil, want
	})

	_, err := d.Dial(context.Background(), Endpoint{"h1", 5672}, DefaultSettings())
	require.ErrorIs(t, err, want)
	assert.Equal(t, "h1", got.Host)
}

func TestAMQPDialerHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// 192.0.2.0/24 is reserved for documentation and never answers
	_, err := AMQPDialer{}.Dial(ctx, Endpoint{"192.0.2.1", 5672}, DefaultSettings())
	assert.Error(t, err)
}
