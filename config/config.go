// Package config loads and validates publisher configuration.
package config

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/glimte/rabbitout/internal/rabbitmq"
)

// Config is the complete publisher configuration
type Config struct {
	Hosts    []string `yaml:"hosts"`
	Port     int      `yaml:"port"`
	User     string   `yaml:"user"`
	Password string   `yaml:"password"`
	VHost    string   `yaml:"vhost"`

	SSL         bool   `yaml:"ssl"`
	SSLVerify   bool   `yaml:"ssl_verify"`
	SSLCAFile   string `yaml:"ssl_ca_file"`
	SSLCertFile string `yaml:"ssl_cert_file"`
	SSLKeyFile  string `yaml:"ssl_key_file"`

	Exchange          string         `yaml:"exchange"`
	ExchangeType      string         `yaml:"exchange_type"`
	Durable           bool           `yaml:"durable"`
	Persistent        bool           `yaml:"persistent"`
	Key               string         `yaml:"key"`
	MessageProperties map[string]any `yaml:"message_properties"`

	// Durations accept seconds (5, 0.5) or duration strings ("5s")
	ConnectRetryInterval Duration `yaml:"connect_retry_interval"`
	ShuffleHosts         bool     `yaml:"shuffle_hosts"`
	Heartbeat            Duration `yaml:"heartbeat"`
	ConnectionTimeout    Duration `yaml:"connection_timeout"`
	ConnectionName       string   `yaml:"connection_name"`
	PublishTimeout       Duration `yaml:"publish_timeout"`
}

// Default returns a configuration with every default applied. Hosts, exchange
// and exchange type have no default.
func Default() Config {
	return Config{
		Port:                 rabbitmq.DefaultPort,
		User:                 "guest",
		Password:             "guest",
		VHost:                "/",
		SSLVerify:            true,
		Durable:              true,
		Persistent:           true,
		Key:                  "logstash",
		ConnectRetryInterval: Duration(time.Second),
		Heartbeat:            Duration(60 * time.Second),
		ConnectionTimeout:    Duration(30 * time.Second),
	}
}

// ConfigurationError reports a configuration that can never work. It matches
// rabbitmq.ErrInvalidConfiguration with errors.Is.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() []error {
	return []error{rabbitmq.ErrInvalidConfiguration, e.Err}
}

// Fields returns the per-field validation failures, if any
func (e *ConfigurationError) Fields() map[string]string {
	var verrs validation.Errors
	if !errors.As(e.Err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for field, err := range verrs {
		out[field] = err.Error()
	}
	return out
}

// Validate checks the configuration before anything is dialed
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Hosts, validation.Required, validation.Each(validation.Required)),
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.Exchange, validation.Required),
		validation.Field(&c.ExchangeType, validation.Required,
			validation.In(rabbitmq.ExchangeFanout, rabbitmq.ExchangeDirect, rabbitmq.ExchangeTopic)),
		validation.Field(&c.ConnectRetryInterval, validation.Required, validation.Min(Duration(time.Millisecond))),
		validation.Field(&c.Heartbeat, validation.Min(Duration(0))),
		validation.Field(&c.ConnectionTimeout, validation.Min(Duration(0))),
		validation.Field(&c.PublishTimeout, validation.Min(Duration(0))),
		validation.Field(&c.SSLCertFile, validation.When(c.SSLKeyFile != "", validation.Required)),
		validation.Field(&c.SSLKeyFile, validation.When(c.SSLCertFile != "", validation.Required)),
	)
	if err != nil {
		return &ConfigurationError{Err: err}
	}

	if _, err := rabbitmq.ParseEndpoints(c.Hosts, c.Port); err != nil {
		return &ConfigurationError{Err: err}
	}
	return nil
}

// Decode decodes YAML over the defaults without validating. Unknown keys are
// rejected.
func Decode(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigurationError{Err: fmt.Errorf("decode: %w", err)}
	}
	return &cfg, nil
}

// Parse decodes YAML over the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the YAML file at path, applies environment overrides from
// lookup when it is not nil, and validates the result.
func Load(path string, lookup func(string) (string, bool)) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if lookup != nil {
		cfg.ApplyEnv(lookup)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Environment variables that override file values
const (
	EnvHosts    = "RABBITOUT_HOSTS"
	EnvUser     = "RABBITOUT_USER"
	EnvPassword = "RABBITOUT_PASSWORD"
	EnvVHost    = "RABBITOUT_VHOST"
)

// ApplyEnv overrides credentials and hosts from lookup, usually os.LookupEnv.
// Hosts are comma separated. Call Validate afterwards.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvHosts); ok && v != "" {
		hosts := strings.Split(v, ",")
		for i := range hosts {
			hosts[i] = strings.TrimSpace(hosts[i])
		}
		c.Hosts = hosts
	}
	if v, ok := lookup(EnvUser); ok {
		c.User = v
	}
	if v, ok := lookup(EnvPassword); ok {
		c.Password = v
	}
	if v, ok := lookup(EnvVHost); ok {
		c.VHost = v
	}
}

// Endpoints parses the configured hosts
func (c *Config) Endpoints() ([]rabbitmq.Endpoint, error) {
	return rabbitmq.ParseEndpoints(c.Hosts, c.Port)
}

// Declaration returns the exchange declaration
func (c *Config) Declaration() rabbitmq.ExchangeDeclaration {
	return rabbitmq.ExchangeDeclaration{
		Name:    c.Exchange,
		Type:    c.ExchangeType,
		Durable: c.Durable,
	}
}

// Properties returns the message properties sent with every message
func (c *Config) Properties() rabbitmq.Properties {
	return rabbitmq.MergeProperties(c.MessageProperties, c.Persistent)
}

// Settings derives the connection settings. Certificate files are read here.
func (c *Config) Settings() (rabbitmq.Settings, error) {
	s := rabbitmq.Settings{
		VHost:          c.VHost,
		User:           c.User,
		Password:       c.Password,
		TLS:            c.SSL,
		RetryInterval:  c.ConnectRetryInterval.Std(),
		Heartbeat:      c.Heartbeat.Std(),
		DialTimeout:    c.ConnectionTimeout.Std(),
		ConnectionName: c.ConnectionName,
	}
	if !c.SSL {
		return s, nil
	}

	tlsConfig, err := c.tlsConfig()
	if err != nil {
		return rabbitmq.Settings{}, &ConfigurationError{Err: err}
	}
	s.TLSConfig = tlsConfig
	return s, nil
}

func (c *Config) tlsConfig() (*tls.Config, error) {
	if c.SSLVerify && c.SSLCAFile == "" && c.SSLCertFile == "" {
		// client library defaults with system roots
		return nil, nil
	}

	cfg := &tls.Config{
		InsecureSkipVerify: !c.SSLVerify,
	}

	if c.SSLCAFile != "" {
		pem, err := os.ReadFile(c.SSLCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", c.SSLCAFile)
		}
		cfg.RootCAs = pool
	}

	if c.SSLCertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.SSLCertFile, c.SSLKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}
