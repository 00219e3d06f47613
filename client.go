// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rabbitout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/glimte/rabbitout/config"
	"github.com/glimte/rabbitout/event"
	"github.com/glimte/rabbitout/internal/metrics"
	"github.com/glimte/rabbitout/internal/rabbitmq"
	"github.com/glimte/rabbitout/internal/reliability"
)

var (
	// ErrShutdown is returned by every call made after Close
	ErrShutdown = rabbitmq.ErrShutdown

	// ErrWorkerClosed is returned by a Worker after its Close
	ErrWorkerClosed = errors.New("rabbitout: worker is closed")
)

// Item is one record together with its encoded body
type Item struct {
	Record event.Fields
	Body   []byte
}

// Publisher publishes records to a single exchange over one shared
// connection, reconnecting and retrying until each message is accepted.
type Publisher struct {
	engine     *rabbitmq.Engine
	endpoints  *rabbitmq.EndpointSet
	key        string
	properties rabbitmq.Properties
	codec      event.Codec
	logger     *slog.Logger
	metrics    *metrics.Collector

	defaultWorker *Worker
	workers       atomic.Int64
}

// clientConfig holds publisher configuration
type clientConfig struct {
	logger     *slog.Logger
	codec      event.Codec
	dialer     rabbitmq.Dialer
	sleeper    reliability.Sleeper
	registerer prometheus.Registerer
	namespace  string
	rnd        *rand.Rand
}

// Option configures the publisher
type Option func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithCodec replaces the JSON codec used by Receive
func WithCodec(codec event.Codec) Option {
	return func(cfg *clientConfig) {
		cfg.codec = codec
	}
}

// WithDialer replaces the amqp091 dialer
func WithDialer(dialer rabbitmq.Dialer) Option {
	return func(cfg *clientConfig) {
		cfg.dialer = dialer
	}
}

// WithSleeper replaces the timer used between retries
func WithSleeper(sleeper reliability.Sleeper) Option {
	return func(cfg *clientConfig) {
		cfg.sleeper = sleeper
	}
}

// WithMetrics registers publisher metrics with reg under namespace
func WithMetrics(reg prometheus.Registerer, namespace string) Option {
	return func(cfg *clientConfig) {
		cfg.registerer = reg
		cfg.namespace = namespace
	}
}

// WithRand sets the source used when shuffle_hosts is enabled
func WithRand(rnd *rand.Rand) Option {
	return func(cfg *clientConfig) {
		cfg.rnd = rnd
	}
}

// New validates cfg and creates a disconnected publisher
func New(cfg *config.Config, options ...Option) (*Publisher, error) {
	if cfg == nil {
		return nil, &config.ConfigurationError{Err: errors.New("config is required")}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &clientConfig{
		logger:    slog.Default(),
		codec:     event.JSONCodec{},
		namespace: "rabbitout",
	}
	for _, opt := range options {
		opt(opts)
	}

	endpoints, err := cfg.Endpoints()
	if err != nil {
		return nil, &config.ConfigurationError{Err: err}
	}
	var setOpts []rabbitmq.EndpointSetOption
	if cfg.ShuffleHosts {
		setOpts = append(setOpts, rabbitmq.WithShuffle(opts.rnd))
	}
	set, err := rabbitmq.NewEndpointSet(endpoints, setOpts...)
	if err != nil {
		return nil, &config.ConfigurationError{Err: err}
	}

	settings, err := cfg.Settings()
	if err != nil {
		return nil, err
	}

	var collector *metrics.Collector
	if opts.registerer != nil {
		collector = metrics.NewCollector(opts.registerer, opts.namespace)
	}

	engineOpts := []rabbitmq.EngineOption{
		rabbitmq.WithLogger(opts.logger),
		rabbitmq.WithDialer(opts.dialer),
		rabbitmq.WithMetrics(collector),
		rabbitmq.WithPublishTimeout(cfg.PublishTimeout.Std()),
	}
	if opts.sleeper != nil {
		engineOpts = append(engineOpts, rabbitmq.WithSleeper(opts.sleeper))
	}

	engine, err := rabbitmq.NewEngine(set, settings, cfg.Declaration(), engineOpts...)
	if err != nil {
		return nil, &config.ConfigurationError{Err: err}
	}

	p := &Publisher{
		engine:     engine,
		endpoints:  set,
		key:        cfg.Key,
		properties: cfg.Properties(),
		codec:      opts.codec,
		logger:     opts.logger,
		metrics:    collector,
	}
	p.defaultWorker = &Worker{publisher: p, id: "default"}
	return p, nil
}

// Connect blocks until a connection is established and the exchange is
// declared, retrying over every host. It returns early when ctx is done.
func (p *Publisher) Connect(ctx context.Context) error {
	return p.engine.Connect(ctx)
}

// Publish sends body with the routing key expanded against record. It blocks
// through reconnects until the broker accepts the message, ctx is done or
// the publisher is closed. A nil record leaves every key reference as is.
//
// Publish, PublishMany and Receive share one channel. Goroutines publishing
// concurrently should each use their own Worker from NewWorker.
func (p *Publisher) Publish(ctx context.Context, record event.Fields, body []byte) error {
	return p.defaultWorker.Publish(ctx, record, body)
}

// PublishMany publishes items in order and stops at the first failure. It
// uses the same channel as Publish.
func (p *Publisher) PublishMany(ctx context.Context, items []Item) error {
	return p.defaultWorker.PublishMany(ctx, items)
}

// Receive encodes record with the codec and publishes it on the same channel
// as Publish. Records that cannot be encoded are logged and dropped.
func (p *Publisher) Receive(ctx context.Context, record event.Fields) error {
	return p.defaultWorker.Receive(ctx, record)
}

// NewWorker returns a worker with its own channel on the shared connection
func (p *Publisher) NewWorker() *Worker {
	w := newWorker(p)
	p.workers.Add(1)
	p.metrics.WorkerAdded()
	return w
}

// Workers returns the number of open workers created by NewWorker
func (p *Publisher) Workers() int {
	return int(p.workers.Load())
}

// IsConnected reports whether a connection is currently installed
func (p *Publisher) IsConnected() bool {
	return p.engine.IsConnected()
}

// State returns the connection state name
func (p *Publisher) State() string {
	return p.engine.State().String()
}

// Endpoint returns the host:port currently connected to
func (p *Publisher) Endpoint() (string, bool) {
	if !p.engine.IsConnected() {
		return "", false
	}
	ep, ok := p.engine.Endpoint()
	if !ok {
		return "", false
	}
	return ep.String(), true
}

// Channels returns the number of open worker channels, including the one
// used by Publish and Receive
func (p *Publisher) Channels() int {
	return p.engine.Channels()
}

// Close stops all retries, closes the connection and makes every later call
// return ErrShutdown.
func (p *Publisher) Close() error {
	return p.engine.Close()
}

// String describes the destination without credentials
func (p *Publisher) String() string {
	ep, ok := p.engine.Endpoint()
	if !ok {
		ep = p.endpoints.Endpoints()[0]
	}
	decl := p.engine.Declaration()
	return fmt.Sprintf("%s/%s/%s#%s",
		p.engine.Settings().Redacted(ep), decl.Type, decl.Name, p.key)
}

func (p *Publisher) request(record event.Fields, body []byte) rabbitmq.Request {
	return rabbitmq.Request{
		RoutingKey: event.Sprintf(p.key, record),
		Body:       body,
		Properties: p.properties,
	}
}

func (p *Publisher) encode(record event.Fields) ([]byte, bool) {
	body, err := p.codec.Encode(record)
	if err == nil {
		return body, true
	}

	p.metrics.Dropped("encoding")
	p.logger.Error("failed to encode event, dropping it",
		"error", err,
		"codec", p.codec.ContentType())
	return nil, false
}
