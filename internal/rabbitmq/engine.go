package rabbitmq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glimte/rabbitout/internal/metrics"
	"github.com/glimte/rabbitout/internal/reliability"
)

// State is the engine's connection state
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Request is one publish call. The routing key is expanded and the
// properties merged before the request reaches the engine, so every retry
// sends exactly the same message.
type Request struct {
	RoutingKey string
	Body       []byte
	Properties Properties
}

// Engine owns the single installed connection, reconnects with failover and
// retries publishes until they succeed or the engine is closed.
type Engine struct {
	endpoints   *EndpointSet
	settings    Settings
	declaration ExchangeDeclaration

	connector      *Connector
	cache          *ChannelCache
	sleeper        reliability.Sleeper
	logger         *slog.Logger
	metrics        *metrics.Collector
	publishTimeout time.Duration

	// handle is the only shared mutable state. It is swapped whole under
	// connectMu and read lock-free.
	handle    atomic.Pointer[Handle]
	connectMu sync.Mutex
	installs  atomic.Uint64
	state     atomic.Int32

	closed     atomic.Bool
	closeOnce  sync.Once
	closeErr   error
	shutdown   context.Context
	cancelDown context.CancelFunc
}

// EngineOption configures the Engine
type EngineOption func(*engineConfig)

type engineConfig struct {
	dialer         Dialer
	logger         *slog.Logger
	sleeper        reliability.Sleeper
	metrics        *metrics.Collector
	publishTimeout time.Duration
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) EngineOption {
	return func(cfg *engineConfig) {
		cfg.logger = logger
	}
}

// WithDialer replaces the amqp091 dialer
func WithDialer(dialer Dialer) EngineOption {
	return func(cfg *engineConfig) {
		cfg.dialer = dialer
	}
}

// WithSleeper replaces the timer used between retries
func WithSleeper(sleeper reliability.Sleeper) EngineOption {
	return func(cfg *engineConfig) {
		cfg.sleeper = sleeper
	}
}

// WithMetrics records engine events on c
func WithMetrics(c *metrics.Collector) EngineOption {
	return func(cfg *engineConfig) {
		cfg.metrics = c
	}
}

// WithPublishTimeout bounds each single publish attempt. Zero means only the
// caller's context applies.
func WithPublishTimeout(d time.Duration) EngineOption {
	return func(cfg *engineConfig) {
		cfg.publishTimeout = d
	}
}

// NewEngine creates a disconnected engine
func NewEngine(endpoints *EndpointSet, settings Settings, decl ExchangeDeclaration, options ...EngineOption) (*Engine, error) {
	if endpoints == nil || endpoints.Len() == 0 {
		return nil, ErrInvalidConfiguration
	}
	if err := decl.Validate(); err != nil {
		return nil, err
	}

	cfg := &engineConfig{
		logger:  slog.Default(),
		sleeper: reliability.TimerSleeper,
	}
	for _, opt := range options {
		opt(cfg)
	}

	settings.AutomaticRecovery = false
	if settings.RetryInterval <= 0 {
		settings.RetryInterval = DefaultSettings().RetryInterval
	}

	shutdown, cancel := context.WithCancel(context.Background())

	return &Engine{
		endpoints:      endpoints,
		settings:       settings,
		declaration:    decl,
		connector:      NewConnector(cfg.dialer, WithConnectorLogger(cfg.logger)),
		cache:          NewChannelCache(WithCacheLogger(cfg.logger)),
		sleeper:        cfg.sleeper,
		logger:         cfg.logger,
		metrics:        cfg.metrics,
		publishTimeout: cfg.publishTimeout,
		shutdown:       shutdown,
		cancelDown:     cancel,
	}, nil
}

// State returns the current connection state
func (e *Engine) State() State {
	return State(e.state.Load())
}

// IsConnected reports whether an open connection is installed
func (e *Engine) IsConnected() bool {
	return !e.closed.Load() && e.handle.Load().IsOpen()
}

// Endpoint returns the endpoint of the installed connection
func (e *Engine) Endpoint() (Endpoint, bool) {
	h := e.handle.Load()
	if h == nil {
		return Endpoint{}, false
	}
	return h.Endpoint(), true
}

// Channels returns the number of worker channels currently cached
func (e *Engine) Channels() int {
	return e.cache.Size()
}

// Settings returns the connection settings
func (e *Engine) Settings() Settings {
	return e.settings
}

// Declaration returns the exchange declaration used on every connection
func (e *Engine) Declaration() ExchangeDeclaration {
	return e.declaration
}

// Connect makes sure a connection is installed. It is a no-op while the
// installed connection is open; otherwise it blocks, cycling through the
// endpoints, until a connection is ready, ctx is done or the engine closes.
func (e *Engine) Connect(ctx context.Context) error {
	if e.closed.Load() {
		return ErrShutdown
	}
	if e.handle.Load().IsOpen() {
		return nil
	}
	return e.reconnect(ctx, nil)
}

// reconnect replaces stale with a fresh connection. When another goroutine
// already replaced it, the fresh connection is kept.
func (e *Engine) reconnect(ctx context.Context, stale *Handle) error {
	e.connectMu.Lock()
	defer e.connectMu.Unlock()

	if e.closed.Load() {
		return ErrShutdown
	}
	if current := e.handle.Load(); current.IsOpen() && current != stale {
		return nil
	}

	e.state.Store(int32(StateConnecting))
	e.metrics.Disconnected()

	opCtx, done := e.operationContext(ctx)
	defer done()

	policy := reliability.Forever(e.settings.RetryInterval, IsRetryable)
	err := reliability.Retry(opCtx, policy, func(attempt int) error {
		if e.closed.Load() {
			return ErrShutdown
		}

		h, err := e.connectOnce(opCtx)
		if err != nil {
			e.logger.Error("RabbitMQ connection error, will retry",
				"error", err,
				"attempt", attempt+1,
				"retryIn", e.settings.RetryInterval)
			return err
		}

		if e.closed.Load() {
			h.Close()
			return ErrShutdown
		}
		e.install(h)
		return nil
	}, reliability.WithSleeper(e.sleeper))

	if err != nil {
		if e.closed.Load() {
			return ErrShutdown
		}
		e.state.Store(int32(StateDisconnected))
		return err
	}
	return nil
}

// connectOnce tries the next endpoint and declares the exchange on it
func (e *Engine) connectOnce(ctx context.Context) (*Handle, error) {
	endpoint := e.endpoints.Next()

	h, err := e.connector.Connect(ctx, endpoint, e.settings)
	if err == nil {
		if err = e.connector.ready(h, e.declaration); err != nil {
			h.Close()
		}
	}
	e.metrics.ConnectAttempt(endpoint.String(), err)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// install publishes h to every worker. Caller holds connectMu and h is fully
// declared.
func (e *Engine) install(h *Handle) {
	old := e.handle.Swap(h)
	if old != nil && old != h {
		old.Close()
	}

	e.state.Store(int32(StateConnected))
	e.metrics.Connected(e.installs.Add(1) > 1)

	e.logger.Info("connected to RabbitMQ",
		"url", e.settings.Redacted(h.Endpoint()),
		"exchange", h.Exchange().Name(),
		"connection", h.ID(),
		"generation", h.Generation())
}

// Publish sends req through worker's channel. Connection and channel errors
// drop the worker's channel, reconnect and resend req after the retry
// interval, without limit. Other errors are returned as *PublishError.
func (e *Engine) Publish(ctx context.Context, worker WorkerID, req Request) error {
	if e.closed.Load() {
		return ErrShutdown
	}

	opCtx, done := e.operationContext(ctx)
	defer done()

	var failed *Handle
	retryable := func(err error) bool {
		return opCtx.Err() == nil && IsRetryable(err)
	}

	err := reliability.Retry(opCtx, reliability.Forever(e.settings.RetryInterval, retryable), func(attempt int) error {
		if e.closed.Load() {
			return ErrShutdown
		}

		if attempt > 0 {
			if err := e.reconnect(opCtx, failed); err != nil {
				return err
			}
		}

		h := e.handle.Load()
		if !h.IsOpen() {
			if err := e.reconnect(opCtx, h); err != nil {
				return err
			}
			if h = e.handle.Load(); h == nil {
				return ErrShutdown
			}
		}

		err := e.publishOnce(opCtx, worker, h, req)
		if err == nil {
			return nil
		}

		class := Classify(err)
		if class != ClassConnection && class != ClassChannel {
			return &PublishError{
				Exchange:   e.declaration.Name,
				RoutingKey: req.RoutingKey,
				Err:        err,
				Timestamp:  time.Now(),
			}
		}

		failed = h
		e.cache.Invalidate(worker)
		e.metrics.PublishRetried(class.String())
		e.logger.Error("Error while publishing. Will retry.",
			"error", err,
			"class", class.String(),
			"worker", worker,
			"routingKey", req.RoutingKey,
			"attempt", attempt+1,
			"retryIn", e.settings.RetryInterval)
		return err
	}, reliability.WithSleeper(e.sleeper))

	if err != nil && e.closed.Load() {
		err = ErrShutdown
	}
	if err != nil && ctx.Err() != nil && !errors.Is(err, ErrShutdown) {
		err = ctx.Err()
	}
	e.metrics.Published(err)
	return err
}

func (e *Engine) publishOnce(ctx context.Context, worker WorkerID, h *Handle, req Request) error {
	x, err := e.cache.Exchange(worker, h, func(ch Channel) (*Exchange, error) {
		return e.connector.DeclareExchange(ch, e.declaration)
	})
	if err != nil {
		return err
	}

	if e.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.publishTimeout)
		defer cancel()
	}
	return x.Publish(ctx, req.RoutingKey, req.Body, req.Properties)
}

// ReleaseWorker closes the worker's channel and forgets it
func (e *Engine) ReleaseWorker(worker WorkerID) {
	e.cache.Remove(worker)
}

// Close stops every retry loop, closes the installed connection and makes
// later calls fail with ErrShutdown.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		e.cancelDown()

		e.connectMu.Lock()
		old := e.handle.Swap(nil)
		e.state.Store(int32(StateClosed))
		e.connectMu.Unlock()

		e.cache.Purge()
		if old != nil {
			e.closeErr = old.Close()
		}
		e.metrics.Disconnected()
		e.logger.Info("RabbitMQ publisher closed", "exchange", e.declaration.Name)
	})
	return e.closeErr
}

// operationContext derives a context that is also cancelled by Close
func (e *Engine) operationContext(ctx context.Context) (context.Context, func()) {
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(e.shutdown, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}
