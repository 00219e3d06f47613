package rabbitmq

import (
	"log/slog"
	"sync"
	"time"
)

// WorkerID identifies one publishing goroutine
type WorkerID string

// DeclareFunc declares the target exchange on a worker's channel
type DeclareFunc func(ch Channel) (*Exchange, error)

// workerSlot is owned by exactly one worker and tagged with the generation of
// the connection its channel was opened on.
type workerSlot struct {
	mu         sync.Mutex
	generation uint64
	channel    Channel
	exchange   *Exchange
}

// usable reports whether the slot can serve a publish on generation.
// Caller holds s.mu.
func (s *workerSlot) usable(generation uint64) bool {
	return s.channel != nil && s.generation == generation && !s.channel.IsClosed()
}

// reset drops the channel. Caller holds s.mu.
func (s *workerSlot) reset() {
	if s.channel != nil && !s.channel.IsClosed() {
		s.channel.Close()
	}
	s.channel = nil
	s.exchange = nil
	s.generation = 0
}

// ChannelCache lazily opens one channel and one exchange reference per
// worker. Slots from an older connection generation are dropped on the next
// lookup instead of being reused.
type ChannelCache struct {
	mu     sync.RWMutex
	slots  map[WorkerID]*workerSlot
	logger *slog.Logger
}

// ChannelCacheOption configures the cache
type ChannelCacheOption func(*ChannelCache)

// WithCacheLogger sets the logger
func WithCacheLogger(logger *slog.Logger) ChannelCacheOption {
	return func(c *ChannelCache) {
		c.logger = logger
	}
}

// NewChannelCache creates an empty cache
func NewChannelCache(options ...ChannelCacheOption) *ChannelCache {
	c := &ChannelCache{
		slots:  make(map[WorkerID]*workerSlot),
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// slot returns the worker's slot, creating an empty one if needed. Only the
// map is guarded here; I/O happens under the slot's own lock.
func (c *ChannelCache) slot(worker WorkerID) *workerSlot {
	c.mu.RLock()
	s, ok := c.slots[worker]
	c.mu.RUnlock()
	if ok {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok = c.slots[worker]; !ok {
		s = &workerSlot{}
		c.slots[worker] = s
	}
	return s
}

// Channel returns the worker's channel on h, opening it on first use or when
// the cached one belongs to another connection.
func (c *ChannelCache) Channel(worker WorkerID, h *Handle) (Channel, error) {
	s := c.slot(worker)
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.channelLocked(worker, s, h)
}

func (c *ChannelCache) channelLocked(worker WorkerID, s *workerSlot, h *Handle) (Channel, error) {
	if s.usable(h.Generation()) {
		return s.channel, nil
	}

	if s.channel != nil {
		c.logger.Debug("dropping stale worker channel",
			"worker", worker,
			"generation", s.generation,
			"current", h.Generation())
	}
	s.reset()

	ch, err := h.OpenChannel()
	if err != nil {
		return nil, &ChannelError{
			Op:        "open channel",
			Worker:    worker,
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	s.channel = ch
	s.generation = h.Generation()
	return ch, nil
}

// Exchange returns the worker's exchange reference on h, declaring it on the
// worker's channel the first time.
func (c *ChannelCache) Exchange(worker WorkerID, h *Handle, declare DeclareFunc) (*Exchange, error) {
	s := c.slot(worker)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.usable(h.Generation()) && s.exchange != nil {
		return s.exchange, nil
	}

	ch, err := c.channelLocked(worker, s, h)
	if err != nil {
		return nil, err
	}

	x, err := declare(ch)
	if err != nil {
		s.reset()
		return nil, err
	}
	s.exchange = x
	return x, nil
}

// Invalidate drops the worker's channel so the next lookup opens a new one
func (c *ChannelCache) Invalidate(worker WorkerID) {
	c.mu.RLock()
	s, ok := c.slots[worker]
	c.mu.RUnlock()
	if !ok {
		return
	}

	s.mu.Lock()
	s.reset()
	s.mu.Unlock()
}

// Remove forgets the worker entirely
func (c *ChannelCache) Remove(worker WorkerID) {
	c.mu.Lock()
	s, ok := c.slots[worker]
	delete(c.slots, worker)
	c.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	s.reset()
	s.mu.Unlock()
}

// Purge drops every slot
func (c *ChannelCache) Purge() {
	c.mu.Lock()
	slots := c.slots
	c.slots = make(map[WorkerID]*workerSlot)
	c.mu.Unlock()

	for _, s := range slots {
		s.mu.Lock()
		s.reset()
		s.mu.Unlock()
	}
}

// Size returns the number of workers holding an open channel
func (c *ChannelCache) Size() int {
	c.mu.RLock()
	slots := make([]*workerSlot, 0, len(c.slots))
	for _, s := range c.slots {
		slots = append(slots, s)
	}
	c.mu.RUnlock()

	n := 0
	for _, s := range slots {
		s.mu.Lock()
		if s.channel != nil && !s.channel.IsClosed() {
			n++
		}
		s.mu.Unlock()
	}
	return n
}
