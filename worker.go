package rabbitout

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/glimte/rabbitout/event"
	"github.com/glimte/rabbitout/internal/rabbitmq"
)

// Worker publishes on its own channel. A worker must be used by one goroutine
// at a time; create one per publishing goroutine. A closed worker rejects
// every call with ErrWorkerClosed.
type Worker struct {
	publisher *Publisher
	id        rabbitmq.WorkerID
	closed    atomic.Bool
	closeOnce sync.Once
}

func newWorker(p *Publisher) *Worker {
	return &Worker{
		publisher: p,
		id:        rabbitmq.WorkerID(uuid.New().String()),
	}
}

// ID returns the worker id
func (w *Worker) ID() string {
	return string(w.id)
}

// Publish is Publisher.Publish on the worker's channel
func (w *Worker) Publish(ctx context.Context, record event.Fields, body []byte) error {
	if w.closed.Load() {
		return ErrWorkerClosed
	}
	return w.publisher.engine.Publish(ctx, w.id, w.publisher.request(record, body))
}

// PublishMany publishes items in order and stops at the first failure
func (w *Worker) PublishMany(ctx context.Context, items []Item) error {
	for _, item := range items {
		if err := w.Publish(ctx, item.Record, item.Body); err != nil {
			return err
		}
	}
	return nil
}

// Receive is Publisher.Receive on the worker's channel
func (w *Worker) Receive(ctx context.Context, record event.Fields) error {
	if w.closed.Load() {
		return ErrWorkerClosed
	}
	body, ok := w.publisher.encode(record)
	if !ok {
		return nil
	}
	return w.Publish(ctx, record, body)
}

// Close releases the worker's channel. The shared connection stays open.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		w.publisher.engine.ReleaseWorker(w.id)
		w.publisher.workers.Add(-1)
		w.publisher.metrics.WorkerRemoved()
	})
	return nil
}
