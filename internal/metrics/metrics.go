// Package metrics exposes publisher activity as Prometheus series.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Collector records engine events. A nil *Collector is valid and records
// nothing.
type Collector struct {
	connectAttempts *prometheus.CounterVec
	publishes       *prometheus.CounterVec
	publishRetries  *prometheus.CounterVec
	reconnects      prometheus.Counter
	dropped         *prometheus.CounterVec
	connected       prometheus.Gauge
	workers         prometheus.Gauge
}

// NewCollector creates the series and registers them with reg. A nil reg
// creates unregistered series.
func NewCollector(reg prometheus.Registerer, namespace string) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		connectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Connection attempts by endpoint and result",
		}, []string{"endpoint", "result"}),
		publishes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Publish calls by final result",
		}, []string{"result"}),
		publishRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_retries_total",
			Help:      "Publish attempts that failed and were retried, by error class",
		}, []string{"class"}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Connections installed after the first one",
		}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events discarded before publishing, by reason",
		}, []string{"reason"}),
		connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while a broker connection is installed",
		}),
		workers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers",
			Help:      "Publishing workers currently registered",
		}),
	}
}

// ConnectAttempt records one attempt against endpoint
func (c *Collector) ConnectAttempt(endpoint string, err error) {
	if c == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	c.connectAttempts.WithLabelValues(endpoint, result).Inc()
}

// Connected records an installed connection. reconnect is false for the
// first one.
func (c *Collector) Connected(reconnect bool) {
	if c == nil {
		return
	}
	c.connected.Set(1)
	if reconnect {
		c.reconnects.Inc()
	}
}

// Disconnected records that no connection is installed
func (c *Collector) Disconnected() {
	if c == nil {
		return
	}
	c.connected.Set(0)
}

// Published records the final outcome of a publish call
func (c *Collector) Published(err error) {
	if c == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	c.publishes.WithLabelValues(result).Inc()
}

// PublishRetried records a failed attempt that will be retried
func (c *Collector) PublishRetried(class string) {
	if c == nil {
		return
	}
	c.publishRetries.WithLabelValues(class).Inc()
}

// WorkerAdded tracks worker registration
func (c *Collector) WorkerAdded() {
	if c == nil {
		return
	}
	c.workers.Inc()
}

// WorkerRemoved tracks worker removal
func (c *Collector) WorkerRemoved() {
	if c == nil {
		return
	}
	c.workers.Dec()
}

// Dropped records an event discarded before it reached the broker
func (c *Collector) Dropped(reason string) {
	if c == nil {
		return
	}
	c.dropped.WithLabelValues(reason).Inc()
}
