package health

import (
	"context"
	"time"
)

// Broker is the publisher state a BrokerChecker inspects
type Broker interface {
	IsConnected() bool
	State() string
	Endpoint() (string, bool)
	Channels() int
}

// BrokerChecker reports the publisher's connection state
type BrokerChecker struct {
	broker Broker
}

// NewBrokerChecker creates a new broker checker
func NewBrokerChecker(broker Broker) *BrokerChecker {
	return &BrokerChecker{broker: broker}
}

func (c *BrokerChecker) Name() string {
	return "rabbitmq"
}

func (c *BrokerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}

	state := c.broker.State()
	result.Details["state"] = state
	result.Details["channels"] = c.broker.Channels()

	switch {
	case c.broker.IsConnected():
		result.Status = StatusHealthy
		result.Message = "Connected to broker"
		if endpoint, ok := c.broker.Endpoint(); ok {
			result.Details["endpoint"] = endpoint
		}
	case state == "connecting":
		// publishes block until the reconnect finishes
		result.Status = StatusDegraded
		result.Message = "Reconnecting to broker"
	default:
		result.Status = StatusUnhealthy
		result.Message = "Not connected to broker"
	}

	result.Duration = time.Since(start)
	return result
}
