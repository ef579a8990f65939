package feed

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/HMasataka/agentws/pkg/domain"
	"github.com/HMasataka/agentws/pkg/errors"
)

// MetricsCache holds the latest metrics_update mapping
type MetricsCache struct {
	mu        sync.RWMutex
	values    map[string]float64
	updatedAt time.Time
}

// NewMetricsCache creates an empty cache
func NewMetricsCache() *MetricsCache {
	return &MetricsCache{values: map[string]float64{}}
}

// Attach subscribes the cache to metrics_update frames
func (c *MetricsCache) Attach(s Subscriber) domain.Disposer {
	return s.Subscribe(domain.MessageTypeMetricsUpdate, c.handle)
}

func (c *MetricsCache) handle(_ context.Context, msg *domain.Message) error {
	update, ok := msg.Payload.(domain.MetricsUpdate)
	if !ok {
		return errors.New(errors.ErrorTypeProtocol, "UNEXPECTED_PAYLOAD", "unexpected metrics_update payload")
	}
	c.Replace(update.Metrics, msg.ReceivedAt)
	return nil
}

// Replace swaps the whole mapping. Prior values are not merged.
func (c *MetricsCache) Replace(values map[string]float64, at time.Time) {
	next := maps.Clone(values)
	if next == nil {
		next = map[string]float64{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = next
	c.updatedAt = at
}

// Snapshot returns a copy of the mapping and its update time
func (c *MetricsCache) Snapshot() (map[string]float64, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.values), c.updatedAt
}

// Value returns a single metric
func (c *MetricsCache) Value(name string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[name]
	return v, ok
}
