package metrics

import "time"

// Sources supplies the poll functions the Collector calls on each tick.
// A nil field is skipped, so a caller can wire only the stages it has
// constructed.
type Sources struct {
	DeliveryQueueLen func() int
	ConfigCacheSize  func() int
	DedupLRULen      func() int
}

// Collector periodically samples gauge-shaped state that isn't naturally
// updated on every event (queue depth, cache size) and publishes it to the
// corresponding Prometheus gauges.
type Collector struct {
	sources Sources
	stopCh  chan struct{}
}

// NewCollector creates a new Collector bound to the given sources.
func NewCollector(sources Sources) *Collector {
	return &Collector{
		sources: sources,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s interval, sampling immediately.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.sources.DeliveryQueueLen != nil {
		DeliveryQueueDepth.Set(float64(c.sources.DeliveryQueueLen()))
	}
	if c.sources.ConfigCacheSize != nil {
		ConfigCacheEndpoints.Set(float64(c.sources.ConfigCacheSize()))
	}
	if c.sources.DedupLRULen != nil {
		DedupLRUSize.Set(float64(c.sources.DedupLRULen()))
	}
}
