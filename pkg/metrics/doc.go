/*
Package metrics provides Prometheus metrics collection and exposition for
the pipeline.

The metrics package defines and registers the pipeline's counters, gauges,
and histograms using the Prometheus client library, and runs a ticker-driven
Collector that polls each stage for its current gauges between events
(delivery queue depth, config cache size, dedup LRU length). Circuit
breaker state is not polled; pkg/delivery sets it inline on each
transition.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│  Prometheus Registry (MustRegister at package init)       │
	│       │                                                    │
	│       ▼                                                    │
	│  Counters/Histograms updated inline by each stage          │
	│  (EventsIngestedTotal.WithLabelValues(...).Inc(), etc.)    │
	│       │                                                    │
	│       ▼                                                    │
	│  Collector: 15s ticker polls gauge-shaped stage state       │
	│  (queue depth, cache size, LRU length) that isn't          │
	│  naturally updated on every event                          │
	└────────────────────────────────────────────────────────┘

# Usage

	collector := metrics.NewCollector(metrics.Sources{
	    DeliveryQueueLen: func() int { return len(deliveryCh) },
	    ConfigCacheSize:  cache.Size,
	    DedupLRULen:      dedup.LRULen,
	})
	collector.Start()
	defer collector.Stop()

	http.Handle("/metrics", metrics.Handler())

# See Also

  - pkg/supervisor wires the Collector to the running stages at startup.
*/
package metrics
