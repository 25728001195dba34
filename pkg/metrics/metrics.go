package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Chain subscriber metrics
	EventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_events_ingested_total",
			Help: "Total number of raw log events ingested from chain subscriptions",
		},
		[]string{"chain_id"},
	)

	SubscriberReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_subscriber_reconnects_total",
			Help: "Total number of chain subscriber reconnect attempts",
		},
		[]string{"chain_id"},
	)

	SubscriberState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_subscriber_state",
			Help: "Current chain subscriber state (1 = active) by state label",
		},
		[]string{"chain_id", "state"},
	)

	// Deduplicator metrics
	DuplicatesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_duplicates_dropped_total",
			Help: "Total number of events dropped as duplicates",
		},
		[]string{"chain_id"},
	)

	DedupStoreFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_dedup_store_failures_total",
			Help: "Total number of Redis dedup store errors (fail-open events still pass)",
		},
	)

	DedupLRUSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_dedup_lru_size",
			Help: "Current number of entries held in the process-local dedup LRU",
		},
	)

	// Config cache / matcher metrics
	ConfigCacheRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_config_cache_refresh_total",
			Help: "Total number of config cache refreshes by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	ConfigCacheEndpoints = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_config_cache_endpoints",
			Help: "Number of active endpoint subscriptions currently held in the cache snapshot",
		},
	)

	JobsMatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_matched_total",
			Help: "Total number of delivery jobs produced by the matcher",
		},
		[]string{"chain_id"},
	)

	MatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_match_latency_seconds",
			Help:    "Time taken to match one event against the config cache",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Persister metrics
	EventsPersistedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_events_persisted_total",
			Help: "Total number of events written to the columnar store",
		},
	)

	BatchFlushTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_batch_flush_total",
			Help: "Total number of batch flushes by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	PersisterDeadLettersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_persister_dead_letters_total",
			Help: "Total number of batches routed to the dead-letter store after repeated flush failures",
		},
	)

	// Delivery metrics
	DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_delivery_attempts_total",
			Help: "Total number of webhook delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	DeliveryLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_delivery_latency_seconds",
			Help:    "Webhook delivery round-trip latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	BreakerTripsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_breaker_trips_total",
			Help: "Total number of times an endpoint's circuit breaker opened",
		},
		[]string{"endpoint_id"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_breaker_state",
			Help: "Current circuit breaker state by endpoint (0=closed, 1=open, 2=half_open)",
		},
		[]string{"endpoint_id"},
	)

	RateLimitDelaysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_rate_limit_delays_total",
			Help: "Total number of deliveries delayed waiting on a per-endpoint token bucket",
		},
		[]string{"endpoint_id"},
	)

	DeliveryQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_delivery_queue_depth",
			Help: "Current depth of the delivery channel",
		},
	)

	DeliveryDeadLettersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_delivery_dead_letters_total",
			Help: "Total number of delivery jobs routed to the dead-letter store after exhausting retries",
		},
	)
)

func init() {
	prometheus.MustRegister(
		EventsIngestedTotal,
		SubscriberReconnectsTotal,
		SubscriberState,
		DuplicatesDroppedTotal,
		DedupStoreFailuresTotal,
		DedupLRUSize,
		ConfigCacheRefreshTotal,
		ConfigCacheEndpoints,
		JobsMatchedTotal,
		MatchLatency,
		EventsPersistedTotal,
		BatchFlushTotal,
		PersisterDeadLettersTotal,
		DeliveryAttemptsTotal,
		DeliveryLatency,
		BreakerTripsTotal,
		BreakerState,
		RateLimitDelaysTotal,
		DeliveryQueueDepth,
		DeliveryDeadLettersTotal,
	)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
