package delivery

import (
	"sync"
	"time"

	"github.com/chainhook/pipeline/pkg/metrics"
	"github.com/chainhook/pipeline/pkg/types"
)

// BreakerConfig holds the circuit breaker's tunables.
type BreakerConfig struct {
	FailThreshold int
	Cooldown      time.Duration
}

// DefaultBreakerConfig returns the documented defaults: trip after five
// consecutive failures, 60s cooldown.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailThreshold: 5, Cooldown: 60 * time.Second}
}

type breakerRecord struct {
	mu                  sync.Mutex
	state               types.BreakerState
	consecutiveFailures int
	openedAt            time.Time
}

// BreakerRegistry holds one breaker record per endpoint, created lazily.
type BreakerRegistry struct {
	cfg     BreakerConfig
	mu      sync.Mutex
	records map[string]*breakerRecord
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry(cfg BreakerConfig) *BreakerRegistry {
	if cfg.FailThreshold <= 0 {
		cfg.FailThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	return &BreakerRegistry{cfg: cfg, records: make(map[string]*breakerRecord)}
}

func (r *BreakerRegistry) record(endpointID string) *breakerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[endpointID]
	if !ok {
		rec = &breakerRecord{state: types.BreakerClosed}
		r.records[endpointID] = rec
	}
	return rec
}

// breakerDecision is what the caller should do before attempting delivery.
type breakerDecision int

const (
	decisionProceed breakerDecision = iota
	decisionProceedAsProbe
	decisionShortCircuit
)

// Admit checks whether a delivery attempt to endpointID may proceed. It
// transitions Open -> HalfOpen itself once the cooldown has elapsed.
func (r *BreakerRegistry) Admit(endpointID string) breakerDecision {
	rec := r.record(endpointID)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	switch rec.state {
	case types.BreakerOpen:
		if time.Since(rec.openedAt) < r.cfg.Cooldown {
			return decisionShortCircuit
		}
		rec.state = types.BreakerHalfOpen
		metrics.BreakerState.WithLabelValues(endpointID).Set(2)
		return decisionProceedAsProbe
	case types.BreakerHalfOpen:
		// another probe is already outstanding; treat concurrent callers as
		// short-circuited to avoid stacking probes against a failing endpoint
		return decisionShortCircuit
	default:
		return decisionProceed
	}
}

// ReportSuccess closes the breaker and resets the failure count.
func (r *BreakerRegistry) ReportSuccess(endpointID string) {
	rec := r.record(endpointID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.state = types.BreakerClosed
	rec.consecutiveFailures = 0
	metrics.BreakerState.WithLabelValues(endpointID).Set(0)
}

// ReportFailure increments the failure count and trips the breaker once
// the threshold is reached, or immediately reopens it on a failed probe.
func (r *BreakerRegistry) ReportFailure(endpointID string) {
	rec := r.record(endpointID)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.state == types.BreakerHalfOpen {
		rec.state = types.BreakerOpen
		rec.openedAt = time.Now()
		metrics.BreakerState.WithLabelValues(endpointID).Set(1)
		metrics.BreakerTripsTotal.WithLabelValues(endpointID).Inc()
		return
	}

	rec.consecutiveFailures++
	if rec.consecutiveFailures >= r.cfg.FailThreshold {
		rec.state = types.BreakerOpen
		rec.openedAt = time.Now()
		metrics.BreakerState.WithLabelValues(endpointID).Set(1)
		metrics.BreakerTripsTotal.WithLabelValues(endpointID).Inc()
	}
}

// State reports the current breaker state for endpointID, for diagnostics.
func (r *BreakerRegistry) State(endpointID string) types.BreakerState {
	rec := r.record(endpointID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state
}
