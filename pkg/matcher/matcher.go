package matcher

import (
	"time"

	"github.com/chainhook/pipeline/pkg/metrics"
	"github.com/chainhook/pipeline/pkg/types"
)

// ConfigSource is the subset of configcache.Cache the matcher depends on,
// kept as an interface so matcher tests never need a real Postgres-backed
// cache.
type ConfigSource interface {
	Candidates(chainID int64, contractAddress string) []types.EndpointSubscription
}

// Matcher turns canonical events into delivery jobs by consulting a
// ConfigSource for the set of endpoints that could care about an event's
// (chain, contract) pair, then filtering by topic.
type Matcher struct {
	cache ConfigSource
}

// New creates a Matcher over the given config source.
func New(cache ConfigSource) *Matcher {
	return &Matcher{cache: cache}
}

// Match returns one DeliveryJob per active, matching endpoint subscription
// for the event. The event's own address/topics have already been
// normalized to lowercase by the time it reaches here.
func (m *Matcher) Match(event types.CanonicalEvent) []types.DeliveryJob {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MatchLatency)

	candidates := m.cache.Candidates(event.ChainID, event.ContractAddress)
	if len(candidates) == 0 {
		return nil
	}

	payload := types.BuildPayload(event)
	payloadBytes, err := marshalPayload(payload)
	if err != nil {
		return nil
	}

	var jobs []types.DeliveryJob
	for _, ep := range candidates {
		if !ep.IsActive {
			continue
		}
		if !ep.MatchesAddress(event.ContractAddress) {
			continue
		}
		if !ep.TopicFilter.Matches(event.Topics) {
			continue
		}
		jobs = append(jobs, types.DeliveryJob{
			EventID:            payload.ID,
			EndpointID:         ep.EndpointID,
			ApplicationID:      ep.ApplicationID,
			UserID:             ep.UserID,
			URL:                ep.URL,
			HMACSecret:         ep.HMACSecret,
			MaxRetries:         ep.MaxRetries,
			TimeoutSeconds:     ep.TimeoutSeconds,
			RateLimitPerSecond: ep.RateLimitPerSecond,
			Payload:            payloadBytes,
			Attempt:            1,
			ReadyAt:            time.Now(),
		})
	}

	if len(jobs) > 0 {
		metrics.JobsMatchedTotal.WithLabelValues(chainLabel(event.ChainID)).Add(float64(len(jobs)))
	}
	return jobs
}
