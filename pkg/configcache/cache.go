package configcache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/chainhook/pipeline/pkg/log"
	"github.com/chainhook/pipeline/pkg/metrics"
	"github.com/chainhook/pipeline/pkg/types"
)

// decodeTopicFilter unmarshals a JSON array of topic strings stored in the
// endpoints table. A nil or malformed column is treated as "no filter".
func decodeTopicFilter(raw []byte) types.TopicFilter {
	if len(raw) == 0 {
		return nil
	}
	var filter types.TopicFilter
	if err := json.Unmarshal(raw, &filter); err != nil {
		return nil
	}
	return filter
}

type indexKey struct {
	chainID int64
	address string
}

// snapshot is the immutable index built from a single LoadEndpoints call.
// It is never mutated after buildSnapshot returns; Cache only ever swaps
// the pointer to a whole new snapshot.
type snapshot struct {
	byAddress map[indexKey][]types.EndpointSubscription
	wildcard  map[int64][]types.EndpointSubscription
	count     int
}

func buildSnapshot(endpoints []types.EndpointSubscription) *snapshot {
	s := &snapshot{
		byAddress: make(map[indexKey][]types.EndpointSubscription),
		wildcard:  make(map[int64][]types.EndpointSubscription),
		count:     len(endpoints),
	}
	for _, ep := range endpoints {
		if ep.ContractAddress == "" {
			s.wildcard[ep.ChainID] = append(s.wildcard[ep.ChainID], ep)
			continue
		}
		key := indexKey{chainID: ep.ChainID, address: ep.ContractAddress}
		s.byAddress[key] = append(s.byAddress[key], ep)
	}
	return s
}

// Candidates returns every endpoint subscription that could plausibly
// match an event on chainID against contractAddress: the exact-address
// bucket plus the chain's wildcard bucket. The matcher still applies
// IsActive and topic-filter checks on top of this list.
func (s *snapshot) Candidates(chainID int64, contractAddress string) []types.EndpointSubscription {
	key := indexKey{chainID: chainID, address: contractAddress}
	exact := s.byAddress[key]
	wild := s.wildcard[chainID]
	if len(exact) == 0 {
		return wild
	}
	if len(wild) == 0 {
		return exact
	}
	out := make([]types.EndpointSubscription, 0, len(exact)+len(wild))
	out = append(out, exact...)
	out = append(out, wild...)
	return out
}

// Cache is an atomically-swapped, read-mostly view over the configuration
// store. Readers (the matcher) never block on a refresh in progress and
// never observe a half-built snapshot.
type Cache struct {
	store           *Store
	refreshInterval time.Duration
	current         atomic.Pointer[snapshot]
	notifyCh        chan struct{}
	stopCh          chan struct{}
}

// NewCache creates a Cache over store, starting from an empty snapshot
// until the first Refresh completes.
func NewCache(store *Store, refreshInterval time.Duration) *Cache {
	if refreshInterval <= 0 {
		refreshInterval = 30 * time.Second
	}
	c := &Cache{
		store:           store,
		refreshInterval: refreshInterval,
		notifyCh:        make(chan struct{}, 1),
		stopCh:          make(chan struct{}),
	}
	c.current.Store(&snapshot{
		byAddress: make(map[indexKey][]types.EndpointSubscription),
		wildcard:  make(map[int64][]types.EndpointSubscription),
	})
	return c
}

// Refresh loads the current endpoint set from the store and atomically
// swaps it in. Callers typically invoke this once synchronously before
// Start so the matcher has data from the first event onward.
func (c *Cache) Refresh(ctx context.Context) error {
	endpoints, err := c.store.LoadEndpoints(ctx)
	if err != nil {
		metrics.ConfigCacheRefreshTotal.WithLabelValues("manual", "failure").Inc()
		return err
	}
	c.current.Store(buildSnapshot(endpoints))
	metrics.ConfigCacheRefreshTotal.WithLabelValues("manual", "success").Inc()
	return nil
}

// Start runs the periodic refresh loop and the LISTEN/NOTIFY-driven
// invalidation loop in background goroutines until Stop is called.
func (c *Cache) Start(ctx context.Context) {
	go c.refreshLoop(ctx)
	go c.listenLoop(ctx)
}

// Stop signals both background loops to exit.
func (c *Cache) Stop() {
	close(c.stopCh)
}

func (c *Cache) refreshLoop(ctx context.Context) {
	logger := log.WithComponent("configcache")
	ticker := time.NewTicker(c.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.reload(ctx, "interval"); err != nil {
				logger.Warn().Err(err).Msg("scheduled config refresh failed")
			}
		case <-c.notifyCh:
			if err := c.reload(ctx, "notify"); err != nil {
				logger.Warn().Err(err).Msg("notify-triggered config refresh failed")
			}
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Cache) reload(ctx context.Context, trigger string) error {
	endpoints, err := c.store.LoadEndpoints(ctx)
	if err != nil {
		metrics.ConfigCacheRefreshTotal.WithLabelValues(trigger, "failure").Inc()
		return err
	}
	c.current.Store(buildSnapshot(endpoints))
	metrics.ConfigCacheRefreshTotal.WithLabelValues(trigger, "success").Inc()
	return nil
}

// listenLoop holds open the Postgres LISTEN connection, retrying with a
// fixed backoff if the connection drops; a dropped LISTEN connection
// degrades invalidation to the interval refresh only, it never stops
// ingestion.
func (c *Cache) listenLoop(ctx context.Context) {
	logger := log.WithComponent("configcache")
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		err := c.store.ListenConfigChanged(ctx, c.notifyCh)
		if err == nil || ctx.Err() != nil {
			return
		}
		logger.Warn().Err(err).Msg("config change listener disconnected, retrying")

		select {
		case <-time.After(5 * time.Second):
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Candidates returns the current snapshot's candidate endpoints for
// (chainID, contractAddress). Safe for concurrent use with Refresh/Start.
func (c *Cache) Candidates(chainID int64, contractAddress string) []types.EndpointSubscription {
	return c.current.Load().Candidates(chainID, contractAddress)
}

// Size returns the number of active endpoints in the current snapshot,
// for metrics collection.
func (c *Cache) Size() int {
	return c.current.Load().count
}
