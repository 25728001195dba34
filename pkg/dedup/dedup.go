package dedup

import (
	"context"
	"time"

	"github.com/chainhook/pipeline/pkg/log"
	"github.com/chainhook/pipeline/pkg/metrics"
	"github.com/redis/go-redis/v9"
)

// Config holds the deduplicator's tunables.
type Config struct {
	// TTL is the dedup horizon: events are only guaranteed to be
	// recognized as duplicates within this window of their first sighting.
	TTL time.Duration

	// LRUSize bounds the process-local front cache.
	LRUSize int

	// KeyPrefix namespaces dedup keys in the shared Redis instance.
	KeyPrefix string
}

// DefaultConfig returns the documented defaults: a 24h horizon and a
// 100k-entry local LRU.
func DefaultConfig() Config {
	return Config{
		TTL:       24 * time.Hour,
		LRUSize:   100_000,
		KeyPrefix: "dedup:",
	}
}

// Deduplicator performs the check_and_mark atomic operation against a
// process-local LRU fronting a shared Redis TTL store.
type Deduplicator struct {
	redis *redis.Client
	local *lru
	cfg   Config
}

// New creates a Deduplicator backed by the given Redis client.
func New(client *redis.Client, cfg Config) *Deduplicator {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.LRUSize <= 0 {
		cfg.LRUSize = 100_000
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "dedup:"
	}
	return &Deduplicator{
		redis: client,
		local: newLRU(cfg.LRUSize),
		cfg:   cfg,
	}
}

// CheckAndMark reports whether eventID is being seen for the first time
// within the dedup horizon. It checks the local LRU first; on a miss it
// falls through to an atomic Redis SETNX with the configured TTL. Redis
// errors fail open: the event is treated as fresh and the failure is
// counted and logged, rather than blocking ingestion on a degraded
// dependency.
func (d *Deduplicator) CheckAndMark(ctx context.Context, eventID string) (fresh bool, err error) {
	if d.local.Contains(eventID) {
		return false, nil
	}

	key := d.cfg.KeyPrefix + eventID
	ok, redisErr := d.redis.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), d.cfg.TTL).Result()
	if redisErr != nil {
		metrics.DedupStoreFailuresTotal.Inc()
		log.WithComponent("dedup").Warn().Err(redisErr).Str("event_id", eventID).
			Msg("dedup store unreachable, failing open")
		d.local.Add(eventID)
		return true, nil
	}

	d.local.Add(eventID)
	return ok, nil
}

// LRULen returns the current size of the process-local front cache, for
// metrics collection.
func (d *Deduplicator) LRULen() int {
	return d.local.Len()
}
