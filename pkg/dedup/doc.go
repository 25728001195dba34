/*
Package dedup implements the reorg-safe event deduplicator.

Every canonical event carries a stable id derived from
(chain_id, block_hash, transaction_hash, log_index). CheckAndMark performs
an atomic check-and-set against that id: the first caller to see an id
within the dedup horizon gets "fresh", every later caller within the same
horizon gets "duplicate".

# Architecture

A process-local bounded LRU fronts a Redis-backed TTL store that is the
authoritative, shared-across-instances horizon. The LRU absorbs the common
case (the same instance re-observing its own recent events, e.g. during a
brief reconnect replay) without a Redis round trip; Redis catches
duplicates seen by a different pipeline instance.

Redis failures fail open: if the authoritative store can't be reached, the
event is treated as fresh and logged, trading a rare double-delivery for
not blocking ingestion on a degraded dependency. See SPEC_FULL's
deduplicator section for that tradeoff and its rationale.

# Usage

	d := dedup.New(redisClient, dedup.Config{TTL: 24 * time.Hour, LRUSize: 100_000})
	fresh, err := d.CheckAndMark(ctx, event.ID())
	if fresh {
	    // forward downstream
	}
*/
package dedup
