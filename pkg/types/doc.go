/*
Package types defines the core data structures shared across the pipeline.

This package contains the domain model that every stage operates on: the
canonical on-chain event, endpoint subscriptions, delivery jobs, and the
audit and dedup records produced along the way. These types are the
contract between the chain subscriber, deduplicator, config cache and
matcher, batch persister, and delivery workers.

# Core Types

Event representation:
  - CanonicalEvent: a normalized on-chain log, with a stable ID() derived
    from (chain_id, block_hash, transaction_hash, log_index)
  - ChainConfig: static per-chain subscriber configuration
  - SubscriberState: the connection state of a chain subscriber

Subscription and matching:
  - EndpointSubscription: a contract/topic filter bound to a webhook target
  - TopicFilter: positional topic matching with wildcard support

Delivery:
  - DeliveryJob: one event bound to one endpoint, ready for a worker
  - DeliveryAttempt: an append-only audit record of one delivery try
  - BreakerState: the state of a per-endpoint circuit breaker

Dedup:
  - DedupEntry: the record used to recognize a replayed event

Wire format:
  - WebhookPayload / WebhookPayloadData: the JSON body POSTed to endpoints

# Design Patterns

Enumerations use typed string constants:

	type BreakerState string
	const (
	    BreakerClosed BreakerState = "closed"
	    BreakerOpen   BreakerState = "open"
	)

CanonicalEvent is treated as immutable once normalized; every stage after
the chain subscriber reads it without mutation except through Normalize,
which is called exactly once per event.

# Thread Safety

Types in this package carry no internal synchronization. CanonicalEvent
and EndpointSubscription are read-only after construction and safe to
share across goroutines; DeliveryJob instances are owned by a single
worker at a time and are not shared.
*/
package types
