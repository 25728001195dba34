package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// TopicWildcard matches any value at its position in a topic filter.
const TopicWildcard = "*"

// CanonicalEvent is the immutable, normalized record of a single on-chain log,
// produced once by a chain subscriber and never mutated downstream.
type CanonicalEvent struct {
	ChainID         int64
	BlockNumber     uint64
	BlockHash       string
	TransactionHash string
	LogIndex        uint32
	ContractAddress string
	Topics          []string
	Data            string
	IngestedAt      time.Time
}

// ID returns the stable identifier for this event: a deterministic hash of
// (chain_id, block_hash, transaction_hash, log_index). Replaying the same
// frame always yields the same id, which is what makes downstream dedup
// and subscriber-side idempotency possible.
func (e CanonicalEvent) ID() string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%d", e.ChainID, e.BlockHash, e.TransactionHash, e.LogIndex)
	return hex.EncodeToString(h.Sum(nil))
}

// Normalize lowercases the hex fields in place. go-ethereum returns
// addresses and hashes in EIP-55 checksum casing, which this pipeline
// ignores for matching and dedup.
func (e *CanonicalEvent) Normalize() {
	e.ContractAddress = strings.ToLower(e.ContractAddress)
	e.BlockHash = strings.ToLower(e.BlockHash)
	e.TransactionHash = strings.ToLower(e.TransactionHash)
	for i, t := range e.Topics {
		e.Topics[i] = strings.ToLower(t)
	}
}

// TopicFilter is a positional list of required topic values; an empty
// string entry at a position means "wildcard".
type TopicFilter []string

// Matches compares the filter positionally against an event's topics: a
// filter longer than topics never matches, and each filter position is
// either empty/wildcard (accept) or must equal the topic at that position
// case-insensitively.
func (f TopicFilter) Matches(topics []string) bool {
	if len(f) > len(topics) {
		return false
	}
	for i, want := range f {
		if want == "" || want == TopicWildcard {
			continue
		}
		if !strings.EqualFold(want, topics[i]) {
			return false
		}
	}
	return true
}

// EndpointSubscription is a unit of delivery configuration: a contract and
// topic filter paired with a webhook target and its delivery policy.
type EndpointSubscription struct {
	EndpointID         string
	ApplicationID      string
	UserID             string
	ChainID            int64
	URL                string
	HMACSecret         []byte
	ContractAddress    string // empty = no contract filter, lands in the wildcard bucket
	TopicFilter        TopicFilter
	RateLimitPerSecond int
	MaxRetries         int
	TimeoutSeconds     int
	IsActive           bool
}

// Validate enforces the invariants of the subscription record: a well-formed
// url, non-negative retry budget, and positive timeout and rate limit.
func (e EndpointSubscription) Validate() error {
	if e.URL == "" || !(strings.HasPrefix(e.URL, "http://") || strings.HasPrefix(e.URL, "https://")) {
		return fmt.Errorf("endpoint %s: url must be http(s), got %q", e.EndpointID, e.URL)
	}
	if e.TimeoutSeconds < 1 {
		return fmt.Errorf("endpoint %s: timeout_seconds must be >= 1", e.EndpointID)
	}
	if e.MaxRetries < 0 {
		return fmt.Errorf("endpoint %s: max_retries must be >= 0", e.EndpointID)
	}
	if e.RateLimitPerSecond < 1 {
		return fmt.Errorf("endpoint %s: rate_limit_per_second must be >= 1", e.EndpointID)
	}
	return nil
}

// MatchesAddress reports whether the endpoint's contract filter accepts the
// given event contract address. An endpoint with no contract filter accepts
// any address on its chain.
func (e EndpointSubscription) MatchesAddress(contractAddress string) bool {
	if e.ContractAddress == "" {
		return true
	}
	return strings.EqualFold(e.ContractAddress, contractAddress)
}

// DeliveryJob binds one canonical event to one endpoint subscription,
// carrying everything a delivery worker needs without a further lookup.
type DeliveryJob struct {
	EventID            string
	EndpointID         string
	ApplicationID      string
	UserID             string
	URL                string
	HMACSecret         []byte
	MaxRetries         int
	TimeoutSeconds     int
	RateLimitPerSecond int
	Payload            []byte
	Attempt            int
	ReadyAt            time.Time
}

// AttemptOutcome categorizes the terminal or retryable result of one
// delivery attempt, for audit purposes.
type AttemptOutcome string

const (
	OutcomeSuccess          AttemptOutcome = "success"
	OutcomeTransientFailure AttemptOutcome = "transient_failure"
	OutcomePermanentFailure AttemptOutcome = "permanent_failure"
	OutcomeBreakerOpen      AttemptOutcome = "breaker_open"
)

// DeliveryAttempt is the append-only audit row written for every attempt,
// regardless of outcome.
type DeliveryAttempt struct {
	EventID     string
	EndpointID  string
	Attempt     int
	Outcome     AttemptOutcome
	HTTPStatus  int
	ErrorKind   string
	Duration    time.Duration
	AttemptedAt time.Time
}

// BreakerState is the state of a per-endpoint circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// DedupEntry describes the record used to recognize a replayed event within
// the dedup horizon. pkg/dedup does not store this struct: its local LRU
// keeps only the event id, and Redis keeps the first-seen time (RFC 3339)
// under a key whose TTL plays the part of ExpireAt.
type DedupEntry struct {
	EventID  string
	SeenAt   time.Time
	ExpireAt time.Time
}

// EventTypeTag is the constant "type" field of every outbound webhook body.
const EventTypeTag = "ethereum.log"

// WebhookPayload is the JSON body sent to subscriber endpoints.
type WebhookPayload struct {
	ID        string             `json:"id"`
	Type      string             `json:"type"`
	CreatedAt string             `json:"created_at"`
	Data      WebhookPayloadData `json:"data"`
}

// WebhookPayloadData carries the block/tx/log fields of the canonical event.
type WebhookPayloadData struct {
	BlockNumber     uint64   `json:"block_number"`
	BlockHash       string   `json:"block_hash"`
	TransactionHash string   `json:"transaction_hash"`
	LogIndex        uint32   `json:"log_index"`
	ContractAddress string   `json:"contract_address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
}

// BuildPayload constructs the outbound webhook body for an event: id is the
// stable event id prefixed with "evt_", created_at is RFC3339.
func BuildPayload(e CanonicalEvent) WebhookPayload {
	return WebhookPayload{
		ID:        "evt_" + e.ID(),
		Type:      EventTypeTag,
		CreatedAt: e.IngestedAt.UTC().Format(time.RFC3339),
		Data: WebhookPayloadData{
			BlockNumber:     e.BlockNumber,
			BlockHash:       e.BlockHash,
			TransactionHash: e.TransactionHash,
			LogIndex:        e.LogIndex,
			ContractAddress: e.ContractAddress,
			Topics:          e.Topics,
			Data:            e.Data,
		},
	}
}

// ChainConfig describes one upstream chain a subscriber connects to.
type ChainConfig struct {
	ChainID               int64
	DisplayName           string
	WebsocketURL          string
	HTTPURL               string
	MaxReconnectAttempts  int
	InitialReconnectDelay time.Duration
	// PollInterval governs the eth_getLogs polling fallback used when the
	// websocket subscription is unavailable or drops with a transient
	// error. Zero means the subscriber's built-in default applies.
	PollInterval time.Duration
}

// SubscriberState is the connection state of a chain subscriber.
type SubscriberState string

const (
	SubscriberDisconnected SubscriberState = "disconnected"
	SubscriberConnecting   SubscriberState = "connecting"
	SubscriberSubscribed   SubscriberState = "subscribed"
	SubscriberPolling      SubscriberState = "polling"
	SubscriberFatal        SubscriberState = "fatal"
)
