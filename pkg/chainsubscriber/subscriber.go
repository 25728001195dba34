package chainsubscriber

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/chainhook/pipeline/pkg/log"
	"github.com/chainhook/pipeline/pkg/metrics"
	"github.com/chainhook/pipeline/pkg/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// defaultPollInterval is used when a chain's configuration leaves
// PollInterval unset.
const defaultPollInterval = 5 * time.Second

// Dialer opens a connection to an EVM node and streams new logs, or polls
// for them when the node doesn't sustain a subscription. Satisfied by
// *ethclient.Client; abstracted so tests can substitute a fake.
type Dialer interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- ethtypes.Log) (ethereum.Subscription, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

type dialFunc func(ctx context.Context, url string) (Dialer, error)

func dialEthClient(ctx context.Context, url string) (Dialer, error) {
	return ethclient.DialContext(ctx, url)
}

// Subscriber owns the streaming subscription for a single chain.
type Subscriber struct {
	cfg  types.ChainConfig
	out  chan<- types.CanonicalEvent
	dial dialFunc

	state     atomic.Value // types.SubscriberState
	lastBlock uint64       // highest block number this subscriber has forwarded an event for
}

// New creates a Subscriber for cfg that forwards canonical events onto out.
func New(cfg types.ChainConfig, out chan<- types.CanonicalEvent) *Subscriber {
	s := &Subscriber{cfg: cfg, out: out, dial: dialEthClient}
	s.setState(types.SubscriberDisconnected)
	return s
}

func (s *Subscriber) setState(st types.SubscriberState) {
	if prev, ok := s.state.Load().(types.SubscriberState); ok && prev != st {
		metrics.SubscriberState.WithLabelValues(chainLabel(s.cfg.ChainID), string(prev)).Set(0)
	}
	s.state.Store(st)
	metrics.SubscriberState.WithLabelValues(chainLabel(s.cfg.ChainID), string(st)).Set(1)
}

// State returns the subscriber's current connection state.
func (s *Subscriber) State() types.SubscriberState {
	return s.state.Load().(types.SubscriberState)
}

// Run drives the Disconnected -> Connecting -> Subscribed loop until ctx is
// canceled or max reconnect attempts is exceeded, in which case it returns
// a non-nil error for the caller (the supervisor) to treat as fatal for
// this chain only.
func (s *Subscriber) Run(ctx context.Context) error {
	logger := log.WithChain(s.cfg.ChainID)
	delay := s.cfg.InitialReconnectDelay
	if delay <= 0 {
		delay = time.Second
	}

	attempts := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		s.setState(types.SubscriberConnecting)
		err := s.runOnce(ctx)
		if err == nil {
			return nil // ctx canceled inside runOnce
		}

		attempts++
		metrics.SubscriberReconnectsTotal.WithLabelValues(chainLabel(s.cfg.ChainID)).Inc()
		s.setState(types.SubscriberDisconnected)
		logger.Warn().Err(err).Int("attempt", attempts).Msg("chain subscription lost, reconnecting")

		if s.cfg.MaxReconnectAttempts > 0 && attempts >= s.cfg.MaxReconnectAttempts {
			s.setState(types.SubscriberFatal)
			return fmt.Errorf("chain %d: exceeded %d reconnect attempts: %w", s.cfg.ChainID, s.cfg.MaxReconnectAttempts, err)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
		delay = nextDelay(delay)
	}
}

// runOnce dials and attempts a websocket log subscription. If the
// subscription can't be established at all, or it drops with a transient
// error after being established, it falls back to polling FilterLogs on
// the same connection rather than immediately surfacing an error for the
// caller's reconnect-with-backoff loop. A nil error with ctx canceled means
// clean shutdown; a non-nil error means the caller should reconnect.
func (s *Subscriber) runOnce(ctx context.Context) error {
	dialURL := s.cfg.WebsocketURL
	if dialURL == "" {
		dialURL = s.cfg.HTTPURL
	}
	client, err := s.dial(ctx, dialURL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer client.Close()

	logger := log.WithChain(s.cfg.ChainID)

	if s.cfg.WebsocketURL == "" {
		logger.Warn().Msg("no websocket URL configured, polling for logs")
		return s.runPolling(ctx, client)
	}

	logsCh := make(chan ethtypes.Log, 256)
	sub, err := client.SubscribeFilterLogs(ctx, ethereum.FilterQuery{}, logsCh)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket log subscription unavailable, falling back to polling")
		return s.runPolling(ctx, client)
	}
	defer sub.Unsubscribe()

	s.setState(types.SubscriberSubscribed)

	for {
		select {
		case raw := <-logsCh:
			event, ok := normalize(s.cfg.ChainID, raw)
			if !ok {
				logger.Warn().Msg("dropping malformed log frame")
				continue
			}
			s.lastBlock = event.BlockNumber
			metrics.EventsIngestedTotal.WithLabelValues(chainLabel(s.cfg.ChainID)).Inc()
			select {
			case s.out <- event:
			case <-ctx.Done():
				return nil
			}
		case err := <-sub.Err():
			if ctx.Err() != nil {
				return nil
			}
			if err == nil {
				err = fmt.Errorf("subscription closed")
			}
			logger.Warn().Err(err).Msg("websocket log subscription dropped, falling back to polling")
			return s.runPolling(ctx, client)
		case <-ctx.Done():
			return nil
		}
	}
}

// runPolling repeatedly calls FilterLogs over [lastBlock+1, latest] on a
// fixed interval, used when the node doesn't sustain a websocket log
// subscription. It never scans further back than the subscriber's own
// last-seen block: if no block has been seen yet, it seeds lastBlock from
// the chain's current head instead of scanning from genesis.
func (s *Subscriber) runPolling(ctx context.Context, client Dialer) error {
	s.setState(types.SubscriberPolling)
	logger := log.WithChain(s.cfg.ChainID)

	if s.lastBlock == 0 {
		head, err := client.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("poll: initial block number: %w", err)
		}
		s.lastBlock = head
	}

	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.pollOnce(ctx, client, logger); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// pollOnce fetches the current head and, if it has advanced past
// lastBlock, fetches and forwards every log in between.
func (s *Subscriber) pollOnce(ctx context.Context, client Dialer, logger zerolog.Logger) error {
	head, err := client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("poll: block number: %w", err)
	}
	if head <= s.lastBlock {
		return nil
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(s.lastBlock + 1),
		ToBlock:   new(big.Int).SetUint64(head),
	}
	logs, err := client.FilterLogs(ctx, query)
	if err != nil {
		return fmt.Errorf("poll: filter logs: %w", err)
	}

	for _, raw := range logs {
		event, ok := normalize(s.cfg.ChainID, raw)
		if !ok {
			logger.Warn().Msg("dropping malformed polled log")
			continue
		}
		metrics.EventsIngestedTotal.WithLabelValues(chainLabel(s.cfg.ChainID)).Inc()
		select {
		case s.out <- event:
		case <-ctx.Done():
			return nil
		}
	}

	s.lastBlock = head
	return nil
}

// normalize converts a raw go-ethereum log into a canonical event,
// lowercasing hex fields. ok is false if the frame is missing data this
// pipeline requires (e.g. it is still pending and has no block hash).
func normalize(chainID int64, raw ethtypes.Log) (types.CanonicalEvent, bool) {
	if raw.Removed {
		return types.CanonicalEvent{}, false
	}
	if raw.BlockHash == (common.Hash{}) || raw.TxHash == (common.Hash{}) {
		return types.CanonicalEvent{}, false
	}

	topics := make([]string, len(raw.Topics))
	for i, t := range raw.Topics {
		topics[i] = t.Hex()
	}

	event := types.CanonicalEvent{
		ChainID:         chainID,
		BlockNumber:     raw.BlockNumber,
		BlockHash:       raw.BlockHash.Hex(),
		TransactionHash: raw.TxHash.Hex(),
		LogIndex:        uint32(raw.Index),
		ContractAddress: raw.Address.Hex(),
		Topics:          topics,
		Data:            hexutil.Encode(raw.Data),
		IngestedAt:      time.Now().UTC(),
	}
	event.Normalize()
	return event, true
}

func chainLabel(chainID int64) string {
	return fmt.Sprintf("%d", chainID)
}
