package persister

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chainhook/pipeline/pkg/deadletter"
	"github.com/chainhook/pipeline/pkg/log"
	"github.com/chainhook/pipeline/pkg/metrics"
	"github.com/chainhook/pipeline/pkg/types"
	"github.com/rs/zerolog"
)

// Config holds the persister's batching tunables.
type Config struct {
	BatchSize      int
	BatchTimeout   time.Duration
	FlushRetries   int
	FlushBackoff   time.Duration
	InsertURL      string
	RequestTimeout time.Duration
}

// DefaultConfig returns the documented defaults: 100 events or 5s,
// whichever is sooner, three flush retries.
func DefaultConfig() Config {
	return Config{
		BatchSize:      100,
		BatchTimeout:   5 * time.Second,
		FlushRetries:   3,
		FlushBackoff:   time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// row is the line-delimited JSON shape written to the columnar store.
type row struct {
	ChainID         int64    `json:"chain_id"`
	BlockNumber     uint64   `json:"block_number"`
	BlockHash       string   `json:"block_hash"`
	TransactionHash string   `json:"transaction_hash"`
	LogIndex        uint32   `json:"log_index"`
	ContractAddress string   `json:"contract_address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	IngestedAt      string   `json:"ingested_at"`
}

func toRow(e types.CanonicalEvent) row {
	return row{
		ChainID:         e.ChainID,
		BlockNumber:     e.BlockNumber,
		BlockHash:       e.BlockHash,
		TransactionHash: e.TransactionHash,
		LogIndex:        e.LogIndex,
		ContractAddress: e.ContractAddress,
		Topics:          e.Topics,
		Data:            e.Data,
		IngestedAt:      e.IngestedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

// encodeBatch serializes events as newline-delimited JSON rows.
func encodeBatch(batch []types.CanonicalEvent) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range batch {
		if err := enc.Encode(toRow(e)); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Persister buffers events from its input channel and flushes batches to
// the columnar store.
type Persister struct {
	in         <-chan types.CanonicalEvent
	cfg        Config
	httpClient *http.Client
	dlq        *deadletter.Store
}

// New creates a Persister reading from in.
func New(in <-chan types.CanonicalEvent, cfg Config, dlq *deadletter.Store) *Persister {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 5 * time.Second
	}
	if cfg.FlushRetries <= 0 {
		cfg.FlushRetries = 3
	}
	if cfg.FlushBackoff <= 0 {
		cfg.FlushBackoff = time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &Persister{
		in:         in,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		dlq:        dlq,
	}
}

// Run buffers events and flushes size- or time-triggered batches until the
// input channel is closed or ctx is canceled, flushing whatever remains
// before returning.
func (p *Persister) Run(ctx context.Context) {
	logger := log.WithComponent("persister")
	batch := make([]types.CanonicalEvent, 0, p.cfg.BatchSize)
	timer := time.NewTimer(p.cfg.BatchTimeout)
	defer timer.Stop()

	flush := func(trigger string) {
		if len(batch) == 0 {
			return
		}
		p.flushWithRetry(ctx, batch, trigger, logger)
		batch = make([]types.CanonicalEvent, 0, p.cfg.BatchSize)
	}

	for {
		select {
		case event, ok := <-p.in:
			if !ok {
				flush("shutdown")
				return
			}
			if len(batch) == 0 {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(p.cfg.BatchTimeout)
			}
			batch = append(batch, event)
			if len(batch) >= p.cfg.BatchSize {
				flush("size")
			}
		case <-timer.C:
			flush("timeout")
			timer.Reset(p.cfg.BatchTimeout)
		case <-ctx.Done():
			// ctx is already canceled; flush the remainder under a context
			// that keeps its values but not the cancellation, so the final
			// insert can still reach the columnar store.
			ctx = context.WithoutCancel(ctx)
			flush("shutdown")
			return
		}
	}
}

// flushWithRetry attempts to write batch to the columnar store, retrying
// FlushRetries times with a fixed backoff before dead-lettering it.
func (p *Persister) flushWithRetry(ctx context.Context, batch []types.CanonicalEvent, trigger string, logger zerolog.Logger) {
	encoded, err := encodeBatch(batch)
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode batch, dropping")
		metrics.BatchFlushTotal.WithLabelValues(trigger, "encode_error").Inc()
		return
	}

	var lastErr error
	for attempt := 0; attempt <= p.cfg.FlushRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.cfg.FlushBackoff):
			case <-ctx.Done():
				lastErr = ctx.Err()
				break
			}
		}
		if lastErr = p.insert(ctx, encoded); lastErr == nil {
			metrics.EventsPersistedTotal.Add(float64(len(batch)))
			metrics.BatchFlushTotal.WithLabelValues(trigger, "success").Inc()
			return
		}
	}

	logger.Error().Err(lastErr).Int("events", len(batch)).Msg("batch flush exhausted retries, dead-lettering")
	metrics.BatchFlushTotal.WithLabelValues(trigger, "failure").Inc()
	metrics.PersisterDeadLettersTotal.Inc()

	if p.dlq != nil {
		id := fmt.Sprintf("%d-%d", batch[0].ChainID, batch[0].IngestedAt.UnixNano())
		if err := p.dlq.PutBatch(id, encoded); err != nil {
			logger.Error().Err(err).Msg("failed to write batch to dead-letter store")
		}
	}
}

func (p *Persister) insert(ctx context.Context, body []byte) error {
	if p.cfg.InsertURL == "" {
		return fmt.Errorf("persister: no insert url configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.InsertURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("columnar store returned status %d", resp.StatusCode)
	}
	return nil
}
