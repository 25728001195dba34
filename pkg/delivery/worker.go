package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/chainhook/pipeline/pkg/deadletter"
	"github.com/chainhook/pipeline/pkg/log"
	"github.com/chainhook/pipeline/pkg/metrics"
	"github.com/chainhook/pipeline/pkg/types"
	"github.com/rs/zerolog"
)

// Config holds the delivery pool's tunables.
type Config struct {
	WorkerCount  int
	RetryBase    time.Duration
	RetryMaxWait time.Duration
	Breaker      BreakerConfig
	Timeout      time.Duration
}

// DefaultConfig returns the documented defaults: 50 workers, 2s base
// retry delay capped at 60s.
func DefaultConfig() Config {
	return Config{
		WorkerCount:  50,
		RetryBase:    2 * time.Second,
		RetryMaxWait: 60 * time.Second,
		Breaker:      DefaultBreakerConfig(),
		Timeout:      30 * time.Second,
	}
}

// AuditFunc is invoked for every delivery attempt, regardless of outcome.
type AuditFunc func(types.DeliveryAttempt)

// Pool is a fixed-size worker pool that consumes delivery jobs from In,
// reschedules retries via an internal RetryScheduler, and dead-letters
// jobs that exhaust their retry budget or are still awaiting a retry at
// shutdown. A job short-circuited by an Open breaker is recorded and
// dropped, not dead-lettered.
type Pool struct {
	In    <-chan types.DeliveryJob
	cfg   Config
	audit AuditFunc
	dlq   *deadletter.Store

	breakers *BreakerRegistry
	limiters *RateLimiterRegistry
	retries  *RetryScheduler
	client   *http.Client
}

// New creates a delivery Pool. audit may be nil, in which case attempts
// are only counted in metrics, not recorded. dlq may be nil in tests that don't exercise the
// dead-letter path.
func New(in <-chan types.DeliveryJob, cfg Config, audit AuditFunc, dlq *deadletter.Store) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 50
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 2 * time.Second
	}
	if cfg.RetryMaxWait <= 0 {
		cfg.RetryMaxWait = 60 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Pool{
		In:       in,
		cfg:      cfg,
		audit:    audit,
		dlq:      dlq,
		breakers: NewBreakerRegistry(cfg.Breaker),
		limiters: NewRateLimiterRegistry(),
		retries:  NewRetryScheduler(cap(in)),
		client:   &http.Client{},
	}
}

// Run starts the worker goroutines and the retry scheduler, and blocks
// until ctx is canceled. On shutdown, any job still waiting in the retry
// scheduler is flushed to the dead-letter store before Run returns.
func (p *Pool) Run(ctx context.Context) {
	go p.retries.Run()

	done := make(chan struct{})
	for i := 0; i < p.cfg.WorkerCount; i++ {
		go p.worker(ctx, done)
	}

	<-ctx.Done()
	for i := 0; i < p.cfg.WorkerCount; i++ {
		<-done
	}

	p.drainRetries()
}

// drainRetries stops the retry scheduler and dead-letters every job it was
// still holding, so a shutdown never silently discards a scheduled retry.
func (p *Pool) drainRetries() {
	pending := p.retries.Stop()
	if len(pending) == 0 || p.dlq == nil {
		return
	}
	logger := log.WithComponent("delivery")
	for _, job := range pending {
		id := fmt.Sprintf("%s:%s", job.EventID, job.EndpointID)
		data, err := json.Marshal(job)
		if err != nil {
			logger.Error().Err(err).Msg("failed to marshal pending retry job for dead-letter")
			continue
		}
		if err := p.dlq.PutDeliveryJob(id, data); err != nil {
			logger.Error().Err(err).Msg("failed to write pending retry job to dead-letter store")
		}
	}
}

func (p *Pool) worker(ctx context.Context, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	logger := log.WithComponent("delivery")

	for {
		select {
		case job, ok := <-p.In:
			if !ok {
				return
			}
			p.deliver(ctx, job, logger)
		case job := <-p.retries.Ready:
			p.deliver(ctx, job, logger)
		case <-ctx.Done():
			return
		}
	}
}

// retryableStatus reports whether an HTTP status code should be retried
// per the delivery protocol: 408, 429, and every 5xx.
func retryableStatus(status int) bool {
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500
}

// deliver executes the full delivery protocol for one job attempt:
// breaker check, rate limit, sign, POST, classify, retry-or-terminal.
func (p *Pool) deliver(ctx context.Context, job types.DeliveryJob, logger zerolog.Logger) {
	attemptLogger := log.WithEndpoint(job.EndpointID)
	timer := metrics.NewTimer()

	switch p.breakers.Admit(job.EndpointID) {
	case decisionShortCircuit:
		p.recordAttempt(job, types.OutcomeBreakerOpen, 0, "breaker_open", timer.Duration())
		metrics.DeliveryAttemptsTotal.WithLabelValues(string(types.OutcomeBreakerOpen)).Inc()
		return
	case decisionProceed, decisionProceedAsProbe:
		// fall through to the HTTP attempt below
	}

	if err := p.limiters.Wait(ctx, job.EndpointID, job.RateLimitPerSecond); err != nil {
		return // ctx canceled while waiting on the token bucket
	}

	status, errKind, err := p.post(ctx, job)
	duration := timer.Duration()
	metrics.DeliveryLatency.Observe(duration.Seconds())

	switch {
	case err == nil && status/100 == 2:
		p.breakers.ReportSuccess(job.EndpointID)
		p.recordAttempt(job, types.OutcomeSuccess, status, "", duration)
		metrics.DeliveryAttemptsTotal.WithLabelValues(string(types.OutcomeSuccess)).Inc()
		return

	case err == nil && !retryableStatus(status):
		p.breakers.ReportSuccess(job.EndpointID) // permanent failure is not an outage signal
		p.recordAttempt(job, types.OutcomePermanentFailure, status, "", duration)
		metrics.DeliveryAttemptsTotal.WithLabelValues(string(types.OutcomePermanentFailure)).Inc()
		return
	}

	// transient: either a retryable status or a transport-level error
	p.breakers.ReportFailure(job.EndpointID)
	p.recordAttempt(job, types.OutcomeTransientFailure, status, errKind, duration)
	metrics.DeliveryAttemptsTotal.WithLabelValues(string(types.OutcomeTransientFailure)).Inc()

	if job.Attempt >= job.MaxRetries {
		attemptLogger.Warn().Int("attempt", job.Attempt).Msg("delivery retries exhausted, dead-lettering")
		metrics.DeliveryDeadLettersTotal.Inc()
		if p.dlq != nil {
			id := fmt.Sprintf("%s:%s", job.EventID, job.EndpointID)
			if data, marshalErr := json.Marshal(job); marshalErr == nil {
				if putErr := p.dlq.PutDeliveryJob(id, data); putErr != nil {
					logger.Error().Err(putErr).Msg("failed to write delivery job to dead-letter store")
				}
			}
		}
		return
	}

	next := job
	next.ReadyAt = time.Now().Add(retryDelay(p.cfg.RetryBase, p.cfg.RetryMaxWait, job.Attempt))
	next.Attempt++
	p.retries.Schedule(next)
}

// retryDelay computes min(base*2^(attempt-1), maxWait) * U(0.8, 1.2).
func retryDelay(base, maxWait time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > maxWait {
			delay = maxWait
			break
		}
	}
	if delay > maxWait {
		delay = maxWait
	}
	jitter := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(delay) * jitter)
}

// post signs and issues the webhook POST, returning the HTTP status (0 if
// the request never got a response), an error-kind label for the audit
// record, and the underlying error if any.
func (p *Pool) post(ctx context.Context, job types.DeliveryJob) (int, string, error) {
	timeout := time.Duration(job.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = p.cfg.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, job.URL, bytes.NewReader(job.Payload))
	if err != nil {
		return 0, "request_build_error", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", Sign(job.HMACSecret, job.Payload))

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return 0, "timeout", err
		}
		return 0, "connection_error", err
	}
	defer resp.Body.Close()

	return resp.StatusCode, "", nil
}

func (p *Pool) recordAttempt(job types.DeliveryJob, outcome types.AttemptOutcome, status int, errKind string, d time.Duration) {
	if p.audit == nil {
		return
	}
	p.audit(types.DeliveryAttempt{
		EventID:     job.EventID,
		EndpointID:  job.EndpointID,
		Attempt:     job.Attempt,
		Outcome:     outcome,
		HTTPStatus:  status,
		ErrorKind:   errKind,
		Duration:    d,
		AttemptedAt: time.Now().UTC(),
	})
}
