package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chainhook/pipeline/pkg/deadletter"
	"github.com/chainhook/pipeline/pkg/types"
)

func sampleJob(url string) types.DeliveryJob {
	return types.DeliveryJob{
		EventID:            "evt_1",
		EndpointID:         "ep_1",
		URL:                url,
		HMACSecret:         []byte("s3cret"),
		MaxRetries:         3,
		TimeoutSeconds:     5,
		RateLimitPerSecond: 100,
		Payload:            []byte(`{"id":"evt_1"}`),
		Attempt:            1,
		ReadyAt:            time.Now(),
	}
}

func TestDeliver_SuccessRecordsAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Webhook-Signature") == "" {
			t.Error("expected signature header")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var attempts []types.DeliveryAttempt
	var mu sync.Mutex
	audit := func(a types.DeliveryAttempt) {
		mu.Lock()
		attempts = append(attempts, a)
		mu.Unlock()
	}

	in := make(chan types.DeliveryJob, 1)
	p := New(in, DefaultConfig(), audit, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	in <- sampleJob(srv.URL)

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(attempts)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected a delivery attempt to be recorded")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts[0].Outcome != types.OutcomeSuccess {
		t.Errorf("expected success, got %s", attempts[0].Outcome)
	}
	cancel()
}

func TestDeliver_RetryThenSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var attempts []types.DeliveryAttempt
	audit := func(a types.DeliveryAttempt) {
		mu.Lock()
		attempts = append(attempts, a)
		mu.Unlock()
	}

	cfg := DefaultConfig()
	cfg.RetryBase = 10 * time.Millisecond
	cfg.RetryMaxWait = 50 * time.Millisecond

	in := make(chan types.DeliveryJob, 1)
	p := New(in, cfg, audit, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	in <- sampleJob(srv.URL)

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(attempts)
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected 2 attempts, got %d", len(attempts))
		default:
			time.Sleep(time.Millisecond)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts[0].Outcome != types.OutcomeTransientFailure {
		t.Errorf("expected first attempt transient failure, got %s", attempts[0].Outcome)
	}
	if attempts[1].Outcome != types.OutcomeSuccess {
		t.Errorf("expected second attempt success, got %s", attempts[1].Outcome)
	}
}

func TestDeliver_PermanentFailureNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var attempts []types.DeliveryAttempt
	audit := func(a types.DeliveryAttempt) {
		mu.Lock()
		attempts = append(attempts, a)
		mu.Unlock()
	}

	in := make(chan types.DeliveryJob, 1)
	p := New(in, DefaultConfig(), audit, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	in <- sampleJob(srv.URL)

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != 1 {
		t.Fatalf("expected exactly one attempt for a permanent failure, got %d", len(attempts))
	}
	if attempts[0].Outcome != types.OutcomePermanentFailure {
		t.Errorf("expected permanent failure, got %s", attempts[0].Outcome)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected exactly one HTTP call, got %d", calls)
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var attempts []types.DeliveryAttempt
	audit := func(a types.DeliveryAttempt) {
		mu.Lock()
		attempts = append(attempts, a)
		mu.Unlock()
	}

	cfg := DefaultConfig()
	cfg.Breaker.FailThreshold = 5
	cfg.Breaker.Cooldown = time.Minute

	in := make(chan types.DeliveryJob, 10)
	p := New(in, cfg, audit, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	for i := 0; i < 5; i++ {
		job := sampleJob(srv.URL)
		job.MaxRetries = 0
		job.EventID = "evt_distinct"
		in <- job
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(attempts)
		mu.Unlock()
		if n >= 5 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected 5 attempts, got %d", len(attempts))
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if got := p.breakers.State("ep_1"); got != types.BreakerOpen {
		t.Fatalf("expected breaker to be Open after %d consecutive failures, got %s", cfg.Breaker.FailThreshold, got)
	}

	sixth := sampleJob(srv.URL)
	sixth.MaxRetries = 0
	in <- sixth

	deadline = time.After(time.Second)
	for {
		mu.Lock()
		n := len(attempts)
		mu.Unlock()
		if n >= 6 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected a sixth attempt record")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts[5].Outcome != types.OutcomeBreakerOpen {
		t.Errorf("expected sixth attempt to be short-circuited, got %s", attempts[5].Outcome)
	}
}

func TestDeliver_PerEndpointTimeoutOverridesPoolDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(150 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var attempts []types.DeliveryAttempt
	audit := func(a types.DeliveryAttempt) {
		mu.Lock()
		attempts = append(attempts, a)
		mu.Unlock()
	}

	cfg := DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond // shorter than the endpoint's own timeout below

	in := make(chan types.DeliveryJob, 1)
	p := New(in, cfg, audit, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	job := sampleJob(srv.URL)
	job.TimeoutSeconds = 1 // endpoint-configured timeout, well above cfg.Timeout
	job.MaxRetries = 0
	in <- job

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(attempts)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected a delivery attempt to be recorded")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts[0].Outcome != types.OutcomeSuccess {
		t.Errorf("expected the endpoint's own timeout_seconds to be used (success despite a slow handler), got %s", attempts[0].Outcome)
	}
}

func TestPoolRun_DeadLettersPendingRetriesOnShutdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	dlq, err := deadletter.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open dead-letter store: %v", err)
	}
	defer dlq.Close()

	cfg := DefaultConfig()
	cfg.RetryBase = time.Hour // keep the retry parked in the heap, not delivered again
	cfg.RetryMaxWait = time.Hour

	in := make(chan types.DeliveryJob, 1)
	p := New(in, cfg, nil, dlq)
	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	job := sampleJob(srv.URL)
	job.MaxRetries = 3
	in <- job

	// give the first attempt time to fail and land back in the retry heap
	time.Sleep(150 * time.Millisecond)

	cancel()

	deadline := time.After(2 * time.Second)
	for {
		jobs, err := dlq.ListDeliveryJobs()
		if err != nil {
			t.Fatalf("list jobs: %v", err)
		}
		if len(jobs) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected the pending retry to be dead-lettered on shutdown, got %d jobs", len(jobs))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRetryDelay_WithinBounds(t *testing.T) {
	base := 2 * time.Second
	maxWait := 60 * time.Second
	d := retryDelay(base, maxWait, 1)
	if d < time.Duration(float64(base)*0.8) || d > time.Duration(float64(base)*1.2) {
		t.Errorf("first retry delay %v out of bounds around base %v", d, base)
	}
}

func TestSign_Deterministic(t *testing.T) {
	a := Sign([]byte("secret"), []byte("payload"))
	b := Sign([]byte("secret"), []byte("payload"))
	if a != b {
		t.Error("expected signature to be deterministic for the same input")
	}
	c := Sign([]byte("other"), []byte("payload"))
	if a == c {
		t.Error("expected different secrets to produce different signatures")
	}
}
