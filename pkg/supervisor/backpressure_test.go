package supervisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chainhook/pipeline/pkg/delivery"
	"github.com/chainhook/pipeline/pkg/events"
	"github.com/chainhook/pipeline/pkg/matcher"
	"github.com/chainhook/pipeline/pkg/types"
)

// TestBackpressure_SlowSinkSuspendsWithoutDroppingEvents exercises the
// match stage feeding a delivery pool whose sink blocks every request for
// a while: with a delivery channel of capacity 1, matchStage must suspend
// on the first full-channel send rather than drop anything, and every one
// of the injected events must eventually be delivered once the sink frees
// up.
func TestBackpressure_SlowSinkSuspendsWithoutDroppingEvents(t *testing.T) {
	const total = 100

	release := make(chan struct{})
	var delivered int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		atomic.AddInt64(&delivered, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ep := types.EndpointSubscription{
		EndpointID:         "ep_slow",
		ChainID:            1,
		URL:                srv.URL,
		RateLimitPerSecond: 1000,
		MaxRetries:         1,
		TimeoutSeconds:     30,
		IsActive:           true,
	}
	m := matcher.New(fakeConfigSource{candidates: []types.EndpointSubscription{ep}})

	matcherSub := make(events.Subscriber, total)
	deliveryCh := make(chan types.DeliveryJob, 1)
	s := &Supervisor{matcher: m, matcherSub: matcherSub, deliveryCh: deliveryCh}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.matchStage(ctx)

	pool := delivery.New(deliveryCh, delivery.Config{
		WorkerCount:  5,
		RetryBase:    10 * time.Millisecond,
		RetryMaxWait: 50 * time.Millisecond,
		Breaker:      delivery.DefaultBreakerConfig(),
		Timeout:      5 * time.Second,
	}, nil, nil)
	go pool.Run(ctx)

	for i := 0; i < total; i++ {
		matcherSub <- sampleEvent(1)
	}

	// Give the first few jobs a chance to queue up and block on the sink;
	// nothing should have been delivered yet since the handler is still
	// parked on release.
	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt64(&delivered); got != 0 {
		t.Fatalf("expected no deliveries before the sink is released, got %d", got)
	}

	close(release)

	deadline := time.After(5 * time.Second)
	for {
		if atomic.LoadInt64(&delivered) >= total {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected all %d events to be delivered, got %d", total, atomic.LoadInt64(&delivered))
		case <-time.After(10 * time.Millisecond):
		}
	}
}
