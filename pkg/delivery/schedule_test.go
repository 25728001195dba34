package delivery

import (
	"testing"
	"time"

	"github.com/chainhook/pipeline/pkg/types"
)

func TestRetryScheduler_DeliversInReadyOrder(t *testing.T) {
	s := NewRetryScheduler(10)
	go s.Run()
	defer s.Stop()

	now := time.Now()
	s.Schedule(types.DeliveryJob{EventID: "late", ReadyAt: now.Add(60 * time.Millisecond)})
	s.Schedule(types.DeliveryJob{EventID: "early", ReadyAt: now.Add(10 * time.Millisecond)})

	var got []string
	deadline := time.After(time.Second)
	for len(got) < 2 {
		select {
		case job := <-s.Ready:
			got = append(got, job.EventID)
		case <-deadline:
			t.Fatalf("expected 2 jobs, got %v", got)
		}
	}

	if got[0] != "early" || got[1] != "late" {
		t.Errorf("expected early before late, got %v", got)
	}
}

func TestRetryScheduler_DoesNotDeliverBeforeReady(t *testing.T) {
	s := NewRetryScheduler(10)
	go s.Run()
	defer s.Stop()

	s.Schedule(types.DeliveryJob{EventID: "future", ReadyAt: time.Now().Add(200 * time.Millisecond)})

	select {
	case <-s.Ready:
		t.Fatal("job delivered before its ReadyAt")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRetryScheduler_StopReturnsPendingJobs(t *testing.T) {
	s := NewRetryScheduler(10)
	go s.Run()

	s.Schedule(types.DeliveryJob{EventID: "still-waiting", ReadyAt: time.Now().Add(time.Hour)})

	// give Run a moment to pick up the schedule before we stop it
	time.Sleep(20 * time.Millisecond)

	pending := s.Stop()
	if len(pending) != 1 || pending[0].EventID != "still-waiting" {
		t.Fatalf("expected Stop to return the still-pending job, got %v", pending)
	}
}

func TestRetryScheduler_StopReturnsJobsAlreadyOnReady(t *testing.T) {
	s := NewRetryScheduler(10)
	go s.Run()

	s.Schedule(types.DeliveryJob{EventID: "ready-but-unconsumed", ReadyAt: time.Now()})

	deadline := time.After(time.Second)
	for {
		s.mu.Lock()
		queued := len(s.Ready)
		s.mu.Unlock()
		if queued > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected the job to land on Ready before Stop")
		case <-time.After(time.Millisecond):
		}
	}

	pending := s.Stop()
	if len(pending) != 1 || pending[0].EventID != "ready-but-unconsumed" {
		t.Fatalf("expected Stop to return the unconsumed ready job, got %v", pending)
	}
}
