package delivery

import (
	"container/heap"
	"sync"
	"time"

	"github.com/chainhook/pipeline/pkg/types"
)

// delayItem is one entry in the retry heap: a job not ready until ReadyAt.
type delayItem struct {
	job   types.DeliveryJob
	index int
}

type delayHeap []*delayItem

func (h delayHeap) Len() int { return len(h) }
func (h delayHeap) Less(i, j int) bool {
	return h[i].job.ReadyAt.Before(h[j].job.ReadyAt)
}
func (h delayHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *delayHeap) Push(x interface{}) {
	item := x.(*delayItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *delayHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// RetryScheduler holds retryable jobs until their ReadyAt time, then
// delivers them onto Ready without ever blocking a worker goroutine on a
// sleep. A single timer is armed for the soonest pending job.
type RetryScheduler struct {
	Ready chan types.DeliveryJob

	mu     sync.Mutex
	heap   delayHeap
	wake   chan struct{}
	stopCh chan struct{}
}

// NewRetryScheduler creates a scheduler whose Ready channel has the given
// buffer, matching the delivery channel capacity.
func NewRetryScheduler(bufferSize int) *RetryScheduler {
	return &RetryScheduler{
		Ready:  make(chan types.DeliveryJob, bufferSize),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

// Schedule enqueues job for re-delivery at job.ReadyAt.
func (s *RetryScheduler) Schedule(job types.DeliveryJob) {
	s.mu.Lock()
	heap.Push(&s.heap, &delayItem{job: job})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run pops jobs as they become ready and pushes them onto Ready, until
// Stop is called.
func (s *RetryScheduler) Run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		var wait time.Duration
		if len(s.heap) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(s.heap[0].job.ReadyAt)
			if wait < 0 {
				wait = 0
			}
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-timer.C:
			s.drainReady()
		case <-s.wake:
			// heap changed, loop around and re-arm the timer for the new head
		case <-s.stopCh:
			return
		}
	}
}

// drainReady pops every item whose ReadyAt has passed and forwards it.
func (s *RetryScheduler) drainReady() {
	for {
		s.mu.Lock()
		if len(s.heap) == 0 || s.heap[0].job.ReadyAt.After(time.Now()) {
			s.mu.Unlock()
			return
		}
		item := heap.Pop(&s.heap).(*delayItem)
		s.mu.Unlock()

		select {
		case s.Ready <- item.job:
		case <-s.stopCh:
			return
		}
	}
}

// Stop terminates Run and returns every job that was still waiting for its
// next attempt: both jobs parked in the delay heap and jobs already popped
// onto Ready but not yet picked up by a worker. Callers are expected to
// dead-letter whatever comes back rather than drop it on the floor.
func (s *RetryScheduler) Stop() []types.DeliveryJob {
	close(s.stopCh)

	s.mu.Lock()
	pending := make([]types.DeliveryJob, 0, len(s.heap))
	for _, item := range s.heap {
		pending = append(pending, item.job)
	}
	s.heap = nil
	s.mu.Unlock()

	for {
		select {
		case job := <-s.Ready:
			pending = append(pending, job)
		default:
			return pending
		}
	}
}
