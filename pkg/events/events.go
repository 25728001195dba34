package events

import (
	"sync"

	"github.com/chainhook/pipeline/pkg/types"
)

// Subscriber is a channel that receives fresh canonical events.
type Subscriber chan types.CanonicalEvent

// Broker tees the deduplicator's output stream to every subscriber
// independently, so the matcher and the batch persister each see the full
// fresh-event stream without one stage's backlog affecting the other's.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan types.CanonicalEvent
	stopCh      chan struct{}
}

// NewBroker creates a new event broker with the given inbound buffer size.
func NewBroker(bufferSize int) *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan types.CanonicalEvent, bufferSize),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker. Subscribers are not closed so that in-flight
// consumers can drain without a nil-channel panic; callers should stop
// reading after observing shutdown via their own context.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel. bufferSize
// should be sized to the consuming stage's own channel so a slow
// subscriber doesn't silently drop events below its own back-pressure
// threshold.
func (b *Broker) Subscribe(bufferSize int) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, bufferSize)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish tees a fresh event to the broker's distribution loop. It blocks
// until accepted or the broker stops, which is the pipeline's sole form of
// back-pressure between the deduplicator and its fan-out consumers.
func (b *Broker) Publish(event types.CanonicalEvent) {
	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

// broadcast is non-blocking per subscriber: a subscriber whose own buffer
// is full drops the event rather than stalling the other subscriber or the
// broker's main loop. Each consuming stage is expected to size its
// subscription buffer to match its own channel capacity so this path is
// rarely exercised in practice.
func (b *Broker) broadcast(event types.CanonicalEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
