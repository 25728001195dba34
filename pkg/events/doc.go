/*
Package events provides an in-memory fan-out broker used to tee the
deduplicator's fresh-event stream to the matcher and the batch persister
independently.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│  Deduplicator → eventCh (buffered) → broadcast loop       │
	│                                        │                  │
	│                          ┌─────────────┴──────────────┐   │
	│                          ▼                             ▼   │
	│                  matcher subscription         persister subscription │
	└────────────────────────────────────────────────────────┘

Both subscribers see every fresh event independently: a slow persister
flush does not stall matching, and vice versa, because each subscription
is its own buffered channel rather than a shared queue with one cursor.

# Usage

	broker := events.NewBroker(10000)
	broker.Start()
	defer broker.Stop()

	matchSub := broker.Subscribe(10000)
	persistSub := broker.Subscribe(10000)

	go func() {
	    for evt := range matchSub {
	        matcher.Match(evt)
	    }
	}()

	broker.Publish(freshEvent)

# Back-pressure

Publish blocks until the broker accepts the event or it is stopped.
Per-subscriber delivery is non-blocking: a subscriber whose buffer is full
drops the event. Consuming stages should size their subscription buffer
to match their own stage's channel capacity so this path is rarely hit.
*/
package events
