/*
Package chainsubscriber maintains one persistent log subscription per
configured EVM chain and emits canonical events onto a bounded channel.

# State Machine

	Disconnected → Connecting → Subscribed → (Disconnected on error/close)
	                          ↘ Polling    ↗

A failed dial, or an error while polling, sends the subscriber back to
Disconnected, where it reconnects with exponential backoff (doubling from
InitialReconnectDelay, capped, ±20% jitter). After MaxReconnectAttempts
consecutive failures Run returns a non-nil error for the supervisor to
treat as fatal for that chain; other chains are unaffected.

# Polling Fallback

When a chain has no WebsocketURL, or its websocket log subscription
can't be established or drops after being established, the subscriber
falls back to polling eth_getLogs over HTTP instead of treating it as a
reconnect-worthy error. It tracks the highest block number it has ever
forwarded an event for (lastBlock) and, on a PollInterval tick, fetches
the current head and pulls only [lastBlock+1, head] — it never rescans
further back than its own last-seen block, and seeds lastBlock from the
current head (rather than from zero) the first time it starts polling
with nothing seen yet.

Sending a canonical event onto the output channel blocks when the
channel is full — this is the pipeline's only back-pressure mechanism
upstream of the network read, so a slow downstream stage eventually
stalls the subscriber's read loop rather than dropping events.
*/
package chainsubscriber
