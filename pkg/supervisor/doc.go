// Package supervisor wires the five pipeline stages together and owns their
// lifecycle: it spawns one chain subscriber per configured chain, the
// dedup+matcher fan-out stage, the batch persister, and the delivery pool,
// then propagates a broadcast shutdown on ctx cancellation, capping the
// drain at a bounded grace period before returning.
//
// It also runs a self-latency health monitor: a ticker that wakes on a
// fixed interval and flags runtime starvation if its own wake-up is
// consistently late, independent of and diagnostic only with respect to
// the data-plane stages it supervises.
package supervisor
