/*
Package health provides a small checker abstraction used to monitor the
reachability of the pipeline's external dependencies: the Postgres
configuration store, the Redis dedup store, the columnar event store, and
(optionally) individual webhook sinks during incident triage.

# Architecture

	Checker (interface)
	├── HTTPChecker  — issue a request, healthy on 2xx/3xx
	└── TCPChecker   — dial an address, healthy on connect

Neither checker carries its own timeout: Monitor wraps every Check call
in a context deadline taken from that dependency's Config.Timeout, so a
slow Redis or columnar-store response is cut off centrally instead of
each checker reinventing its own clock.

# Core Components

Result carries the outcome of a single check. Status tracks a stream of
results over time with hysteresis: Retries consecutive failures are
required before the component flips to unhealthy, and a single success
flips it back, which avoids flapping on transient network blips.

Config{Interval, Timeout, Retries, StartPeriod} mirrors the shape used
elsewhere in this codebase for anything that runs on a ticker with a
grace period.

Monitor drives a set of Dependency{Name, Checker, Config} on independent
ticker loops and calls OnChange on the first check and on any
healthy/unhealthy transition. The supervisor wires it to the Redis dedup
store (TCPChecker) and the columnar event store's insert endpoint
(HTTPChecker, HEAD).

# Usage

	checker := health.NewTCPChecker("redis:6379")
	status := health.NewStatus()
	cfg := health.DefaultConfig()

	result := checker.Check(ctx)
	status.Update(result, cfg)
	if !status.Healthy {
	    // surface on /ready
	}

# Integration Points

The supervisor's readiness endpoint aggregates one Status per dependency
and reports unhealthy overall if any required dependency is unhealthy.
*/
package health
