/*
Package log provides structured logging for the pipeline using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support
filtering by severity level for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("chain-subscriber")        │          │
	│  │  - WithChain(137)                           │          │
	│  │  - WithEndpoint("ep_abc123")                │          │
	│  │  - WithEvent("evt_def456")                  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │  {"level":"info","component":"delivery",    │          │
	│  │   "endpoint_id":"ep_abc123",                │          │
	│  │   "time":"2026-08-01T10:30:00Z",           │          │
	│  │   "message":"delivery succeeded"}           │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Log Levels

  - Debug: detailed tracing, development only
  - Info: default production level (event matched, delivery succeeded)
  - Warn: recoverable anomalies (reconnect, retry scheduled)
  - Error: failed operations needing investigation
  - Fatal: unrecoverable startup errors (os.Exit(1))

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})
	log.Info("pipeline starting")

	subLog := log.WithComponent("chain-subscriber").With().
		Int64("chain_id", 137).Logger()
	subLog.Info().Msg("subscribed to logs")

	epLog := log.WithEndpoint(job.EndpointID)
	epLog.Warn().Err(err).Int("attempt", job.Attempt).Msg("delivery attempt failed")

# Design Patterns

Global logger pattern: a single package-level Logger, initialized once in
main, accessible from every package without being threaded through call
signatures.

Context logger pattern: WithComponent/WithChain/WithEndpoint/WithEvent
return a child zerolog.Logger with the field baked in, so callers don't
repeat it on every line.

# Security

Never log HMAC secrets, webhook URLs with embedded credentials, or raw
event payload bytes at Info level or above; log the event id and size
instead.
*/
package log
