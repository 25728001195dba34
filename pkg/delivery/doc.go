/*
Package delivery consumes delivery jobs, signs and POSTs webhook payloads,
and enforces per-endpoint rate limiting, retry, and circuit breaking.

# Delivery Protocol

For each job: consult the endpoint's circuit breaker; if Open and the
cooldown has elapsed, allow a single HalfOpen probe, otherwise fail the
attempt without an HTTP call. Wait for a token from the endpoint's rate
limiter. Sign the payload with HMAC-SHA256 and POST it. Classify the
outcome: 2xx is success; 4xx other than 408/429 is a permanent failure;
408, 429, 5xx, and transport errors are transient and scheduled for
retry with exponential backoff and jitter, up to the job's max_retries.

Every attempt, regardless of outcome, is recorded via the audit hook
passed to New.

# Retry Scheduling

Re-enqueue uses a delay heap (container/heap) keyed on ready-at rather
than sleeping a worker goroutine, so the worker pool stays fully
available for jobs that are ready now.
*/
package delivery
