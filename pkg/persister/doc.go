/*
Package persister buffers canonical events and flushes them to the
columnar store in size- or time-triggered batches.

A batch flushes when it reaches BatchSize events or when BatchTimeout
has elapsed since the first event in the current batch was buffered,
whichever comes first. A flush failure is retried with a short fixed
backoff up to FlushRetries times; beyond that, the batch is written to
the dead-letter store and the persister moves on to the next batch.
Persistence failure never blocks ingestion — Run only ever reads from
its input channel and writes to the columnar store or the dead-letter
store, never back upstream.
*/
package persister
