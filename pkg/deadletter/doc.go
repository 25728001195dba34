/*
Package deadletter is the embedded, on-disk sink for work items that have
exhausted their retry budget: persister batches that repeatedly fail to
flush to the columnar store, and delivery jobs that exhaust max_retries
or are still awaiting a retry when the delivery pool shuts down.

Entries are namespaced by bucket (one per producer) and keyed by a
caller-supplied id, so a batch or job can be looked up and replayed by an
operator without scanning the whole store. The store is a single BoltDB
file; writes are transactional but there is no background compaction —
operators are expected to periodically export and truncate it.
*/
package deadletter
