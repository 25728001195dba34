/*
Package configcache maintains an in-memory, atomically-swapped snapshot of
active endpoint subscriptions loaded from the Postgres configuration
store, and serves it to the matcher without a query in the event hot path.

# Architecture

	Postgres (users/applications/endpoints)
	        │  LoadEndpoints (pgx/sqlx)
	        ▼
	   buildSnapshot          — index by (chain_id, contract_address)
	        │                   plus a per-chain wildcard bucket
	        ▼
	atomic.Pointer[snapshot]  — readers never block, never see a half
	                             built snapshot
	        ▲
	        │ refreshed every RefreshInterval, or immediately on a
	        │ Postgres LISTEN/NOTIFY "config_changed" message
	        │
	     Store.ListenConfigChanged (raw pgx connection)

A snapshot is built in full off to the side and swapped in atomically;
the matcher never observes a partially-updated index.
*/
package configcache
