// Package ledger implements the append-only, hash-chained record of
// inventory-affecting business events.
//
// Entry 0 chains from GenesisHash (64 hex zeros). Every entry carries the
// digest of its canonical payload and an entry hash over its sequence
// number, predecessor hash, payload hash, timestamp, signer and action, so
// that any out-of-band edit is detectable via VerifyChain.
//
// Storage is pluggable through Store:
//   - MemoryStore: in-process, for tests and development.
//   - PostgresStore: durable, conditional INSERT on the chain tail.
//   - MongoStore: durable, unique sequence index on a document collection.
//   - BreakerStore: circuit-breaker decorator for either durable store.
package ledger
