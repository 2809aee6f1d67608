// Package ledger is the append-only, hash-chained, signed evidence store.
// Every gate decision, burn-rate evaluation, noise-control event and trust
// event lands here as a Receipt whose prev_hash links it to the previous
// record in its partition.
//
// Appends are serialized per partition; reads run concurrently with
// appends and re-verify each record's signature and chain linkage. A
// record that fails verification is diverted to a quarantine sink — never
// deleted, never silently skipped — and the read halts with a
// ChainIntegrityViolation carrying the last-known-good sequence number.
//
// Storage is behind the Backend interface so the chain logic is testable
// without real storage: sqlite for durability, newline-delimited JSON for
// the interchange format, and an in-memory backend for tests.
package ledger
