// Package store provides the SQLite-backed durable medium for the memstate
// journal.
//
// The store is an append-only table of serialized commands keyed by their
// sequence number. It implements journal.Medium: the journal package owns
// sequencing, batching and subscriptions, the store only persists and reads
// entries.
//
// # Critical Patterns
//
// Atomic Batches:
//   - Append writes a whole batch in one transaction
//   - A failed batch leaves no rows behind and no sequence numbers consumed
//
// Logical Time:
//   - All ordering uses seq INTEGER, NEVER recorded_at
//   - Reads are always ORDER BY seq ASC
//
// Integrity:
//   - Every row carries the checksum computed by the journal
//   - The store does not verify it; readers do
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=FULL: A committed batch survives power loss
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
