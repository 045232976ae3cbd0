// Package engine implements the memstate command engine.
//
// The engine keeps a model of type M in memory and rebuilds it by replaying
// the journal of commands that produced it. It sequences, journals and
// applies commands; it never snapshots the model.
//
// ARCHITECTURE:
//
// Single Apply Path:
// Every record reaches the model through the engine's journal
// subscription, including records the engine wrote itself. This ensures:
// - One ordered stream per engine, replayed or live
// - Identical models for engines sharing a journal
// - No special case for local writes
//
// Submission Flow:
// 1. Submit registers a Future under a fresh command ID
// 2. The command is queued on the journal writer
// 3. The batch worker persists the batch and assigns sequence numbers
// 4. The record comes back through the subscription, onRecord applies it
// 5. The Future resolves with the command's result
//
// A failed journal write resolves the Future with a durability error and
// consumes no sequence number.
//
// CRITICAL PATTERNS:
//
// Sequence Policy:
// A record whose number is not LastRecordNumber+1 halts the engine unless
// broken sequences are allowed. A halted engine is terminal: it applies
// nothing more and fails every submission with ErrStopped.
//
// Commands:
// Commands must be deterministic and must leave the model unchanged when
// they return an error. The kernel does not roll back.
package engine
