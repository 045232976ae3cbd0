// Package journal provides the durable, ordered, subscribable command log.
//
// The Store appends commands through a Batcher so that many logical writes
// share one physical write. Sequence numbers are assigned on the single
// batch worker, which is also the only goroutine that touches the Medium for
// writing. A write is acknowledged only after its batch has been persisted
// and fanned out to live subscriptions.
//
// # Ordering
//
//   - Sequence numbers start at 1 and are contiguous for a store that is the
//     sole sequencer. A failed batch consumes no numbers.
//   - Subscribe replays persisted records >= from, then switches to live
//     delivery. Each subscription remembers the next expected number so a
//     record persisted during replay is never delivered twice.
//   - Handlers run synchronously on the notifying goroutine. A slow handler
//     delays the batch worker and therefore every writer.
//
// # Durability
//
// The Medium decides what "durable" means. The SQLite medium in
// internal/store commits each batch in one transaction with
// synchronous=FULL; MemoryMedium is a test double.
package journal
