package journal

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClosed is returned when writing to or subscribing on a closed store.
	ErrClosed = errors.New("journal closed")

	// ErrCorruptRecord marks a persisted record that cannot be read back:
	// checksum mismatch or undecodable payload. It is fatal for replay.
	ErrCorruptRecord = errors.New("corrupt journal record")

	// ErrWriteFailed wraps a medium failure reported to every write in the
	// failed batch.
	ErrWriteFailed = errors.New("journal write failed")

	// ErrWorkerFailed marks writes lost because the batch worker crashed.
	// The store accepts no further writes once it is reported.
	ErrWorkerFailed = errors.New("journal worker failed")
)

// Record is a command tagged with its sequence number and timestamp.
// Records are immutable once created.
type Record struct {
	SequenceNumber int64
	Timestamp      time.Time
	CommandID      string
	Command        any
}

// Entry is the persisted form of a Record.
type Entry struct {
	Sequence  int64
	Timestamp time.Time
	CommandID string
	Payload   []byte
	Checksum  string
}

// Serializer converts commands to bytes and back.
// It must round-trip every command type the application registers.
type Serializer interface {
	Serialize(cmd any) ([]byte, error)
	Deserialize(data []byte) (any, error)
}

// Medium is an append-only durable sink for entries.
//
// Append persists the whole group atomically: either every entry is durable
// when it returns nil, or none is. ReadFrom calls fn for every entry with
// Sequence >= from in increasing order and stops at the first fn error.
// Last returns the highest persisted sequence number, 0 when empty.
type Medium interface {
	Append(ctx context.Context, entries []Entry) error
	ReadFrom(ctx context.Context, from int64, fn func(Entry) error) error
	Last(ctx context.Context) (int64, error)
	Close() error
}

// AckFunc is called once per write with the durable record or the failure.
type AckFunc func(Record, error)

// Handler receives records from a subscription.
type Handler func(Record)

// Writer accepts commands for durable, ordered journaling.
//
// Write enqueues cmd under the caller-chosen id and returns once the command
// has been accepted; done is called after the record is durable and has been
// delivered to live subscriptions, or with the failure.
type Writer interface {
	Write(ctx context.Context, id string, cmd any, done AckFunc) error
}

// SubscriptionSource delivers records in sequence order starting at from,
// first replaying persisted records and then live ones.
type SubscriptionSource interface {
	Subscribe(from int64, handler Handler) (*Subscription, error)
}
