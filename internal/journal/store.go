package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/memstate/internal/batcher"
	"github.com/roach88/memstate/internal/metrics"
)

// request is one pending write queued in the batcher.
type request struct {
	id   string
	cmd  any
	done AckFunc
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMaxBatchSize caps the number of records per physical write.
func WithMaxBatchSize(n int) StoreOption {
	return func(s *Store) { s.batchOpts = append(s.batchOpts, batcher.WithMaxBatchSize(n)) }
}

// WithMaxQueueLength bounds queued writes before Write blocks.
func WithMaxQueueLength(n int) StoreOption {
	return func(s *Store) { s.batchOpts = append(s.batchOpts, batcher.WithMaxQueueLength(n)) }
}

// WithNow overrides the timestamp source.
func WithNow(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator sets the generator Append uses for command IDs.
func WithIDGenerator(g IDGenerator) StoreOption {
	return func(s *Store) { s.ids = g }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// Store is the command store: a Writer and SubscriptionSource over a Medium.
//
// Thread-safety model:
//   - Write(), Append(), Subscribe(), Close(): safe from any goroutine
//   - Medium writes, sequence assignment and live fan-out: batch worker only
type Store struct {
	medium     Medium
	serializer Serializer
	clock      *Clock
	now        func() time.Time
	ids        IDGenerator
	logger     *slog.Logger
	metrics    *metrics.Collector

	batchOpts []batcher.Option
	batcher   *batcher.Batcher[request]

	// durable is the highest sequence number known to be persisted.
	durable atomic.Int64

	// subMu serializes replay and live fan-out so every subscription sees
	// one ordered stream.
	subMu sync.Mutex
	subs  []*Subscription

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var (
	_ Writer             = (*Store)(nil)
	_ SubscriptionSource = (*Store)(nil)
)

// NewStore opens a command store on medium. Sequence numbering resumes
// after the medium's last persisted record.
func NewStore(ctx context.Context, medium Medium, serializer Serializer, opts ...StoreOption) (*Store, error) {
	if medium == nil {
		return nil, errors.New("journal: medium is required")
	}
	if serializer == nil {
		return nil, errors.New("journal: serializer is required")
	}

	s := &Store{
		medium:     medium,
		serializer: serializer,
		now:        time.Now,
		ids:        UUIDv7Generator{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	last, err := medium.Last(ctx)
	if err != nil {
		return nil, fmt.Errorf("journal: read last sequence: %w", err)
	}
	s.clock = NewClockAt(last)
	s.durable.Store(last)

	s.batchOpts = append(s.batchOpts,
		batcher.WithLogger(s.logger),
		batcher.WithDiscard(s.abandon),
	)
	s.batcher = batcher.New(s.writeBatch, s.batchOpts...)

	s.logger.Debug("journal opened", "last_seq", last)
	return s, nil
}

// Write enqueues cmd. It blocks while the write queue is full.
// done runs on the batch worker; it must not block on this store.
func (s *Store) Write(ctx context.Context, id string, cmd any, done AckFunc) error {
	if done == nil {
		done = func(Record, error) {}
	}
	err := s.batcher.Add(ctx, request{id: id, cmd: cmd, done: done})
	if errors.Is(err, batcher.ErrClosed) {
		return ErrClosed
	}
	return err
}

// Append journals cmd under a generated ID and waits until it is durable.
//
// If ctx ends after the command was queued, Append returns ctx.Err() but
// the command may still be persisted.
func (s *Store) Append(ctx context.Context, cmd any) (Record, error) {
	type result struct {
		rec Record
		err error
	}
	ch := make(chan result, 1)

	if err := s.Write(ctx, s.ids.Generate(), cmd, func(rec Record, err error) {
		ch <- result{rec: rec, err: err}
	}); err != nil {
		return Record{}, err
	}

	select {
	case res := <-ch:
		return res.rec, res.err
	case <-ctx.Done():
		return Record{}, ctx.Err()
	}
}

// Subscribe replays persisted records >= from to handler, then delivers
// every newly written record until the subscription is closed.
//
// Replay runs on the calling goroutine before Subscribe returns. A record
// that fails its checksum or cannot be deserialized aborts the
// subscription with an error wrapping ErrCorruptRecord.
func (s *Store) Subscribe(from int64, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("journal: handler is required")
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	sub := newSubscription(from, handler, s.logger, s.metrics)

	s.subMu.Lock()
	defer s.subMu.Unlock()

	replayed := 0
	err := s.medium.ReadFrom(context.Background(), from, func(e Entry) error {
		rec, err := s.decode(e)
		if err != nil {
			return err
		}
		sub.deliver(rec)
		s.metrics.RecordReplayed()
		replayed++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal: subscribe from %d: %w", from, err)
	}

	s.subs = append(s.subs, sub)
	s.logger.Debug("subscription started", "from", from, "replayed", replayed)
	return sub, nil
}

// Done returns a channel closed when the batch worker has exited, after
// Close or after a worker failure.
func (s *Store) Done() <-chan struct{} {
	return s.batcher.Done()
}

// Err returns the batch worker failure once the worker has exited, nil
// while it runs or after a clean Close.
func (s *Store) Err() error {
	return s.batcher.Err()
}

// LastSequence returns the highest persisted sequence number.
func (s *Store) LastSequence() int64 {
	return s.durable.Load()
}

// Close stops accepting writes, persists everything already queued, then
// closes the medium.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		batchErr := s.batcher.Close()
		mediumErr := s.medium.Close()
		s.closeErr = errors.Join(batchErr, mediumErr)
		s.logger.Debug("journal closed", "last_seq", s.durable.Load())
	})
	return s.closeErr
}

// writeBatch is the batch handler. It runs only on the batch worker.
//
// Per-command serialization failures fail that command only. A medium
// failure fails every command in the batch and rewinds the clock, so the
// next batch reuses the same sequence numbers. Neither is fatal for the
// worker. A panic is: every command of the batch not yet acknowledged is
// failed with ErrWorkerFailed and the panic is returned as the worker error.
func (s *Store) writeBatch(reqs []request) (err error) {
	acked := make([]bool, len(reqs))
	ack := func(i int, rec Record, err error) {
		acked[i] = true
		reqs[i].done(rec, err)
	}
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err = fmt.Errorf("%w: %v", ErrWorkerFailed, r)
		for i := range reqs {
			if !acked[i] {
				ack(i, Record{}, err)
			}
		}
	}()

	start := time.Now()
	base := s.clock.Current()
	ts := s.now().UTC()

	entries := make([]Entry, 0, len(reqs))
	records := make([]Record, 0, len(reqs))
	owners := make([]int, 0, len(reqs))

	for i, req := range reqs {
		payload, err := s.serializer.Serialize(req.cmd)
		if err != nil {
			ack(i, Record{}, fmt.Errorf("journal: serialize command %s: %w", req.id, err))
			continue
		}
		seq := s.clock.Next()
		entries = append(entries, Entry{
			Sequence:  seq,
			Timestamp: ts,
			CommandID: req.id,
			Payload:   payload,
			Checksum:  Checksum(seq, ts, req.id, payload),
		})
		records = append(records, Record{
			SequenceNumber: seq,
			Timestamp:      ts,
			CommandID:      req.id,
			Command:        req.cmd,
		})
		owners = append(owners, i)
	}

	if len(entries) == 0 {
		return nil
	}

	if err := s.medium.Append(context.Background(), entries); err != nil {
		s.clock.Reset(base)
		s.metrics.BatchWritten(len(entries), time.Since(start), err)
		s.logger.Error("journal batch write failed",
			"error", err,
			"first_seq", entries[0].Sequence,
			"size", len(entries),
		)
		werr := fmt.Errorf("%w: %w", ErrWriteFailed, err)
		for _, i := range owners {
			ack(i, Record{}, werr)
		}
		return nil
	}

	s.durable.Store(records[len(records)-1].SequenceNumber)
	s.metrics.BatchWritten(len(entries), time.Since(start), nil)
	s.logger.Debug("journal batch written",
		"first_seq", entries[0].Sequence,
		"size", len(entries),
	)

	s.fanOut(records)

	for j, i := range owners {
		ack(i, records[j], nil)
	}
	return nil
}

// abandon fails writes still queued when the batch worker died.
func (s *Store) abandon(reqs []request, cause error) {
	err := cause
	if !errors.Is(err, ErrWorkerFailed) {
		err = fmt.Errorf("%w: %w", ErrWorkerFailed, cause)
	}
	for _, req := range reqs {
		req.done(Record{}, err)
	}
}

// fanOut delivers records to live subscriptions and drops closed ones.
func (s *Store) fanOut(records []Record) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	live := s.subs[:0]
	for _, sub := range s.subs {
		if sub.Closed() {
			continue
		}
		for _, rec := range records {
			sub.deliver(rec)
		}
		live = append(live, sub)
	}
	for i := len(live); i < len(s.subs); i++ {
		s.subs[i] = nil
	}
	s.subs = live
}

// decode turns a persisted entry back into a record.
func (s *Store) decode(e Entry) (Record, error) {
	if !e.Verify() {
		return Record{}, fmt.Errorf("record %d: %w: checksum mismatch", e.Sequence, ErrCorruptRecord)
	}
	cmd, err := s.serializer.Deserialize(e.Payload)
	if err != nil {
		return Record{}, fmt.Errorf("record %d: %w: %w", e.Sequence, ErrCorruptRecord, err)
	}
	return Record{
		SequenceNumber: e.Sequence,
		Timestamp:      e.Timestamp,
		CommandID:      e.CommandID,
		Command:        cmd,
	}, nil
}
