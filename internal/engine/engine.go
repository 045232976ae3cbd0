package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/memstate/internal/config"
	"github.com/roach88/memstate/internal/journal"
	"github.com/roach88/memstate/internal/kernel"
	"github.com/roach88/memstate/internal/metrics"
)

// State is the engine lifecycle state.
type State int

const (
	// StateRunning accepts submissions and applies records.
	StateRunning State = iota + 1
	// StateStopped is terminal: a structural failure halted the engine.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type options struct {
	allowBroken bool
	next        int64
	ids         journal.IDGenerator
	logger      *slog.Logger
	metrics     *metrics.Collector
}

// Option configures an Engine.
type Option func(*options)

// WithSettings applies the engine-level fields of settings.
func WithSettings(s config.Settings) Option {
	return func(o *options) {
		o.allowBroken = s.AllowBrokenSequence
	}
}

// WithAllowBrokenSequence sets the broken-sequence policy.
//
// When allowed, any record that is not LastRecordNumber+1 is applied and
// becomes the new LastRecordNumber. That includes a record at or below the
// current position (a duplicate or a rewound journal): it is applied again
// and LastRecordNumber moves backwards.
//
// Default: false, a gap halts the engine.
func WithAllowBrokenSequence(allow bool) Option {
	return func(o *options) {
		o.allowBroken = allow
	}
}

// WithNextRecord sets the resume point: the first sequence number the
// engine expects. LastRecordNumber starts at next-1.
//
// Default: 1, which replays a whole journal into a fresh model.
func WithNextRecord(next int64) Option {
	return func(o *options) {
		o.next = next
	}
}

// WithIDGenerator sets the command ID generator.
func WithIDGenerator(g journal.IDGenerator) Option {
	return func(o *options) {
		o.ids = g
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// Engine sequences, journals and applies commands against a model of type M.
//
// Local submissions are written to the journal and come back through the
// engine's own subscription, the same path that carries records from other
// writers. Records are applied one at a time under the apply lock, so
// futures resolve in sequence-number order.
//
// Thread-safety model:
//   - Submit(), Execute(), Query(), LastRecordNumber(), State(): safe from any goroutine
//   - onRecord(): called by the subscription source, serialized by mu
//   - watchWriter(): one goroutine per engine whose writer can fail
//
// INVARIANTS:
//   - LastRecordNumber only moves after a record was durable and applied
//   - Once stopped, no record is applied and every submission fails
type Engine[M any] struct {
	kernel      *kernel.Kernel[M]
	writer      journal.Writer
	sub         *journal.Subscription
	allowBroken bool
	ids         journal.IDGenerator
	logger      *slog.Logger
	metrics     *metrics.Collector

	// mu is the apply lock. It guards kernel and stopErr.
	mu      sync.Mutex
	last    atomic.Int64
	stopErr error
	stopped atomic.Bool
	closed  atomic.Bool

	pendingMu sync.Mutex
	pending   map[string]*Future

	quit chan struct{} // closed by Close
}

// failureReporter is implemented by writers whose background worker can
// die, such as *journal.Store.
type failureReporter interface {
	Done() <-chan struct{}
	Err() error
}

// New creates an engine over model and hydrates it.
//
// The engine subscribes to source at the resume point; replay of persisted
// records happens before New returns. A replay failure, or a structural
// failure during replay, is returned as an error.
func New[M any](model M, source journal.SubscriptionSource, writer journal.Writer, opts ...Option) (*Engine[M], error) {
	o := options{
		next:   1,
		ids:    journal.UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine[M]{
		kernel:      kernel.New(model),
		writer:      writer,
		allowBroken: o.allowBroken,
		ids:         o.ids,
		logger:      o.logger,
		metrics:     o.metrics,
		pending:     make(map[string]*Future),
		quit:        make(chan struct{}),
	}
	e.last.Store(o.next - 1)

	sub, err := source.Subscribe(o.next, e.onRecord)
	if err != nil {
		return nil, fmt.Errorf("engine: hydrate from %d: %w", o.next, err)
	}
	e.sub = sub

	if err := e.Err(); err != nil {
		sub.Close()
		return nil, fmt.Errorf("engine: hydrate from %d: %w", o.next, err)
	}

	if r, ok := writer.(failureReporter); ok {
		go e.watchWriter(r)
	}

	e.logger.Info("engine started",
		"last_record", e.last.Load(),
		"allow_broken_sequence", e.allowBroken,
	)
	return e, nil
}

// Submit journals cmd and returns a future for its result.
//
// Submit returns once the command is queued for the journal; it blocks
// only while the journal's write queue is full. It fails immediately when
// the engine is stopped or closed.
func (e *Engine[M]) Submit(ctx context.Context, cmd kernel.Command[M]) (*Future, error) {
	if err := e.admit(); err != nil {
		return nil, err
	}

	id := e.ids.Generate()
	f := newFuture(id)

	e.pendingMu.Lock()
	e.pending[id] = f
	e.pendingMu.Unlock()

	// A stop racing with registration would miss this future.
	if err := e.admit(); err != nil {
		e.take(id)
		return nil, err
	}

	err := e.writer.Write(ctx, id, cmd, func(_ journal.Record, err error) {
		if err != nil {
			e.fail(id, NewDurabilityError(err))
		}
	})
	if err != nil {
		e.take(id)
		return nil, fmt.Errorf("engine: submit: %w", err)
	}

	e.metrics.CommandSubmitted()
	return f, nil
}

// Execute submits cmd and waits for its result.
func (e *Engine[M]) Execute(ctx context.Context, cmd kernel.Command[M]) (any, error) {
	f, err := e.Submit(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return f.Wait(ctx)
}

// Query runs fn against the model under the apply lock.
// Queries are not journaled and must not mutate the model.
func (e *Engine[M]) Query(fn func(model M) (any, error)) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.kernel.Query(fn)
}

// LastRecordNumber returns the sequence number of the last applied record.
func (e *Engine[M]) LastRecordNumber() int64 {
	return e.last.Load()
}

// State returns the current lifecycle state.
func (e *Engine[M]) State() State {
	if e.stopped.Load() {
		return StateStopped
	}
	return StateRunning
}

// Err returns the failure that stopped the engine, nil while running.
func (e *Engine[M]) Err() error {
	if !e.stopped.Load() {
		return nil
	}
	return e.stopErr
}

// Close detaches the engine from its subscription and fails futures that
// are still pending. Close the journal first so queued writes drain into
// the engine before it detaches.
func (e *Engine[M]) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	close(e.quit)
	if e.sub != nil {
		e.sub.Close()
	}
	// Wait out a record being applied.
	e.mu.Lock()
	e.mu.Unlock()

	e.failAll(ErrClosed)
	e.logger.Info("engine closed", "last_record", e.last.Load())
	return nil
}

// watchWriter stops the engine when the writer's worker dies.
func (e *Engine[M]) watchWriter(r failureReporter) {
	select {
	case <-r.Done():
	case <-e.quit:
		return
	}
	err := r.Err()
	if err == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stop(NewJournalFailedError(err))
}

func (e *Engine[M]) admit() error {
	if e.closed.Load() {
		return ErrClosed
	}
	if err := e.Err(); err != nil {
		return NewStoppedError(err)
	}
	return nil
}

// onRecord applies one record. It is the subscription handler.
func (e *Engine[M]) onRecord(rec journal.Record) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped.Load() {
		e.fail(rec.CommandID, NewStoppedError(e.stopErr))
		return
	}

	expected := e.last.Load() + 1
	if rec.SequenceNumber != expected {
		if !e.allowBroken {
			e.metrics.BrokenSequence(false)
			e.stop(NewBrokenSequenceError(expected, rec.SequenceNumber))
			return
		}
		e.metrics.BrokenSequence(true)
		msg := "sequence gap accepted"
		if rec.SequenceNumber < expected {
			msg = "sequence rewind accepted"
		}
		e.logger.Warn(msg,
			"expected", expected,
			"seq", rec.SequenceNumber,
		)
	}

	cmd, ok := rec.Command.(kernel.Command[M])
	if !ok {
		e.stop(NewUnknownCommandError(rec.SequenceNumber, rec.Command))
		return
	}

	result, err := e.kernel.Execute(cmd)
	e.last.Store(rec.SequenceNumber)
	e.metrics.RecordApplied(rec.SequenceNumber, err)

	if err != nil {
		e.logger.Debug("command failed",
			"seq", rec.SequenceNumber,
			"command_id", rec.CommandID,
			"error", err,
		)
	}

	if f := e.take(rec.CommandID); f != nil {
		f.resolve(rec.SequenceNumber, result, err)
	}
}

// stop halts the engine. Called with mu held.
func (e *Engine[M]) stop(cause error) {
	if e.stopped.Load() {
		return
	}
	e.stopErr = cause
	e.stopped.Store(true)
	e.metrics.EngineStopped()
	e.logger.Error("engine stopped",
		"error", cause,
		"last_record", e.last.Load(),
	)
	e.failAll(NewStoppedError(cause))
}

func (e *Engine[M]) take(id string) *Future {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()

	f, ok := e.pending[id]
	if !ok {
		return nil
	}
	delete(e.pending, id)
	return f
}

func (e *Engine[M]) fail(id string, err error) {
	if f := e.take(id); f != nil {
		f.resolve(0, nil, err)
	}
}

func (e *Engine[M]) failAll(err error) {
	e.pendingMu.Lock()
	pending := e.pending
	e.pending = make(map[string]*Future)
	e.pendingMu.Unlock()

	for _, f := range pending {
		f.resolve(0, nil, err)
	}
}
