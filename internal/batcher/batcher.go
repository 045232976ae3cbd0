// Package batcher coalesces items from many producers into ordered groups
// delivered to a single consumer.
//
// A Batcher owns one worker goroutine and a bounded queue. Producers block in
// Add while the queue is full, so a slow consumer throttles them instead of
// growing memory. Close stops intake, drains everything already queued and
// waits for the worker, so no accepted item is ever dropped. If the handler
// fails, the worker stops and items still queued go to the discard function
// instead.
package batcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Default limits used when no option overrides them.
const (
	DefaultMaxBatchSize   = 1000
	DefaultMaxQueueLength = 10000
)

// ErrClosed is returned by Add after Close has been called.
var ErrClosed = errors.New("batcher closed")

// Handler consumes one group of items. The slice is owned by the handler.
// A non-nil error is fatal for the batcher.
type Handler[T any] func(items []T) error

type config struct {
	maxBatchSize   int
	maxQueueLength int
	logger         *slog.Logger
	discard        any
}

// Option configures a Batcher.
type Option func(*config)

// WithMaxBatchSize caps the number of items delivered per group.
// Values below 1 are ignored.
func WithMaxBatchSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxBatchSize = n
		}
	}
}

// WithMaxQueueLength bounds buffered-but-undelivered items.
// Values below 1 are ignored.
func WithMaxQueueLength(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxQueueLength = n
		}
	}
}

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDiscard sets the function that receives items still queued when the
// worker fails. fn must be a func([]T, error) for the Batcher's item type;
// any other value is ignored. It is called once, on the worker goroutine,
// with the worker failure.
func WithDiscard[T any](fn func(items []T, err error)) Option {
	return func(c *config) {
		c.discard = fn
	}
}

// Batcher delivers items to a handler in groups of at most MaxBatchSize.
//
// Thread-safety model:
//   - Add(): safe from any goroutine
//   - Close(): safe from any goroutine, idempotent
//   - handler: always called from the single worker goroutine
type Batcher[T any] struct {
	maxBatchSize int
	handler      Handler[T]
	discard      func([]T, error)
	logger       *slog.Logger

	// mu guards closed and the close of items. Add holds the read lock
	// while sending so Close never closes the channel under a sender.
	mu     sync.RWMutex
	closed bool
	items  chan T

	failed    chan struct{} // closed when the handler fails
	done      chan struct{} // closed when the worker exits
	err       error         // worker failure, written before failed is closed
	closeOnce sync.Once
}

// New creates a Batcher and starts its worker.
func New[T any](handler Handler[T], opts ...Option) *Batcher[T] {
	cfg := config{
		maxBatchSize:   DefaultMaxBatchSize,
		maxQueueLength: DefaultMaxQueueLength,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	b := &Batcher[T]{
		maxBatchSize: cfg.maxBatchSize,
		handler:      handler,
		logger:       cfg.logger,
		items:        make(chan T, cfg.maxQueueLength),
		failed:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	if fn, ok := cfg.discard.(func([]T, error)); ok {
		b.discard = fn
	}
	go b.run()
	return b
}

// Add enqueues item, blocking while the queue is full.
//
// Returns ErrClosed once Close has been called, the worker failure if the
// worker has died, or ctx.Err() if ctx ends while waiting for room.
func (b *Batcher[T]) Add(ctx context.Context, item T) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return b.failure()
	}

	// Fast path avoids the select when there is room.
	select {
	case b.items <- item:
		return nil
	default:
	}

	select {
	case b.items <- item:
		return nil
	case <-b.failed:
		return b.failure()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops intake, drains queued items through the handler and waits
// for the worker to exit. It returns the worker failure, if any.
func (b *Batcher[T]) Close() error {
	b.closeOnce.Do(func() {
		b.logger.Debug("batcher closing")

		// Waits for in-flight Adds; they complete because the worker keeps
		// draining (or has failed, which unblocks them via failed).
		b.shut()
	})

	<-b.done
	b.logger.Debug("batcher closed")
	return b.err
}

// Done returns a channel closed when the worker has exited.
func (b *Batcher[T]) Done() <-chan struct{} {
	return b.done
}

// Err returns the worker failure once the worker has exited, nil otherwise.
func (b *Batcher[T]) Err() error {
	select {
	case <-b.done:
		return b.err
	default:
		return nil
	}
}

// shut stops intake. Safe to call from both Close and a failing worker.
func (b *Batcher[T]) shut() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.items)
	}
}

// failure is the error Add reports once intake has stopped. Callers hold
// the read lock with closed set, or have observed failed.
func (b *Batcher[T]) failure() error {
	select {
	case <-b.failed:
		return b.err
	default:
		return ErrClosed
	}
}

// run is the worker loop. It exits when items is closed and empty, or when
// the handler fails.
func (b *Batcher[T]) run() {
	defer close(b.done)

	for {
		first, ok := <-b.items
		if !ok {
			return
		}

		batch := make([]T, 0, b.maxBatchSize)
		batch = append(batch, first)

	drain:
		for len(batch) < b.maxBatchSize {
			select {
			case item, ok := <-b.items:
				if !ok {
					break drain
				}
				batch = append(batch, item)
			default:
				break drain
			}
		}

		if err := b.deliver(batch); err != nil {
			b.fail(err, len(batch))
			return
		}
	}
}

// fail records the worker failure, stops intake and hands every item still
// queued to the discard function.
func (b *Batcher[T]) fail(err error, batchSize int) {
	b.err = err
	close(b.failed)
	b.shut()

	var rest []T
	for item := range b.items {
		rest = append(rest, item)
	}
	b.logger.Error("batcher worker failed",
		"error", err,
		"batch_size", batchSize,
		"discarded", len(rest),
	)
	if len(rest) > 0 && b.discard != nil {
		b.discard(rest, err)
	}
}

func (b *Batcher[T]) deliver(batch []T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch handler panicked: %v", r)
		}
	}()
	if err := b.handler(batch); err != nil {
		return fmt.Errorf("batch handler: %w", err)
	}
	return nil
}
