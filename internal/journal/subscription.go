package journal

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/memstate/internal/metrics"
)

// Subscription is a handle on an ordered record feed.
//
// Close stops future deliveries. It is safe to call more than once and from
// inside the handler. A handler call already running when Close returns is
// allowed to finish; no new call starts afterwards.
type Subscription struct {
	handler Handler
	closed  atomic.Bool
	onClose func()

	// gate is held from the closed check through the handler call, so a
	// delivery that passed the check is visible to Close as running.
	gate    sync.Mutex
	running atomic.Bool

	// next is the lowest sequence number not yet delivered. Only touched
	// while the owning store holds subMu.
	next int64

	logger  *slog.Logger
	metrics *metrics.Collector
}

func newSubscription(from int64, handler Handler, logger *slog.Logger, m *metrics.Collector) *Subscription {
	return &Subscription{
		handler: handler,
		next:    from,
		logger:  logger,
		metrics: m,
	}
}

// NewSubscription returns a subscription whose Close calls onClose once.
// Intended for SubscriptionSource implementations outside this package,
// such as test doubles; handler is not invoked through it.
func NewSubscription(from int64, onClose func()) *Subscription {
	return &Subscription{
		handler: func(Record) {},
		onClose: onClose,
		next:    from,
		logger:  slog.Default(),
	}
}

// Close stops further deliveries.
//
// When no handler call is running, Close waits out any delivery that is
// between its closed check and the handler call. When one is running
// (including a Close from inside the handler), Close returns without
// waiting for it.
func (s *Subscription) Close() {
	if s.closed.Swap(true) {
		return
	}
	if !s.running.Load() {
		// Wait out a delivery that passed its closed check.
		s.gate.Lock()
		s.gate.Unlock()
	}
	if s.onClose != nil {
		s.onClose()
	}
}

// Closed reports whether Close has been called.
func (s *Subscription) Closed() bool {
	return s.closed.Load()
}

// deliver hands rec to the handler unless it was already delivered or the
// subscription is closed. Handler panics are contained here so one broken
// subscriber cannot stop delivery to the others.
func (s *Subscription) deliver(rec Record) {
	s.gate.Lock()
	defer s.gate.Unlock()

	if s.closed.Load() || rec.SequenceNumber < s.next {
		return
	}
	s.next = rec.SequenceNumber + 1

	s.running.Store(true)
	defer s.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			s.metrics.SubscriberPanicked()
			s.logger.Error("subscription handler panicked",
				"seq", rec.SequenceNumber,
				"command_id", rec.CommandID,
				"panic", r,
			)
		}
	}()
	s.handler(rec)
}
