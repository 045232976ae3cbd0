// Package host assembles a running engine from settings: the SQLite
// medium, the journal store with its batch writer, the JSON codec and the
// engine itself.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/memstate/internal/codec"
	"github.com/roach88/memstate/internal/config"
	"github.com/roach88/memstate/internal/engine"
	"github.com/roach88/memstate/internal/journal"
	"github.com/roach88/memstate/internal/kernel"
	"github.com/roach88/memstate/internal/metrics"
	"github.com/roach88/memstate/internal/store"
)

type options struct {
	medium     journal.Medium
	logger     *slog.Logger
	metrics    *metrics.Collector
	now        func() time.Time
	ids        journal.IDGenerator
	engineOpts []engine.Option
}

// Option configures Open.
type Option func(*options)

// WithMedium uses m instead of opening the SQLite journal at
// Settings.JournalPath. The host takes ownership of m.
func WithMedium(m journal.Medium) Option {
	return func(o *options) { o.medium = m }
}

// WithLogger sets the logger for every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics attaches a metrics collector to the journal and engine.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// WithNow overrides the journal timestamp source.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator sets the command ID generator.
func WithIDGenerator(g journal.IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

// WithEngineOptions passes extra options to engine.New.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(o *options) { o.engineOpts = append(o.engineOpts, opts...) }
}

// Host owns an engine and the journal it runs on.
type Host[M any] struct {
	engine  *engine.Engine[M]
	journal *journal.Store
	codec   *codec.JSON
	logger  *slog.Logger
}

// Open builds the stack and hydrates model from the whole journal.
func Open[M any](ctx context.Context, settings config.Settings, model M, reg *codec.Registry, opts ...Option) (*Host[M], error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	medium := o.medium
	if medium == nil {
		db, err := store.Open(settings.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("open journal %s: %w", settings.JournalPath, err)
		}
		medium = db
	}

	cdc := codec.NewJSON(reg)

	jopts := []journal.StoreOption{
		journal.WithMaxBatchSize(settings.MaxBatchSize),
		journal.WithMaxQueueLength(settings.MaxBatchQueueLength),
		journal.WithLogger(o.logger),
		journal.WithMetrics(o.metrics),
	}
	if o.now != nil {
		jopts = append(jopts, journal.WithNow(o.now))
	}
	if o.ids != nil {
		jopts = append(jopts, journal.WithIDGenerator(o.ids))
	}

	js, err := journal.NewStore(ctx, medium, cdc, jopts...)
	if err != nil {
		medium.Close()
		return nil, err
	}

	eopts := []engine.Option{
		engine.WithSettings(settings),
		engine.WithLogger(o.logger),
		engine.WithMetrics(o.metrics),
	}
	if o.ids != nil {
		eopts = append(eopts, engine.WithIDGenerator(o.ids))
	}
	eopts = append(eopts, o.engineOpts...)

	eng, err := engine.New(model, js, js, eopts...)
	if err != nil {
		js.Close()
		return nil, err
	}

	return &Host[M]{
		engine:  eng,
		journal: js,
		codec:   cdc,
		logger:  o.logger,
	}, nil
}

// Engine returns the engine.
func (h *Host[M]) Engine() *engine.Engine[M] {
	return h.engine
}

// Journal returns the journal store.
func (h *Host[M]) Journal() *journal.Store {
	return h.journal
}

// Codec returns the command codec.
func (h *Host[M]) Codec() *codec.JSON {
	return h.codec
}

// Submit decodes the named command from its JSON body and submits it.
func (h *Host[M]) Submit(ctx context.Context, name string, body []byte) (*engine.Future, error) {
	v, err := h.codec.Decode(name, body)
	if err != nil {
		return nil, err
	}
	cmd, ok := v.(kernel.Command[M])
	if !ok {
		return nil, fmt.Errorf("command %q (%T) does not apply to this model", name, v)
	}
	return h.engine.Submit(ctx, cmd)
}

// Close drains queued writes into the engine, then closes the engine and
// the medium.
func (h *Host[M]) Close() error {
	jerr := h.journal.Close()
	eerr := h.engine.Close()
	return errors.Join(jerr, eerr)
}
