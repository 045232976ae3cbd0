package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/memstate/internal/codec"
	"github.com/roach88/memstate/internal/config"
	"github.com/roach88/memstate/internal/host"
	"github.com/roach88/memstate/internal/metrics"
	"github.com/roach88/memstate/internal/models/kv"
)

// loadSettings resolves settings from --config and the environment. A
// non-empty db overrides the journal path.
func loadSettings(opts *RootOptions, db string) (config.Settings, error) {
	s, err := config.Load(opts.Config)
	if err != nil {
		return config.Settings{}, WrapExitError(ExitCommandError, "failed to load settings", err)
	}
	if db != "" {
		s.JournalPath = db
	}
	return s, nil
}

// newLogger writes text logs to w. --verbose forces debug level.
func newLogger(opts *RootOptions, w io.Writer, s config.Settings) *slog.Logger {
	level := s.SlogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// requireDatabase fails when path does not exist. Commands that only read
// the journal use it so they never create an empty database.
func requireDatabase(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", path))
		}
		return WrapExitError(ExitCommandError, "failed to stat database", err)
	}
	return nil
}

// kvRegistry returns a registry with the kv commands.
func kvRegistry() (*codec.Registry, error) {
	reg := codec.NewRegistry()
	if err := kv.Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// withHost opens a kv host on the journal at db, runs fn, and closes the
// host. Metrics are served for the duration of fn when --metrics-addr is set.
func withHost(cmd *cobra.Command, opts *RootOptions, db string, fn func(ctx context.Context, h *host.Host[*kv.Model]) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	settings, err := loadSettings(opts, db)
	if err != nil {
		return err
	}
	logger := newLogger(opts, cmd.ErrOrStderr(), settings)

	reg, err := kvRegistry()
	if err != nil {
		return err
	}

	var collector *metrics.Collector
	if opts.MetricsAddr != "" {
		collector = metrics.NewCollector("")
		stop, err := serveMetrics(opts.MetricsAddr, collector, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to serve metrics", err)
		}
		defer stop()
	}

	h, err := host.Open(ctx, settings, kv.New(), reg,
		host.WithLogger(logger),
		host.WithMetrics(collector),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}

	runErr := fn(ctx, h)
	if closeErr := h.Close(); closeErr != nil {
		logger.Error("error closing journal", "error", closeErr)
		if runErr == nil {
			runErr = WrapExitError(ExitFailure, "failed to close journal", closeErr)
		}
	}
	return runErr
}

// serveMetrics serves the collector on addr until stop is called.
func serveMetrics(addr string, c *metrics.Collector, logger *slog.Logger) (stop func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}, nil
}
