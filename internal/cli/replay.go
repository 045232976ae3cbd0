package cli

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/roach88/memstate/internal/codec"
	"github.com/roach88/memstate/internal/config"
	"github.com/roach88/memstate/internal/engine"
	"github.com/roach88/memstate/internal/journal"
	"github.com/roach88/memstate/internal/models/kv"
	"github.com/roach88/memstate/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
}

// ReplayResult holds the replay result.
type ReplayResult struct {
	Records       int64 `json:"records"`
	LastRecord    int64 `json:"last_record"`
	Keys          int   `json:"keys"`
	Version       int64 `json:"version"`
	Deterministic bool  `json:"deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the journal and verify determinism",
		Long: `Replay the journal into a fresh model and verify determinism.

This command verifies every record checksum, replays the journal twice
into fresh models and compares the results. A broken sequence or a
corrupt record fails the replay unless allow_broken_sequence is set.

Exit codes:
  0 - Replay succeeded and is deterministic
  1 - Replay failed or the two replays differ
  2 - Command error (database not found, etc.)

Examples:
  memstate replay --db ./memstate.db
  memstate replay --db ./memstate.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (default from settings)")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	settings, err := loadSettings(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	if err := requireDatabase(settings.JournalPath); err != nil {
		return err
	}
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr(), settings)

	st, err := store.Open(settings.JournalPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	records, err := st.Count(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count records", err)
	}

	reg, err := kvRegistry()
	if err != nil {
		return err
	}

	first, err := replayOnce(ctx, st, reg, settings, logger)
	if err != nil {
		return replayFailed(cmd, opts, err)
	}
	second, err := replayOnce(ctx, st, reg, settings, logger)
	if err != nil {
		return replayFailed(cmd, opts, err)
	}

	result := ReplayResult{
		Records:       records,
		LastRecord:    first.last,
		Keys:          len(first.model.Data),
		Version:       first.model.Version,
		Deterministic: first.last == second.last && reflect.DeepEqual(first.model, second.model),
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result)
	}
	return outputReplayText(cmd, result, opts.Verbose)
}

type replayState struct {
	model *kv.Model
	last  int64
}

// replayOnce hydrates a fresh model from the whole journal.
func replayOnce(ctx context.Context, st *store.Store, reg *codec.Registry, settings config.Settings, logger *slog.Logger) (replayState, error) {
	js, err := journal.NewStore(ctx, sharedMedium{st}, codec.NewJSON(reg), journal.WithLogger(logger))
	if err != nil {
		return replayState{}, err
	}
	defer js.Close()

	eng, err := engine.New(kv.New(), js, js,
		engine.WithSettings(settings),
		engine.WithLogger(logger),
	)
	if err != nil {
		return replayState{}, err
	}
	defer eng.Close()

	snap, err := kv.Snapshot(eng)
	if err != nil {
		return replayState{}, err
	}
	return replayState{model: snap, last: eng.LastRecordNumber()}, nil
}

// sharedMedium keeps the medium open when a journal store over it closes.
type sharedMedium struct {
	journal.Medium
}

func (sharedMedium) Close() error { return nil }

func replayFailed(cmd *cobra.Command, opts *ReplayOptions, err error) error {
	if opts.Format == "json" {
		_ = writeResponse(cmd.OutOrStdout(), nil, &CLIError{
			Code:    "E_REPLAY",
			Message: err.Error(),
		})
	}
	return WrapExitError(ExitFailure, "replay failed", err)
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	var failure *CLIError
	if !result.Deterministic {
		failure = &CLIError{
			Code:    "E_DETERMINISM",
			Message: "determinism verification failed",
		}
	}

	if err := writeResponse(cmd.OutOrStdout(), result, failure); err != nil {
		return err
	}

	if !result.Deterministic {
		// Determinism failure = exit code 1
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	if result.Records == 0 {
		fmt.Fprintln(w, "No records found in journal.")
		return nil
	}

	fmt.Fprintf(w, "Replay Summary: %d record(s), last record %d\n", result.Records, result.LastRecord)
	if verbose {
		fmt.Fprintf(w, "  Keys: %d\n", result.Keys)
		fmt.Fprintf(w, "  Version: %d\n", result.Version)
	}
	if result.Records != result.LastRecord {
		fmt.Fprintln(w, "  Warning: record count and last record differ (broken sequence accepted)")
	}

	if result.Deterministic {
		fmt.Fprintln(w, "✓ Replay verified deterministic")
		return nil
	}

	fmt.Fprintln(w, "✗ Determinism verification failed")
	// Determinism failure = exit code 1
	return NewExitError(ExitFailure, "determinism verification failed")
}
