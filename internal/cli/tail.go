package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/memstate/internal/codec"
	"github.com/roach88/memstate/internal/journal"
	"github.com/roach88/memstate/internal/store"
)

// TailOptions holds flags for the tail command.
type TailOptions struct {
	*RootOptions
	Database string
	From     int64
	Limit    int
	Since    string // RFC3339 time or a duration before now

	// Now overrides the clock used to resolve a relative --since (for testing).
	Now func() time.Time
}

// TailEntry is one journal record as printed by tail.
type TailEntry struct {
	Seq        int64           `json:"seq"`
	RecordedAt time.Time       `json:"recorded_at"`
	CommandID  string          `json:"command_id"`
	Command    string          `json:"command,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
	Checksum   string          `json:"checksum"`
	Valid      bool            `json:"valid"`
	Error      string          `json:"error,omitempty"`
}

// TailResult holds the tail output.
type TailResult struct {
	Entries []TailEntry `json:"entries"`
	Invalid int         `json:"invalid"`
}

var errTailLimit = errors.New("tail limit reached")

// NewTailCommand creates the tail command.
func NewTailCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TailOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print journal records",
		Long: `Print journal records in sequence order.

Each record is checked against its checksum and decoded with the
registered command types. Records that fail either check are reported
as invalid.

Exit codes:
  0 - All printed records are valid
  1 - One or more records are invalid
  2 - Command error (database not found, bad flags, etc.)

Examples:
  memstate tail --db ./memstate.db
  memstate tail --db ./memstate.db --from 100 --limit 20
  memstate tail --db ./memstate.db --since 15m
  memstate tail --db ./memstate.db --since 2024-01-01T00:00:00Z --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (default from settings)")
	cmd.Flags().Int64Var(&opts.From, "from", 1, "first sequence number to print")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum records to print (0 = all)")
	cmd.Flags().StringVar(&opts.Since, "since", "", "only records at or after this time (RFC3339 or duration, e.g. 15m)")

	return cmd
}

func runTail(opts *TailOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, "--limit must be non-negative")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	var since time.Time
	if opts.Since != "" {
		t, err := parseSince(opts.Since, now())
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --since", err)
		}
		since = t
	}

	settings, err := loadSettings(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	if err := requireDatabase(settings.JournalPath); err != nil {
		return err
	}

	st, err := store.Open(settings.JournalPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	reg, err := kvRegistry()
	if err != nil {
		return err
	}
	cdc := codec.NewJSON(reg)

	result := TailResult{Entries: []TailEntry{}}
	collect := func(e journal.Entry) error {
		if e.Sequence < opts.From {
			return nil
		}
		if opts.Limit > 0 && len(result.Entries) >= opts.Limit {
			return errTailLimit
		}
		entry := describeEntry(cdc, reg, e)
		if !entry.Valid {
			result.Invalid++
		}
		result.Entries = append(result.Entries, entry)
		return nil
	}

	if opts.Since != "" {
		err = st.ReadSince(ctx, since, collect)
	} else {
		err = st.ReadFrom(ctx, opts.From, collect)
	}
	if err != nil && !errors.Is(err, errTailLimit) {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	if opts.Format == "json" {
		return outputTailJSON(cmd, result)
	}
	return outputTailText(cmd, result, opts.Verbose)
}

// parseSince accepts an RFC3339 timestamp or a duration counted back from now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC3339 nor a duration", s)
	}
	if d < 0 {
		return time.Time{}, fmt.Errorf("duration %q is negative", s)
	}
	return now.Add(-d), nil
}

// describeEntry verifies and decodes one entry.
func describeEntry(cdc *codec.JSON, reg *codec.Registry, e journal.Entry) TailEntry {
	out := TailEntry{
		Seq:        e.Sequence,
		RecordedAt: e.Timestamp.UTC(),
		CommandID:  e.CommandID,
		Checksum:   e.Checksum,
	}

	if !e.Verify() {
		out.Error = "checksum mismatch"
		return out
	}

	cmd, err := cdc.Deserialize(e.Payload)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	name, err := reg.Name(cmd)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	body, err := json.Marshal(cmd)
	if err != nil {
		out.Error = err.Error()
		return out
	}

	out.Command = name
	out.Body = body
	out.Valid = true
	return out
}

// outputTailJSON outputs the tail result as JSON.
func outputTailJSON(cmd *cobra.Command, result TailResult) error {
	var failure *CLIError
	if result.Invalid > 0 {
		failure = &CLIError{
			Code:    "E_CORRUPT",
			Message: fmt.Sprintf("%d invalid record(s)", result.Invalid),
		}
	}

	if err := writeResponse(cmd.OutOrStdout(), result, failure); err != nil {
		return err
	}

	if result.Invalid > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d invalid record(s)", result.Invalid))
	}
	return nil
}

// outputTailText outputs the tail result as text, one record per line.
func outputTailText(cmd *cobra.Command, result TailResult, verbose bool) error {
	w := cmd.OutOrStdout()

	if len(result.Entries) == 0 {
		fmt.Fprintln(w, "No records found.")
		return nil
	}

	for _, e := range result.Entries {
		ts := e.RecordedAt.Format(time.RFC3339Nano)
		if !e.Valid {
			fmt.Fprintf(w, "%d  %s  %s  ✗ %s\n", e.Seq, ts, e.CommandID, e.Error)
			continue
		}
		fmt.Fprintf(w, "%d  %s  %s  %s %s\n", e.Seq, ts, e.CommandID, e.Command, e.Body)
		if verbose {
			fmt.Fprintf(w, "    checksum: %s\n", e.Checksum)
		}
	}

	if result.Invalid > 0 {
		fmt.Fprintf(w, "\n✗ %d invalid record(s)\n", result.Invalid)
		return NewExitError(ExitFailure, fmt.Sprintf("%d invalid record(s)", result.Invalid))
	}
	return nil
}
