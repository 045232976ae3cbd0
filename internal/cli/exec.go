package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/memstate/internal/engine"
	"github.com/roach88/memstate/internal/host"
	"github.com/roach88/memstate/internal/kernel"
	"github.com/roach88/memstate/internal/models/kv"
)

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	Database string
	Args     string // JSON body for exec submit
}

// ExecResult is the outcome of one exec subcommand.
type ExecResult struct {
	Command    string      `json:"command"`
	Seq        int64       `json:"seq,omitempty"`
	Result     interface{} `json:"result,omitempty"`
	LastRecord int64       `json:"last_record"`
}

// NewExecCommand creates the exec command and its subcommands.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Execute commands against the key/value model",
		Long: `Execute commands against the key/value model.

The model is rebuilt from the journal, the command is journaled and
applied, then the journal is closed. get and keys are queries and are not
journaled.

Examples:
  memstate exec --db ./memstate.db set color amber
  memstate exec --db ./memstate.db get color
  memstate exec --db ./memstate.db submit kv.delete --args '{"key":"color"}'`,
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite journal (default from settings)")

	cmd.AddCommand(
		newExecSubcommand(opts, "set <key> <value>", "Set a key", 2, func(args []string) (string, kernel.Command[*kv.Model]) {
			return kv.SetName, kv.Set{Key: args[0], Value: args[1]}
		}),
		newExecSubcommand(opts, "delete <key>", "Delete a key", 1, func(args []string) (string, kernel.Command[*kv.Model]) {
			return kv.DeleteName, kv.Delete{Key: args[0]}
		}),
		newExecSubcommand(opts, "clear", "Remove every key", 0, func([]string) (string, kernel.Command[*kv.Model]) {
			return kv.ClearName, kv.Clear{}
		}),
		newExecGetCommand(opts),
		newExecKeysCommand(opts),
		newExecSubmitCommand(opts),
	)

	return cmd
}

func newExecSubcommand(opts *ExecOptions, use, short string, nargs int, build func([]string) (string, kernel.Command[*kv.Model])) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.ExactArgs(nargs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, command := build(args)
			return withHost(cmd, opts.RootOptions, opts.Database, func(ctx context.Context, h *host.Host[*kv.Model]) error {
				f, err := h.Engine().Submit(ctx, command)
				if err != nil {
					return WrapExitError(ExitFailure, "submit failed", err)
				}
				return finishExec(ctx, cmd, opts, h, name, f)
			})
		},
	}
}

func newExecSubmitCommand(opts *ExecOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "submit <command>",
		Short:         "Submit a registered command by name",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHost(cmd, opts.RootOptions, opts.Database, func(ctx context.Context, h *host.Host[*kv.Model]) error {
				f, err := h.Submit(ctx, args[0], []byte(opts.Args))
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid command", err)
				}
				return finishExec(ctx, cmd, opts, h, args[0], f)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Args, "args", "{}", "command body as JSON")

	return cmd
}

func finishExec(ctx context.Context, cmd *cobra.Command, opts *ExecOptions, h *host.Host[*kv.Model], name string, f *engine.Future) error {
	value, err := f.Wait(ctx)
	if err != nil {
		if opts.Format == "json" {
			_ = writeResponse(cmd.OutOrStdout(), nil, &CLIError{Code: "E_COMMAND", Message: err.Error()})
		}
		return WrapExitError(ExitFailure, fmt.Sprintf("%s failed", name), err)
	}

	result := ExecResult{
		Command:    name,
		Seq:        f.SequenceNumber(),
		Result:     value,
		LastRecord: h.Engine().LastRecordNumber(),
	}
	return outputExec(cmd, opts, result)
}

func newExecGetCommand(opts *ExecOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get <key>",
		Short:         "Print the value of a key",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHost(cmd, opts.RootOptions, opts.Database, func(_ context.Context, h *host.Host[*kv.Model]) error {
				value, ok, err := kv.Get(h.Engine(), args[0])
				if err != nil {
					return WrapExitError(ExitFailure, "query failed", err)
				}
				if !ok {
					return NewExitError(ExitFailure, fmt.Sprintf("key not found: %s", args[0]))
				}
				return outputExec(cmd, opts, ExecResult{
					Command:    "get",
					Result:     value,
					LastRecord: h.Engine().LastRecordNumber(),
				})
			})
		},
	}
}

func newExecKeysCommand(opts *ExecOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "keys",
		Short:         "List keys in order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHost(cmd, opts.RootOptions, opts.Database, func(_ context.Context, h *host.Host[*kv.Model]) error {
				keys, err := kv.Keys(h.Engine())
				if err != nil {
					return WrapExitError(ExitFailure, "query failed", err)
				}
				if opts.Format == "json" {
					return writeResponse(cmd.OutOrStdout(), ExecResult{
						Command:    "keys",
						Result:     keys,
						LastRecord: h.Engine().LastRecordNumber(),
					}, nil)
				}
				w := cmd.OutOrStdout()
				for _, k := range keys {
					fmt.Fprintln(w, k)
				}
				return nil
			})
		},
	}
}

// outputExec prints the result of an exec subcommand.
func outputExec(cmd *cobra.Command, opts *ExecOptions, result ExecResult) error {
	if opts.Format == "json" {
		return writeResponse(cmd.OutOrStdout(), result, nil)
	}

	w := cmd.OutOrStdout()
	if result.Result != nil {
		fmt.Fprintln(w, result.Result)
	}
	if opts.Verbose && result.Seq != 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "applied at record %d\n", result.Seq)
	}
	return nil
}
