package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/memstate/internal/engine"
	"github.com/roach88/memstate/internal/host"
	"github.com/roach88/memstate/internal/models/kv"
)

// BenchOptions holds flags for the bench command.
type BenchOptions struct {
	*RootOptions
	Database    string
	Commands    int
	Concurrency int
	Keys        int
}

// BenchResult holds the benchmark result.
type BenchResult struct {
	Commands    int     `json:"commands"`
	Concurrency int     `json:"concurrency"`
	Failed      int     `json:"failed"`
	FirstRecord int64   `json:"first_record"`
	LastRecord  int64   `json:"last_record"`
	ElapsedMS   int64   `json:"elapsed_ms"`
	PerSecond   float64 `json:"per_second"`
}

// NewBenchCommand creates the bench command.
func NewBenchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BenchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure command throughput",
		Long: `Submit kv.set commands from concurrent submitters and report throughput.

Each submitter submits its share without waiting, then waits for every
future. Throughput includes journaling, batching and applying.

Examples:
  memstate bench --db /tmp/bench.db -n 100000 -c 8
  memstate bench --db /tmp/bench.db -n 10000 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (default from settings)")
	cmd.Flags().IntVarP(&opts.Commands, "commands", "n", 10000, "number of commands to submit")
	cmd.Flags().IntVarP(&opts.Concurrency, "concurrency", "c", 4, "number of concurrent submitters")
	cmd.Flags().IntVar(&opts.Keys, "keys", 1000, "number of distinct keys written")

	return cmd
}

func runBench(opts *BenchOptions, cmd *cobra.Command) error {
	if opts.Commands <= 0 || opts.Concurrency <= 0 || opts.Keys <= 0 {
		return NewExitError(ExitCommandError, "--commands, --concurrency and --keys must be positive")
	}

	return withHost(cmd, opts.RootOptions, opts.Database, func(ctx context.Context, h *host.Host[*kv.Model]) error {
		eng := h.Engine()
		first := eng.LastRecordNumber() + 1

		start := time.Now()
		failed, err := submitAll(ctx, eng, opts)
		if err != nil {
			return WrapExitError(ExitFailure, "bench aborted", err)
		}
		elapsed := time.Since(start)

		result := BenchResult{
			Commands:    opts.Commands,
			Concurrency: opts.Concurrency,
			Failed:      failed,
			FirstRecord: first,
			LastRecord:  eng.LastRecordNumber(),
			ElapsedMS:   elapsed.Milliseconds(),
		}
		if elapsed > 0 {
			result.PerSecond = float64(opts.Commands) / elapsed.Seconds()
		}

		if opts.Format == "json" {
			return writeResponse(cmd.OutOrStdout(), result, nil)
		}
		return outputBenchText(cmd, result)
	})
}

// submitAll spreads opts.Commands over opts.Concurrency submitters and
// returns how many commands failed. A submission error aborts the run.
func submitAll(ctx context.Context, eng *engine.Engine[*kv.Model], opts *BenchOptions) (int, error) {
	failures := make([]int, opts.Concurrency)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < opts.Concurrency; w++ {
		w := w
		g.Go(func() error {
			futures := make([]*engine.Future, 0, opts.Commands/opts.Concurrency+1)
			for i := w; i < opts.Commands; i += opts.Concurrency {
				f, err := eng.Submit(gctx, kv.Set{
					Key:   fmt.Sprintf("key-%d", i%opts.Keys),
					Value: fmt.Sprintf("value-%d", i),
				})
				if err != nil {
					return err
				}
				futures = append(futures, f)
			}
			for _, f := range futures {
				if _, err := f.Wait(gctx); err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					failures[w]++
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	total := 0
	for _, n := range failures {
		total += n
	}
	return total, nil
}

// outputBenchText outputs the benchmark result with grouped digits.
func outputBenchText(cmd *cobra.Command, result BenchResult) error {
	p := message.NewPrinter(language.English)
	w := cmd.OutOrStdout()

	p.Fprintf(w, "Commands:    %d (%d submitters)\n", result.Commands, result.Concurrency)
	p.Fprintf(w, "Records:     %d..%d\n", result.FirstRecord, result.LastRecord)
	p.Fprintf(w, "Elapsed:     %d ms\n", result.ElapsedMS)
	p.Fprintf(w, "Throughput:  %.0f commands/s\n", result.PerSecond)

	if result.Failed > 0 {
		p.Fprintf(w, "✗ %d command(s) failed\n", result.Failed)
		return NewExitError(ExitFailure, fmt.Sprintf("%d command(s) failed", result.Failed))
	}
	return nil
}
