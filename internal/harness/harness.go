package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/roach88/memstate/internal/codec"
	"github.com/roach88/memstate/internal/config"
	"github.com/roach88/memstate/internal/engine"
	"github.com/roach88/memstate/internal/host"
	"github.com/roach88/memstate/internal/journal"
	"github.com/roach88/memstate/internal/models/kv"
	"github.com/roach88/memstate/internal/store"
	"github.com/roach88/memstate/internal/testutil"
)

// Harness is the test execution engine.
// It runs scenarios with a deterministic clock and command IDs.
type Harness struct {
	host   *host.Host[*kv.Model]
	store  *store.Store
	logger *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create fresh in-memory database and host
// 2. Submit steps one at a time, checking expect clauses
// 3. Stamp the trace with journal timestamps
// 4. Replay the journal into a second model and compare
// 5. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	reg := codec.NewRegistry()
	if err := kv.Register(reg); err != nil {
		st.Close()
		return nil, err
	}

	// Suppress logs in tests
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewDeterministicClock(time.Second)

	hst, err := host.Open(ctx, config.Default(), kv.New(), reg,
		host.WithMedium(st),
		host.WithNow(clock.Now),
		host.WithIDGenerator(testutil.NewSequentialIDGenerator("cmd")),
		host.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open host: %w", err)
	}
	defer hst.Close()

	h := &Harness{host: hst, store: st, logger: logger}
	result := NewResult()

	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, err
		}
	}

	if err := h.stampTrace(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	if err := h.verifyReplay(); err != nil {
		result.AddError(err.Error())
	}

	snap, err := kv.Snapshot(hst.Engine())
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot model: %w", err)
	}
	result.State = snap.Data
	result.LastRecord = hst.Engine().LastRecordNumber()

	actx := &AssertionContext{
		Ctx:    ctx,
		Engine: hst.Engine(),
		Store:  st,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

// executeStep submits one command and waits for it.
//
// Command failures are part of the trace, not harness errors; only a
// broken harness returns an error.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	args := step.Args
	if args == nil {
		args = map[string]interface{}{}
	}
	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("step %d: failed to encode args: %w", i, err)
	}

	ev := TraceEvent{
		Command: step.Command,
		Args:    step.Args,
	}

	var value any
	f, err := h.host.Submit(ctx, step.Command, body)
	if err == nil {
		ev.CommandID = f.CommandID()
		value, err = f.Wait(ctx)
		ev.Seq = f.SequenceNumber()
	}
	if err != nil {
		ev.Error = err.Error()
	} else {
		ev.Result = value
	}
	result.AddTrace(ev)

	h.logger.Debug("step completed",
		"step", i,
		"command", step.Command,
		"seq", ev.Seq,
		"error", ev.Error,
	)

	prefix := fmt.Sprintf("step %d (%s)", i, step.Command)
	switch {
	case step.Expect != nil && step.Expect.Error != "":
		if err == nil {
			result.AddError(fmt.Sprintf("%s: expected error containing %q, got success", prefix, step.Expect.Error))
		} else if !strings.Contains(err.Error(), step.Expect.Error) {
			result.AddError(fmt.Sprintf("%s: expected error containing %q, got %q", prefix, step.Expect.Error, err.Error()))
		}
	case err != nil:
		result.AddError(fmt.Sprintf("%s: unexpected error: %v", prefix, err))
	case step.Expect != nil && step.Expect.Result != nil:
		if !valuesEqual(value, step.Expect.Result) {
			result.AddError(fmt.Sprintf("%s: expected result %v, got %v", prefix, step.Expect.Result, value))
		}
	}
	return nil
}

// stampTrace copies journal timestamps onto journaled trace events.
func (h *Harness) stampTrace(ctx context.Context, result *Result) error {
	recorded := make(map[int64]time.Time)
	err := h.store.ReadFrom(ctx, 1, func(e journal.Entry) error {
		recorded[e.Sequence] = e.Timestamp
		return nil
	})
	if err != nil {
		return err
	}

	for i := range result.Trace {
		if ts, ok := recorded[result.Trace[i].Seq]; ok {
			result.Trace[i].RecordedAt = ts.Format(time.RFC3339)
		}
	}
	return nil
}

// verifyReplay rebuilds the model from the journal and compares it with
// the live one.
func (h *Harness) verifyReplay() error {
	js := h.host.Journal()
	replica, err := engine.New(kv.New(), js, js, engine.WithLogger(h.logger))
	if err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}
	defer replica.Close()

	live, err := kv.Snapshot(h.host.Engine())
	if err != nil {
		return err
	}
	replayed, err := kv.Snapshot(replica)
	if err != nil {
		return err
	}

	if replica.LastRecordNumber() != h.host.Engine().LastRecordNumber() {
		return fmt.Errorf("replay diverged: live at record %d, replay at record %d",
			h.host.Engine().LastRecordNumber(), replica.LastRecordNumber())
	}
	if !reflect.DeepEqual(live, replayed) {
		return fmt.Errorf("replay diverged: live model %v, replayed model %v", live, replayed)
	}
	return nil
}
