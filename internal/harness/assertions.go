package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/memstate/internal/engine"
	"github.com/roach88/memstate/internal/models/kv"
	"github.com/roach88/memstate/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %v\n", event.Seq, event.Command, event.Args)
		}
	}

	return buf.String()
}

// assertTraceContains checks if the trace contains a command matching
// the specified name and args (subset match).
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Command == assertion.Command && matchArgs(event.Args, assertion.Args) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("command %s with args %v", assertion.Command, assertion.Args),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if commands first appear in the specified order.
// Commands don't need to be consecutive (intervening commands are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if positions[event.Command] == 0 {
			positions[event.Command] = i + 1 // 1-indexed for readability
		}
	}

	for _, cmd := range assertion.Commands {
		if positions[cmd] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all commands present: %v", assertion.Commands),
				Actual:   fmt.Sprintf("missing command: %s", cmd),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Commands); i++ {
		prev := assertion.Commands[i-1]
		curr := assertion.Commands[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("commands in order: %v", assertion.Commands),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks if the command appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Command == assertion.Command {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s appears %d times", assertion.Command, assertion.Count),
			Actual:   fmt.Sprintf("%s appears %d times", assertion.Command, count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks one key of the live model.
func assertFinalState(e *engine.Engine[*kv.Model], assertion Assertion) error {
	value, ok, err := kv.Get(e, assertion.Key)
	if err != nil {
		return fmt.Errorf("query key %q: %w", assertion.Key, err)
	}

	if assertion.Absent {
		if ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("key %q absent", assertion.Key),
				Actual:   fmt.Sprintf("key %q = %q", assertion.Key, value),
			}
		}
		return nil
	}

	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("key %q = %q", assertion.Key, *assertion.Value),
			Actual:   "key not set",
		}
	}
	if value != *assertion.Value {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("key %q = %q", assertion.Key, *assertion.Value),
			Actual:   fmt.Sprintf("key %q = %q", assertion.Key, value),
		}
	}
	return nil
}

// assertRecordCount checks the number of journaled records.
func assertRecordCount(ctx context.Context, st *store.Store, assertion Assertion) error {
	n, err := st.Count(ctx)
	if err != nil {
		return err
	}
	if n != int64(assertion.Count) {
		return &AssertionError{
			Type:     AssertRecordCount,
			Expected: fmt.Sprintf("%d records", assertion.Count),
			Actual:   fmt.Sprintf("%d records", n),
		}
	}
	return nil
}

// assertLastRecord checks the engine's last applied record number.
func assertLastRecord(e *engine.Engine[*kv.Model], assertion Assertion) error {
	if got := e.LastRecordNumber(); got != assertion.Seq {
		return &AssertionError{
			Type:     AssertLastRecord,
			Expected: fmt.Sprintf("last record %d", assertion.Seq),
			Actual:   fmt.Sprintf("last record %d", got),
		}
	}
	return nil
}

// matchArgs checks if actual args contain all expected args (subset match).
// Extra keys in actual are ignored.
func matchArgs(actual, expected map[string]interface{}) bool {
	for key, expectedVal := range expected {
		actualVal, exists := actual[key]
		if !exists {
			return false
		}
		if !valuesEqual(actualVal, expectedVal) {
			return false
		}
	}
	return true
}

// valuesEqual compares two values by their JSON encoding, so an int from
// YAML equals an int64 returned by a command.
func valuesEqual(actual, expected interface{}) bool {
	a, err := json.Marshal(actual)
	if err != nil {
		return false
	}
	e, err := json.Marshal(expected)
	if err != nil {
		return false
	}
	return string(a) == string(e)
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Ctx    context.Context
	Engine *engine.Engine[*kv.Model]
	Store  *store.Store
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides engine and journal access for state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			if actx == nil || actx.Engine == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires engine context", i)
			} else {
				err = assertFinalState(actx.Engine, assertion)
			}
		case AssertRecordCount:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: record_count requires journal context", i)
			} else {
				err = assertRecordCount(actx.Ctx, actx.Store, assertion)
			}
		case AssertLastRecord:
			if actx == nil || actx.Engine == nil {
				err = fmt.Errorf("assertion[%d]: last_record requires engine context", i)
			} else {
				err = assertLastRecord(actx.Engine, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
