package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Command: "kv.set", Args: map[string]interface{}{"key": "a", "value": "1"}},
		{Seq: 2, Command: "kv.set", Args: map[string]interface{}{"key": "b", "value": "2"}},
		{Seq: 3, Command: "kv.delete", Args: map[string]interface{}{"key": "a"}},
		{Seq: 4, Command: "kv.clear"},
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	tests := []struct {
		name      string
		assertion Assertion
		wantErr   bool
	}{
		{"command only", Assertion{Command: "kv.clear"}, false},
		{"subset args", Assertion{Command: "kv.set", Args: map[string]interface{}{"key": "b"}}, false},
		{"all args", Assertion{Command: "kv.set", Args: map[string]interface{}{"key": "a", "value": "1"}}, false},
		{"wrong value", Assertion{Command: "kv.set", Args: map[string]interface{}{"key": "c"}}, true},
		{"missing arg", Assertion{Command: "kv.clear", Args: map[string]interface{}{"key": "a"}}, true},
		{"missing command", Assertion{Command: "kv.get"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.assertion.Type = AssertTraceContains
			err := assertTraceContains(trace, tt.assertion)
			if tt.wantErr {
				var ae *AssertionError
				require.ErrorAs(t, err, &ae)
				assert.Equal(t, AssertTraceContains, ae.Type)
				assert.Len(t, ae.Trace, 4)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Commands: []string{"kv.set", "kv.delete", "kv.clear"}}))
	assert.NoError(t, assertTraceOrder(trace, Assertion{Commands: []string{"kv.set", "kv.clear"}}))

	err := assertTraceOrder(trace, Assertion{Commands: []string{"kv.clear", "kv.set"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kv.clear (pos 4) should be before kv.set (pos 1)")

	err = assertTraceOrder(trace, Assertion{Commands: []string{"kv.set", "kv.get"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing command: kv.get")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Command: "kv.set", Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Command: "kv.get", Count: 0}))

	err := assertTraceCount(trace, Assertion{Command: "kv.set", Count: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kv.set appears 2 times")
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, valuesEqual(int64(3), 3))
	assert.True(t, valuesEqual("x", "x"))
	assert.True(t, valuesEqual(map[string]interface{}{"a": 1}, map[string]interface{}{"a": int64(1)}))
	assert.False(t, valuesEqual("1", 1))
	assert.False(t, valuesEqual(nil, 0))
	assert.False(t, valuesEqual(make(chan int), 1))
}

func TestEvaluateAssertions_MissingContext(t *testing.T) {
	result := NewResult()
	result.Trace = sampleTrace()

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceCount, Command: "kv.clear", Count: 1},
		{Type: AssertFinalState, Key: "a", Absent: true},
		{Type: AssertRecordCount, Count: 4},
		{Type: AssertLastRecord, Seq: 4},
		{Type: "vibes"},
	}, nil)

	require.Len(t, errs, 4)
	assert.Contains(t, errs[0], "final_state requires engine context")
	assert.Contains(t, errs[1], "record_count requires journal context")
	assert.Contains(t, errs[2], "last_record requires engine context")
	assert.Contains(t, errs[3], `unknown assertion type "vibes"`)
}

func TestAssertionError_Message(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "kv.set appears 1 times",
		Actual:   "kv.set appears 0 times",
		Trace:    []TraceEvent{{Seq: 1, Command: "kv.clear"}},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_count")
	assert.Contains(t, msg, "Expected: kv.set appears 1 times")
	assert.Contains(t, msg, "[1] kv.clear")
}
