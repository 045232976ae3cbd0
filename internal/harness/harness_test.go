package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestRun_Passing(t *testing.T) {
	scenario := &Scenario{
		Name: "passing",
		Steps: []Step{
			{Command: "kv.set", Args: map[string]interface{}{"key": "a", "value": "1"}, Expect: &ExpectClause{Result: 1}},
			{Command: "kv.set", Args: map[string]interface{}{"key": "b", "value": "2"}},
			{Command: "kv.delete", Args: map[string]interface{}{"key": "a"}, Expect: &ExpectClause{Result: "1"}},
		},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Command: "kv.set", Count: 2},
			{Type: AssertFinalState, Key: "a", Absent: true},
			{Type: AssertFinalState, Key: "b", Value: strPtr("2")},
			{Type: AssertRecordCount, Count: 3},
			{Type: AssertLastRecord, Seq: 3},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)

	require.Len(t, result.Trace, 3)
	for i, ev := range result.Trace {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.NotEmpty(t, ev.CommandID)
		assert.NotEmpty(t, ev.RecordedAt)
	}
	assert.Equal(t, map[string]string{"b": "2"}, result.State)
	assert.Equal(t, int64(3), result.LastRecord)
}

func TestRun_Deterministic(t *testing.T) {
	scenario := &Scenario{
		Name: "deterministic",
		Steps: []Step{
			{Command: "kv.set", Args: map[string]interface{}{"key": "a", "value": "1"}},
			{Command: "kv.clear"},
		},
	}

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, "cmd-000001", first.Trace[0].CommandID)
	assert.Equal(t, "2024-01-01T00:00:00Z", first.Trace[0].RecordedAt)
	assert.Equal(t, "2024-01-01T00:00:01Z", first.Trace[1].RecordedAt)
}

func TestRun_CommandErrorIsJournaled(t *testing.T) {
	scenario := &Scenario{
		Name: "journaled_error",
		Steps: []Step{
			{Command: "kv.delete", Args: map[string]interface{}{"key": "nope"}, Expect: &ExpectClause{Error: "key not found"}},
		},
		Assertions: []Assertion{
			{Type: AssertRecordCount, Count: 1},
			{Type: AssertLastRecord, Seq: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, int64(1), result.Trace[0].Seq)
	assert.Contains(t, result.Trace[0].Error, "key not found")
	assert.Nil(t, result.Trace[0].Result)
}

func TestRun_UnknownCommand(t *testing.T) {
	scenario := &Scenario{
		Name:  "unknown",
		Steps: []Step{{Command: "kv.explode"}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Trace, 1)
	assert.Zero(t, result.Trace[0].Seq)
	assert.Empty(t, result.Trace[0].CommandID)
	assert.NotEmpty(t, result.Trace[0].Error)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "unexpected error")
	assert.Zero(t, result.LastRecord)
}

func TestRun_ExpectMismatch(t *testing.T) {
	tests := []struct {
		name    string
		step    Step
		wantErr string
	}{
		{
			name:    "wrong result",
			step:    Step{Command: "kv.set", Args: map[string]interface{}{"key": "a", "value": "1"}, Expect: &ExpectClause{Result: 7}},
			wantErr: "expected result 7, got 1",
		},
		{
			name:    "error expected but succeeded",
			step:    Step{Command: "kv.set", Args: map[string]interface{}{"key": "a", "value": "1"}, Expect: &ExpectClause{Error: "boom"}},
			wantErr: `expected error containing "boom", got success`,
		},
		{
			name:    "different error",
			step:    Step{Command: "kv.set", Args: map[string]interface{}{"key": "", "value": "1"}, Expect: &ExpectClause{Error: "not found"}},
			wantErr: `expected error containing "not found", got "kv: empty key"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Run(&Scenario{Name: "mismatch", Steps: []Step{tt.step}})
			require.NoError(t, err)
			assert.False(t, result.Pass)
			require.Len(t, result.Errors, 1)
			assert.Contains(t, result.Errors[0], tt.wantErr)
		})
	}
}

func TestRun_FailedAssertions(t *testing.T) {
	scenario := &Scenario{
		Name: "failing_assertions",
		Steps: []Step{
			{Command: "kv.set", Args: map[string]interface{}{"key": "a", "value": "1"}},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Key: "a", Value: strPtr("2")},
			{Type: AssertRecordCount, Count: 5},
			{Type: AssertLastRecord, Seq: 9},
			{Type: AssertTraceContains, Command: "kv.clear"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Len(t, result.Errors, 4)
}
