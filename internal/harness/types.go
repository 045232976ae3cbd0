package harness

// TraceEvent is one executed step.
type TraceEvent struct {
	// Seq is the record number, 0 if the command never reached the journal.
	Seq        int64                  `json:"seq"`
	CommandID  string                 `json:"command_id,omitempty"`
	Command    string                 `json:"command"`
	RecordedAt string                 `json:"recorded_at,omitempty"`
	Args       map[string]interface{} `json:"args,omitempty"`
	Result     interface{}            `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in step order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the final model contents.
	State map[string]string `json:"state"`

	// LastRecord is the engine's last applied record number.
	LastRecord int64 `json:"last_record"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step to the trace.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
