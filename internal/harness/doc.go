// Package harness runs scripted command scenarios against the engine.
//
// Each scenario runs on a fresh in-memory SQLite journal with a
// deterministic clock and sequential command IDs, so its trace is
// byte-identical across runs and can be compared against golden files.
// After the steps run, the harness rebuilds the model by replaying the
// journal into a second engine and fails the scenario if the two models
// differ.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	steps:
//	  - command: kv.set
//	    args: { key: color, value: teal }
//	    expect:
//	      result: 1
//	  - command: kv.delete
//	    args: { key: missing }
//	    expect:
//	      error: key not found
//	assertions:
//	  - type: trace_count
//	    command: kv.set
//	    count: 1
//	  - type: final_state
//	    key: color
//	    value: teal
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - trace_contains: A command appears in the trace with matching args
//   - trace_order: Commands appear in the specified order
//   - trace_count: A command appears exactly N times
//   - final_state: A key holds a value, or is absent
//   - record_count: The journal holds exactly N records
//   - last_record: The engine's last applied record number
//
// # Golden Files
//
// RunWithGolden compares the trace against testdata/golden/<name>.golden.
// Regenerate with:
//
//	go test ./internal/harness -update
package harness
