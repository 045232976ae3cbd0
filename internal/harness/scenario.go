package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of commands with expectations.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Steps are submitted one at a time, each waiting for the previous one.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace, journal and model.
	Assertions []Assertion `yaml:"assertions"`
}

// Step submits one command.
type Step struct {
	// Command is the registered wire name (e.g., "kv.set").
	Command string `yaml:"command"`

	// Args is the command body. Omit for commands without fields.
	Args map[string]interface{} `yaml:"args,omitempty"`

	// Expect specifies the expected outcome.
	// If nil, the step must succeed and its result is not checked.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Result is compared with the command's result by JSON value.
	Result interface{} `yaml:"result,omitempty"`

	// Error, when set, must be a substring of the step's error.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates trace, journal or model state after the steps ran.
type Assertion struct {
	// Type specifies the assertion type (see the Assert* constants).
	Type string `yaml:"type"`

	// Command is the wire name (used by trace_contains, trace_count).
	Command string `yaml:"command,omitempty"`

	// Args are the expected command args (used by trace_contains).
	// Subset match - only specified fields are validated.
	Args map[string]interface{} `yaml:"args,omitempty"`

	// Commands is the expected command order (used by trace_order).
	Commands []string `yaml:"commands,omitempty"`

	// Count is the expected number (used by trace_count, record_count).
	Count int `yaml:"count,omitempty"`

	// Key is the model key (used by final_state).
	Key string `yaml:"key,omitempty"`

	// Value is the expected value of Key (used by final_state).
	Value *string `yaml:"value,omitempty"`

	// Absent asserts Key is not set (used by final_state).
	Absent bool `yaml:"absent,omitempty"`

	// Seq is the expected last record number (used by last_record).
	Seq int64 `yaml:"seq,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertRecordCount   = "record_count"
	AssertLastRecord    = "last_record"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// ScenarioPaths expands directories in paths to the .yaml and .yml files
// they contain, sorted by name. File paths are kept as given.
func ScenarioPaths(paths ...string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("scenario path: %w", err)
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}

		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("read scenario dir: %w", err)
		}
		var found []string
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
				continue
			}
			found = append(found, filepath.Join(p, e.Name()))
		}
		sort.Strings(found)
		out = append(out, found...)
	}
	return out, nil
}

// validateScenario checks that required fields are present.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if step.Command == "" {
			return fmt.Errorf("steps[%d]: command is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Command == "" {
			return fmt.Errorf("assertions[%d]: command is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Commands) == 0 {
			return fmt.Errorf("assertions[%d]: commands list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Command == "" {
			return fmt.Errorf("assertions[%d]: command is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for final_state", index)
		}
		if a.Absent == (a.Value != nil) {
			return fmt.Errorf("assertions[%d]: final_state needs exactly one of value or absent", index)
		}
	case AssertRecordCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for record_count", index)
		}
	case AssertLastRecord:
		if a.Seq < 0 {
			return fmt.Errorf("assertions[%d]: seq must be non-negative for last_record", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
