package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// Scenarios drive named agents through lock, commit and build steps against
// a program and assert on the resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Program is the CUE program directory or file to load.
	// Relative paths resolve against the scenario file location.
	Program string `yaml:"program"`

	// Agents declares the agent names steps may use.
	Agents []string `yaml:"agents"`

	// Steps run in order against one engine.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count, lock_state,
	// final_state
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step actions.
const (
	ActionAcquireRead  = "acquire_read"
	ActionAcquireWrite = "acquire_write"
	ActionAcquireBatch = "acquire_batch"
	ActionRelease      = "release"
	ActionReleaseAll   = "release_all"
	ActionHeartbeat    = "heartbeat"
	ActionReadHashes   = "read_hashes"
	ActionCommit       = "commit"
	ActionAdvance      = "advance"
	ActionSweep        = "sweep"
	ActionPlan         = "plan"
	ActionBuild        = "build"
)

var stepActions = map[string]struct {
	agent     bool // requires agent
	functions int  // 0: none, 1: exactly one, 2: one or more
}{
	ActionAcquireRead:  {agent: true, functions: 1},
	ActionAcquireWrite: {agent: true, functions: 1},
	ActionAcquireBatch: {agent: true, functions: 2},
	ActionRelease:      {agent: true, functions: 1},
	ActionReleaseAll:   {agent: true},
	ActionHeartbeat:    {agent: true},
	ActionReadHashes:   {agent: true},
	ActionCommit:       {agent: true},
	ActionAdvance:      {},
	ActionSweep:        {},
	ActionPlan:         {},
	ActionBuild:        {},
}

// Step is one action in the scenario flow.
type Step struct {
	// Action is one of the Action* constants.
	Action string `yaml:"action"`

	// Agent is the acting agent, one of Scenario.Agents.
	Agent string `yaml:"agent,omitempty"`

	// Functions names the target functions of lock steps. read_hashes
	// records every function when empty.
	Functions []string `yaml:"functions,omitempty"`

	// Description is attached to write locks.
	Description string `yaml:"description,omitempty"`

	// TTL overrides the lock time-to-live for acquire and heartbeat steps.
	TTL time.Duration `yaml:"ttl,omitempty"`

	// By is how far an advance step moves the clock.
	By time.Duration `yaml:"by,omitempty"`

	// Mutations is a commit's batch.
	Mutations []MutationStep `yaml:"mutations,omitempty"`

	// CheckHashes makes a commit send the hashes the agent last read.
	CheckHashes bool `yaml:"check_hashes,omitempty"`

	// Fail makes the build's compile step fail for the named function.
	Fail string `yaml:"fail,omitempty"`

	// Expect specifies the expected outcome.
	// If nil, the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// MutationStep is a mutation written with names instead of ids.
// Nodes are referenced as "function.node"; names introduced by insert_node,
// add_function and add_module are allocated fresh ids.
type MutationStep struct {
	Kind string `yaml:"kind"`

	Node     string `yaml:"node,omitempty"`
	Function string `yaml:"function,omitempty"`
	Module   string `yaml:"module,omitempty"`

	// Op is the node operation for insert_node and modify_node. A call's
	// callee is given by name.
	Op *OpStep `yaml:"op,omitempty"`

	Source     string    `yaml:"source,omitempty"`
	Target     string    `yaml:"target,omitempty"`
	Edge       *EdgeStep `yaml:"edge,omitempty"`
	Name       string    `yaml:"name,omitempty"`
	Visibility string    `yaml:"visibility,omitempty"`
}

// OpStep is a node operation.
type OpStep struct {
	Kind   string         `yaml:"kind"`
	Callee string         `yaml:"callee,omitempty"`
	Attrs  map[string]any `yaml:"attrs,omitempty"`
}

// EdgeStep is an edge label.
type EdgeStep struct {
	Kind       string `yaml:"kind"`
	SourcePort int    `yaml:"source_port,omitempty"`
	TargetPort int    `yaml:"target_port,omitempty"`
	Branch     *int   `yaml:"branch,omitempty"`
	ValueType  string `yaml:"value_type,omitempty"`
}

// ExpectClause specifies expected step behavior.
// List fields are compared as sets of names; a nil list is not checked.
type ExpectClause struct {
	// Error is the expected error code. Empty means success.
	Error string `yaml:"error,omitempty"`

	Functions []string `yaml:"functions,omitempty"`
	Holder    string   `yaml:"holder,omitempty"`
	Position  int      `yaml:"position,omitempty"`
	Recompile []string `yaml:"recompile,omitempty"`
	Scope     []string `yaml:"scope,omitempty"`
	Conflicts []string `yaml:"conflicts,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": a step with Action (and Agent, Outcome) ran
	// - "trace_order": Actions ran in this order, others may interleave
	// - "trace_count": Action ran exactly Count times
	// - "lock_state": Function is held in Mode by Holder, or unlocked
	//   when Mode is "none"
	// - "final_state": exactly one commits or snapshots record matches
	//   Where, and it carries the Expect fields
	Type string `yaml:"type"`

	Action  string   `yaml:"action,omitempty"`
	Agent   string   `yaml:"agent,omitempty"`
	Outcome string   `yaml:"outcome,omitempty"`
	Actions []string `yaml:"actions,omitempty"`
	Count   int      `yaml:"count,omitempty"`

	Function string `yaml:"function,omitempty"`
	Mode     string `yaml:"mode,omitempty"`
	Holder   string `yaml:"holder,omitempty"`

	// Table, Where and Expect drive final_state. Field names are the JSON
	// names of the stored records; unlisted fields are not checked.
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertLockState     = "lock_state"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file, resolving the
// program path against the scenario's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the program path relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	// Resolve program path relative to base path BEFORE validation
	if scenario.Program != "" && !filepath.IsAbs(scenario.Program) && basePath != "" {
		scenario.Program = filepath.Join(basePath, scenario.Program)
	}

	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if _, err := os.Stat(scenario.Program); os.IsNotExist(err) {
		return nil, fmt.Errorf("invalid scenario: program not found: %s", scenario.Program)
	}
	return scenario, nil
}

// ParseScenario decodes scenario YAML with strict field checking. The
// program path is left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Program == "" {
		return fmt.Errorf("program is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	agents := make(map[string]bool, len(s.Agents))
	for i, a := range s.Agents {
		if a == "" {
			return fmt.Errorf("agents[%d]: empty name", i)
		}
		if agents[a] {
			return fmt.Errorf("agents[%d]: duplicate agent %q", i, a)
		}
		agents[a] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step, agents); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step, agents map[string]bool) error {
	rule, ok := stepActions[step.Action]
	if !ok {
		if step.Action == "" {
			return fmt.Errorf("steps[%d]: action is required", i)
		}
		return fmt.Errorf("steps[%d]: unknown action %q", i, step.Action)
	}
	if rule.agent {
		if step.Agent == "" {
			return fmt.Errorf("steps[%d]: agent is required for %s", i, step.Action)
		}
		if !agents[step.Agent] {
			return fmt.Errorf("steps[%d]: undeclared agent %q", i, step.Agent)
		}
	}
	switch rule.functions {
	case 1:
		if len(step.Functions) != 1 {
			return fmt.Errorf("steps[%d]: %s takes exactly one function", i, step.Action)
		}
	case 2:
		if len(step.Functions) == 0 {
			return fmt.Errorf("steps[%d]: %s requires functions", i, step.Action)
		}
	}
	if step.Action == ActionAdvance && step.By <= 0 {
		return fmt.Errorf("steps[%d]: advance requires a positive by", i)
	}
	if step.Action == ActionCommit {
		for j, mu := range step.Mutations {
			if mu.Kind == "" {
				return fmt.Errorf("steps[%d].mutations[%d]: kind is required", i, j)
			}
		}
	}
	if step.TTL < 0 {
		return fmt.Errorf("steps[%d]: ttl must be non-negative", i)
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
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertLockState:
		if a.Function == "" {
			return fmt.Errorf("assertions[%d]: function is required for lock_state", index)
		}
		switch a.Mode {
		case "read", "write", "none":
		default:
			return fmt.Errorf("assertions[%d]: mode must be read, write or none for lock_state", index)
		}
	case AssertFinalState:
		switch a.Table {
		case TableCommits, TableSnapshots:
		case "":
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		default:
			return fmt.Errorf("assertions[%d]: final_state table must be %s or %s, got %q", index, TableCommits, TableSnapshots, a.Table)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
