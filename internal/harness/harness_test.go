package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScenario(t *testing.T, steps ...Step) *Scenario {
	return &Scenario{
		Name:        t.Name(),
		Description: "inline scenario",
		Program:     serviceProgram(t),
		Agents:      []string{"alice", "bob"},
		Steps:       steps,
	}
}

func TestRun_MinimalScenario(t *testing.T) {
	result, err := Run(newScenario(t, Step{Action: ActionPlan}))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Pass)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Trace, 1)

	// Nothing has been built yet, so every function is new.
	ev := result.Trace[0]
	assert.Equal(t, OutcomeOK, ev.Outcome)
	assert.Equal(t, []string{"audit", "compute", "handle", "scale", "validate"}, ev.Recompile)
}

func TestRun_UnexpectedErrorFails(t *testing.T) {
	result, err := Run(newScenario(t,
		Step{Action: ActionAcquireWrite, Agent: "alice", Functions: []string{"scale"}},
		Step{Action: ActionAcquireWrite, Agent: "bob", Functions: []string{"scale"}},
	))
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "steps[1] acquire_write: unexpected error")
	assert.Equal(t, "LOCK_DENIED", result.Trace[1].Outcome)
	assert.Equal(t, "alice", result.Trace[1].Holder)
	assert.Equal(t, 1, result.Trace[1].Position)
}

func TestRun_ExpectMismatch(t *testing.T) {
	result, err := Run(newScenario(t,
		Step{Action: ActionAcquireRead, Agent: "alice", Functions: []string{"scale"}},
		Step{Action: ActionAcquireRead, Agent: "bob", Functions: []string{"scale"},
			Expect: &ExpectClause{Error: "LOCK_DENIED"}},
		Step{Action: ActionReleaseAll, Agent: "alice",
			Expect: &ExpectClause{Functions: []string{"audit"}}},
	))
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "expected outcome LOCK_DENIED, got ok")
	assert.Contains(t, result.Errors[1], "expected functions [audit], got [scale]")
}

func TestRun_ExpiryIsDeterministic(t *testing.T) {
	result, err := Run(newScenario(t,
		Step{Action: ActionAcquireWrite, Agent: "alice", Functions: []string{"audit"}, TTL: 10 * time.Second},
		Step{Action: ActionAdvance, By: 10 * time.Second},
		Step{Action: ActionSweep, Expect: &ExpectClause{Functions: []string{"audit"}}},
		Step{Action: ActionAcquireWrite, Agent: "bob", Functions: []string{"audit"}},
	))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_InsertedNodesResolveInLaterSteps(t *testing.T) {
	result, err := Run(newScenario(t,
		Step{Action: ActionAcquireWrite, Agent: "alice", Functions: []string{"audit"}},
		Step{Action: ActionCommit, Agent: "alice", Mutations: []MutationStep{
			{Kind: "insert_node", Node: "audit.k", Op: &OpStep{Kind: "const", Attrs: map[string]any{"value": 7, "type": "i64"}}},
		}},
		Step{Action: ActionCommit, Agent: "alice", Mutations: []MutationStep{
			{Kind: "modify_node", Node: "audit.k", Op: &OpStep{Kind: "const", Attrs: map[string]any{"value": 8, "type": "i64"}}},
		}, Expect: &ExpectClause{Functions: []string{"audit"}}},
	))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, int64(1), result.Trace[1].Seq)
	assert.Equal(t, int64(2), result.Trace[2].Seq)
}

func TestRun_EmptyCommit(t *testing.T) {
	result, err := Run(newScenario(t,
		Step{Action: ActionCommit, Agent: "alice", Expect: &ExpectClause{Error: "EMPTY_COMMIT"}},
	))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_InvalidMutationOutcome(t *testing.T) {
	result, err := Run(newScenario(t,
		Step{Action: ActionAcquireWrite, Agent: "alice", Functions: []string{"scale"}},
		Step{Action: ActionCommit, Agent: "alice", Mutations: []MutationStep{
			{Kind: "modify_node", Node: "scale.k", Op: &OpStep{Kind: "teleport"}},
		}, Expect: &ExpectClause{Error: "INVALID_MUTATION"}},
	))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ScenarioErrors(t *testing.T) {
	tests := []struct {
		name    string
		step    Step
		wantErr string
	}{
		{
			name:    "unknown function",
			step:    Step{Action: ActionAcquireWrite, Agent: "alice", Functions: []string{"nope"}},
			wantErr: `unknown function "nope"`,
		},
		{
			name: "unknown node",
			step: Step{Action: ActionCommit, Agent: "alice", Mutations: []MutationStep{
				{Kind: "remove_node", Node: "scale.nope"},
			}},
			wantErr: `unknown node "scale.nope"`,
		},
		{
			name: "unqualified node",
			step: Step{Action: ActionCommit, Agent: "alice", Mutations: []MutationStep{
				{Kind: "remove_node", Node: "k"},
			}},
			wantErr: "must be function.node",
		},
		{
			name: "float attribute",
			step: Step{Action: ActionCommit, Agent: "alice", Mutations: []MutationStep{
				{Kind: "modify_node", Node: "scale.k", Op: &OpStep{Kind: "const", Attrs: map[string]any{"value": 1.5}}},
			}},
			wantErr: "floats are not allowed",
		},
		{
			name:    "unknown build failure target",
			step:    Step{Action: ActionBuild, Fail: "nope"},
			wantErr: `unknown function "nope"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(newScenario(t, tt.step))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRun_MissingProgram(t *testing.T) {
	s := newScenario(t, Step{Action: ActionPlan})
	s.Program = t.TempDir()
	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load program")
}
