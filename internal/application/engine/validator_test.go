package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orcha-dev/orcha/internal/workflow"
	"github.com/orcha-dev/orcha/pkg/ports"
)

// stubAgent is a no-op agent for registry population in tests.
type stubAgent struct{ name string }

func (a *stubAgent) Name() string { return a.name }
func (a *stubAgent) Execute(ctx context.Context, input string, opts ports.ExecuteOptions) (*ports.ExecuteResult, error) {
	return &ports.ExecuteResult{Output: "stub"}, nil
}

func testAgents(names ...string) map[string]ports.Agent {
	agents := make(map[string]ports.Agent, len(names))
	for _, n := range names {
		agents[n] = &stubAgent{name: n}
	}
	return agents
}

func validDefinition() *workflow.Definition {
	return &workflow.Definition{
		ID:      "wf-1",
		Name:    "Test Workflow",
		Version: "1.0",
		Mode:    workflow.ModeSequential,
		Tasks: []workflow.Task{
			{ID: "a", Name: "Task A", AgentName: "agent", Input: "do a"},
			{ID: "b", Name: "Task B", AgentName: "agent", Input: "do b"},
		},
	}
}

func TestValidateAcceptsValidDefinition(t *testing.T) {
	v := NewValidator()
	result := v.Validate(validDefinition(), testAgents("agent"))
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(def *workflow.Definition)
		agents  map[string]ports.Agent
		wantErr string
	}{
		{
			name:    "missing id",
			mutate:  func(d *workflow.Definition) { d.ID = "" },
			wantErr: "workflow id is required",
		},
		{
			name:    "missing name",
			mutate:  func(d *workflow.Definition) { d.Name = "" },
			wantErr: "workflow name is required",
		},
		{
			name:    "missing version",
			mutate:  func(d *workflow.Definition) { d.Version = "" },
			wantErr: "workflow version is required",
		},
		{
			name:    "unknown mode",
			mutate:  func(d *workflow.Definition) { d.Mode = "turbo" },
			wantErr: `unknown execution mode "turbo"`,
		},
		{
			name:    "no tasks",
			mutate:  func(d *workflow.Definition) { d.Tasks = nil },
			wantErr: "workflow must declare at least one task",
		},
		{
			name:    "negative global timeout",
			mutate:  func(d *workflow.Definition) { d.GlobalTimeout = -time.Second },
			wantErr: "global timeout must not be negative",
		},
		{
			name: "duplicate task ids",
			mutate: func(d *workflow.Definition) {
				d.Tasks[1].ID = "a"
			},
			wantErr: `duplicate task id "a"`,
		},
		{
			name: "task without input",
			mutate: func(d *workflow.Definition) {
				d.Tasks[0].Input = ""
			},
			wantErr: `task "a" has no input`,
		},
		{
			name: "unknown agent lists registered",
			mutate: func(d *workflow.Definition) {
				d.Tasks[0].AgentName = "ghost"
			},
			wantErr: `task "a" references unknown agent "ghost" (registered agents: agent)`,
		},
		{
			name: "negative task timeout",
			mutate: func(d *workflow.Definition) {
				d.Tasks[0].Timeout = -time.Second
			},
			wantErr: `task "a" timeout must be positive when set`,
		},
		{
			name: "negative retries",
			mutate: func(d *workflow.Definition) {
				d.Tasks[0].Retries = -1
			},
			wantErr: `task "a" retries must not be negative`,
		},
		{
			name: "self dependency",
			mutate: func(d *workflow.Definition) {
				d.Mode = workflow.ModeGraph
				d.Tasks[0].Dependencies = []string{"a"}
			},
			wantErr: `task "a" depends on itself`,
		},
		{
			name: "unknown dependency",
			mutate: func(d *workflow.Definition) {
				d.Mode = workflow.ModeGraph
				d.Tasks[0].Dependencies = []string{"zzz"}
			},
			wantErr: `task "a" depends on unknown task "zzz"`,
		},
		{
			name: "dependency cycle reports path",
			mutate: func(d *workflow.Definition) {
				d.Mode = workflow.ModeGraph
				d.Tasks[0].Dependencies = []string{"b"}
				d.Tasks[1].Dependencies = []string{"a"}
			},
			wantErr: "cycle detected in task dependencies",
		},
		{
			name: "custom condition without evaluator",
			mutate: func(d *workflow.Definition) {
				d.Mode = workflow.ModeConditional
				d.Tasks[1].Conditions = []workflow.Condition{{Type: workflow.ConditionCustom}}
			},
			wantErr: `task "b" condition 0 is custom but supplies no evaluator`,
		},
		{
			name: "result condition with unknown operator",
			mutate: func(d *workflow.Definition) {
				d.Mode = workflow.ModeConditional
				d.Tasks[1].Conditions = []workflow.Condition{{
					Type: workflow.ConditionResult, TaskID: "a", Operator: "approx",
				}}
			},
			wantErr: `task "b" condition 0 has unknown operator "approx"`,
		},
		{
			name: "status condition referencing unknown task",
			mutate: func(d *workflow.Definition) {
				d.Mode = workflow.ModeConditional
				d.Tasks[1].Conditions = []workflow.Condition{{
					Type: workflow.ConditionStatus, TaskID: "zzz", Operator: workflow.OpEquals,
				}}
			},
			wantErr: `task "b" condition 0 references unknown task "zzz"`,
		},
		{
			name: "bad retry policy backoff",
			mutate: func(d *workflow.Definition) {
				d.RetryPolicy = &workflow.RetryPolicy{Backoff: "quadratic", BaseDelay: time.Second}
			},
			wantErr: `retry policy has unknown backoff strategy "quadratic"`,
		},
		{
			name: "max delay below base delay",
			mutate: func(d *workflow.Definition) {
				d.RetryPolicy = &workflow.RetryPolicy{
					Backoff: workflow.BackoffFixed, BaseDelay: time.Second, MaxDelay: time.Millisecond,
				}
			},
			wantErr: "retry policy max delay must be greater than base delay",
		},
		{
			name: "unknown failure action",
			mutate: func(d *workflow.Definition) {
				d.ErrorHandling = &workflow.ErrorHandling{OnTaskFailure: "explode"}
			},
			wantErr: `unknown on-task-failure action "explode"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition()
			tt.mutate(def)
			agents := tt.agents
			if agents == nil {
				agents = testAgents("agent")
			}
			result := NewValidator().Validate(def, agents)
			require.False(t, result.Valid)
			found := false
			for _, e := range result.Errors {
				if strings.Contains(e, tt.wantErr) {
					found = true
					break
				}
			}
			assert.True(t, found, "errors %v should contain %q", result.Errors, tt.wantErr)
		})
	}
}

func TestValidateNilDefinition(t *testing.T) {
	result := NewValidator().Validate(nil, nil)
	require.False(t, result.Valid)
	assert.Contains(t, result.Errors, "workflow definition is nil")
}

func TestValidateWarnings(t *testing.T) {
	t.Run("dependencies ignored in sequential mode", func(t *testing.T) {
		def := validDefinition()
		def.Tasks[1].Dependencies = []string{"a"}
		result := NewValidator().Validate(def, testAgents("agent"))
		assert.True(t, result.Valid)
		require.NotEmpty(t, result.Warnings)
		assert.Contains(t, result.Warnings[0], "ignored in sequential mode")
	})

	t.Run("conditional mode without conditions", func(t *testing.T) {
		def := validDefinition()
		def.Mode = workflow.ModeConditional
		result := NewValidator().Validate(def, testAgents("agent"))
		assert.True(t, result.Valid)
		require.NotEmpty(t, result.Warnings)
		assert.Contains(t, result.Warnings[0], "every task will always run")
	})

	t.Run("graph mode without dependencies", func(t *testing.T) {
		def := validDefinition()
		def.Mode = workflow.ModeGraph
		result := NewValidator().Validate(def, testAgents("agent"))
		assert.True(t, result.Valid)
		require.NotEmpty(t, result.Warnings)
		assert.Contains(t, result.Warnings[0], "no task declares a dependency")
	})

	t.Run("isolated graph tasks are listed", func(t *testing.T) {
		def := validDefinition()
		def.Mode = workflow.ModeGraph
		def.Tasks = append(def.Tasks, workflow.Task{
			ID: "c", Name: "Task C", AgentName: "agent", Input: "do c", Dependencies: []string{"a"},
		})
		result := NewValidator().Validate(def, testAgents("agent"))
		assert.True(t, result.Valid)
		require.NotEmpty(t, result.Warnings)
		assert.Contains(t, result.Warnings[0], `tasks b are isolated`)
	})

	t.Run("contradictory error handling", func(t *testing.T) {
		def := validDefinition()
		def.ErrorHandling = &workflow.ErrorHandling{
			OnTaskFailure:     workflow.FailureContinue,
			OnWorkflowFailure: workflow.WorkflowFailureStop,
		}
		result := NewValidator().Validate(def, testAgents("agent"))
		assert.True(t, result.Valid)
		require.NotEmpty(t, result.Warnings)
		assert.Contains(t, result.Warnings[0], "contradictory")
	})
}
