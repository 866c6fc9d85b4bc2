package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusIsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.False(t, StatusPaused.IsTerminal())
}

func TestStatusCanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"pending to running", StatusPending, StatusRunning, true},
		{"pending to cancelled", StatusPending, StatusCancelled, true},
		{"pending to paused", StatusPending, StatusPaused, false},
		{"running to paused", StatusRunning, StatusPaused, true},
		{"running to completed", StatusRunning, StatusCompleted, true},
		{"paused to running", StatusPaused, StatusRunning, true},
		{"paused to cancelled", StatusPaused, StatusCancelled, true},
		{"completed is terminal", StatusCompleted, StatusRunning, false},
		{"failed is terminal", StatusFailed, StatusRunning, false},
		{"cancelled is terminal", StatusCancelled, StatusPaused, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	tests := []struct {
		name       string
		policy     RetryPolicy
		retryCount int
		want       time.Duration
	}{
		{"fixed first", RetryPolicy{Backoff: BackoffFixed, BaseDelay: time.Second}, 0, time.Second},
		{"fixed third", RetryPolicy{Backoff: BackoffFixed, BaseDelay: time.Second}, 2, time.Second},
		{"linear first", RetryPolicy{Backoff: BackoffLinear, BaseDelay: time.Second}, 0, time.Second},
		{"linear third", RetryPolicy{Backoff: BackoffLinear, BaseDelay: time.Second}, 2, 3 * time.Second},
		{"exponential first", RetryPolicy{Backoff: BackoffExponential, BaseDelay: time.Second}, 0, time.Second},
		{"exponential fourth", RetryPolicy{Backoff: BackoffExponential, BaseDelay: time.Second}, 3, 8 * time.Second},
		{"capped at max delay", RetryPolicy{Backoff: BackoffExponential, BaseDelay: time.Second, MaxDelay: 5 * time.Second}, 4, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Delay(tt.retryCount))
		})
	}
}

func TestTaskHasInput(t *testing.T) {
	assert.False(t, (&Task{}).HasInput())
	assert.True(t, (&Task{Input: "do something"}).HasInput())
	assert.True(t, (&Task{Payload: map[string]interface{}{"k": "v"}}).HasInput())
}

func TestDefinitionOnTaskFailure(t *testing.T) {
	def := &Definition{}
	assert.Equal(t, FailureStop, def.OnTaskFailure())

	def.ErrorHandling = &ErrorHandling{}
	assert.Equal(t, FailureStop, def.OnTaskFailure())

	def.ErrorHandling.OnTaskFailure = FailureContinue
	assert.Equal(t, FailureContinue, def.OnTaskFailure())
}

func TestDefinitionTaskByID(t *testing.T) {
	def := &Definition{Tasks: []Task{{ID: "a"}, {ID: "b"}}}
	assert.Equal(t, "b", def.TaskByID("b").ID)
	assert.Nil(t, def.TaskByID("missing"))
}

func TestErrorFormatting(t *testing.T) {
	err := NewError(CodeWorkflowTimeout, "workflow execution timed out")
	assert.Equal(t, "WORKFLOW_TIMEOUT: workflow execution timed out", err.Error())

	terr := NewTaskError(CodeTaskExecutionError, "fetch", assert.AnError)
	assert.Contains(t, terr.Error(), "TASK_EXECUTION_ERROR")
	assert.Contains(t, terr.Error(), "(task fetch)")
	assert.ErrorIs(t, terr, assert.AnError)
}
