package workflow

import (
	"time"
)

// ExecutionMode determines task ordering and concurrency for a definition.
type ExecutionMode string

const (
	ModeSequential  ExecutionMode = "sequential"
	ModeParallel    ExecutionMode = "parallel"
	ModeConditional ExecutionMode = "conditional"
	ModePipeline    ExecutionMode = "pipeline"
	ModeGraph       ExecutionMode = "graph"
)

// Modes lists every known execution mode.
var Modes = []ExecutionMode{ModeSequential, ModeParallel, ModeConditional, ModePipeline, ModeGraph}

// Status is the workflow-level execution status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransitionTo reports whether next is a legal successor of s.
// pending → running; running ⇄ paused; running|paused → terminal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusCancelled || next == StatusFailed
	case StatusRunning:
		return next == StatusPaused || next.IsTerminal()
	case StatusPaused:
		return next == StatusRunning || next.IsTerminal()
	default:
		return false
	}
}

// TaskStatus is the per-task execution status.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
	TaskCancelled TaskStatus = "cancelled"
)

// ConditionType selects how a task condition is evaluated.
type ConditionType string

const (
	ConditionResult ConditionType = "result"
	ConditionStatus ConditionType = "status"
	ConditionCustom ConditionType = "custom"
)

// ConditionOperator compares a referenced task's result or status to a value.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpNotEquals   ConditionOperator = "not_equals"
	OpContains    ConditionOperator = "contains"
	OpGreaterThan ConditionOperator = "greater_than"
	OpLessThan    ConditionOperator = "less_than"
	OpExists      ConditionOperator = "exists"
)

// ConditionEvaluator is a caller-supplied predicate for custom conditions.
// It receives the live execution context and must not mutate it.
type ConditionEvaluator func(ec *ExecutionContext) bool

// Condition gates a task in conditional mode.
type Condition struct {
	Type     ConditionType     `json:"type" yaml:"type"`
	TaskID   string            `json:"task_id,omitempty" yaml:"task_id,omitempty"`
	Operator ConditionOperator `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    interface{}       `json:"value,omitempty" yaml:"value,omitempty"`
	Evaluate ConditionEvaluator `json:"-" yaml:"-"`
}

// BackoffStrategy selects how retry delays grow.
type BackoffStrategy string

const (
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
	BackoffFixed       BackoffStrategy = "fixed"
)

// RetryPolicy shapes retry behavior for the tasks of a definition.
type RetryPolicy struct {
	MaxRetries int             `json:"max_retries" yaml:"max_retries"`
	Backoff    BackoffStrategy `json:"backoff" yaml:"backoff"`
	BaseDelay  time.Duration   `json:"base_delay" yaml:"base_delay"`
	MaxDelay   time.Duration   `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
}

// Delay computes the wait before the attempt following retryCount failures.
func (p *RetryPolicy) Delay(retryCount int) time.Duration {
	var d time.Duration
	switch p.Backoff {
	case BackoffLinear:
		d = p.BaseDelay * time.Duration(retryCount+1)
	case BackoffExponential:
		d = p.BaseDelay * time.Duration(1<<uint(retryCount))
	default:
		d = p.BaseDelay
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// FailureAction is the per-task failure policy.
type FailureAction string

const (
	FailureStop           FailureAction = "stop"
	FailureContinue       FailureAction = "continue"
	FailureRetry          FailureAction = "retry"
	FailureSkipDependents FailureAction = "skip_dependents"
)

// WorkflowFailureAction is the workflow-level failure policy.
type WorkflowFailureAction string

const (
	WorkflowFailureStop            WorkflowFailureAction = "stop"
	WorkflowFailureRollback        WorkflowFailureAction = "rollback"
	WorkflowFailurePartialComplete WorkflowFailureAction = "partial_complete"
)

// ErrorHandling declares how failures propagate.
type ErrorHandling struct {
	OnTaskFailure     FailureAction         `json:"on_task_failure" yaml:"on_task_failure"`
	OnWorkflowFailure WorkflowFailureAction `json:"on_workflow_failure" yaml:"on_workflow_failure"`
}

// Task is one unit of work within a definition. Immutable once registered.
type Task struct {
	ID           string                 `json:"id" yaml:"id"`
	Name         string                 `json:"name" yaml:"name"`
	AgentName    string                 `json:"agent_name" yaml:"agent_name"`
	Input        string                 `json:"input" yaml:"input"`
	Payload      map[string]interface{} `json:"payload,omitempty" yaml:"payload,omitempty"`
	Dependencies []string               `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Conditions   []Condition            `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Timeout      time.Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retries      int                    `json:"retries,omitempty" yaml:"retries,omitempty"`
}

// HasInput reports whether the task carries any input at all.
func (t *Task) HasInput() bool {
	return t.Input != "" || len(t.Payload) > 0
}

// Definition is the immutable workflow template.
type Definition struct {
	ID            string         `json:"id" yaml:"id"`
	Name          string         `json:"name" yaml:"name"`
	Version       string         `json:"version" yaml:"version"`
	Mode          ExecutionMode  `json:"mode" yaml:"mode"`
	Tasks         []Task         `json:"tasks" yaml:"tasks"`
	GlobalTimeout time.Duration  `json:"global_timeout,omitempty" yaml:"global_timeout,omitempty"`
	RetryPolicy   *RetryPolicy   `json:"retry_policy,omitempty" yaml:"retry_policy,omitempty"`
	ErrorHandling *ErrorHandling `json:"error_handling,omitempty" yaml:"error_handling,omitempty"`
}

// TaskByID returns the task with the given id, or nil.
func (d *Definition) TaskByID(id string) *Task {
	for i := range d.Tasks {
		if d.Tasks[i].ID == id {
			return &d.Tasks[i]
		}
	}
	return nil
}

// OnTaskFailure returns the declared per-task failure action, defaulting to stop.
func (d *Definition) OnTaskFailure() FailureAction {
	if d.ErrorHandling == nil || d.ErrorHandling.OnTaskFailure == "" {
		return FailureStop
	}
	return d.ErrorHandling.OnTaskFailure
}

// TaskResult records one task's progress within an execution.
type TaskResult struct {
	TaskID     string      `json:"task_id"`
	Status     TaskStatus  `json:"status"`
	Output     interface{} `json:"output,omitempty"`
	Error      *Error      `json:"error,omitempty"`
	StartTime  time.Time   `json:"start_time"`
	EndTime    *time.Time  `json:"end_time,omitempty"`
	RetryCount int         `json:"retry_count"`
}

// ExecutionContext is the mutable run-time record for one invocation.
// It is owned by a single execution; the engine serializes mutations.
type ExecutionContext struct {
	WorkflowID     string                 `json:"workflow_id"`
	ExecutionID    string                 `json:"execution_id"`
	Status         Status                 `json:"status"`
	StartTime      time.Time              `json:"start_time"`
	EndTime        *time.Time             `json:"end_time,omitempty"`
	CurrentTask    string                 `json:"current_task,omitempty"`
	TaskResults    map[string]*TaskResult `json:"task_results"`
	GlobalContext  map[string]interface{} `json:"global_context"`
	CorrelationID  string                 `json:"correlation_id,omitempty"`
	ConversationID string                 `json:"conversation_id,omitempty"`
}

// ExecutionResult is the structured outcome returned to the caller.
// Workflow-level failures are carried here, never raised.
type ExecutionResult struct {
	ExecutionID string                 `json:"execution_id"`
	WorkflowID  string                 `json:"workflow_id"`
	Status      Status                 `json:"status"`
	TaskResults map[string]*TaskResult `json:"task_results"`
	Output      interface{}            `json:"output,omitempty"`
	Error       *Error                 `json:"error,omitempty"`
	StartTime   time.Time              `json:"start_time"`
	EndTime     time.Time              `json:"end_time"`
	Duration    time.Duration          `json:"duration"`
}

// ExecuteOptions tune a single invocation of a workflow.
type ExecuteOptions struct {
	// DryRun short-circuits real execution: no agent is invoked and every
	// task gets a synthetic would-execute result.
	DryRun bool
	// CorrelationID is an optional caller-supplied id threaded through
	// agent calls and events.
	CorrelationID string
	// ExecutionID presets the execution id instead of generating one.
	// Callers that start executions asynchronously use it to track the
	// run they just requested.
	ExecutionID string
}
