package ports

import (
	"context"
	"time"
)

// EventType identifies a lifecycle event emitted by the engine.
type EventType string

const (
	EventWorkflowStarted      EventType = "workflow_started"
	EventWorkflowCompleted    EventType = "workflow_completed"
	EventWorkflowFailed       EventType = "workflow_failed"
	EventWorkflowPaused       EventType = "workflow_paused"
	EventWorkflowResumed      EventType = "workflow_resumed"
	EventWorkflowCancelled    EventType = "workflow_cancelled"
	EventWorkflowRegistered   EventType = "workflowRegistered"
	EventWorkflowUnregistered EventType = "workflowUnregistered"
	EventTaskStarted          EventType = "task_started"
	EventTaskCompleted        EventType = "task_completed"
	EventTaskFailed           EventType = "task_failed"
	EventTaskRetried          EventType = "task_retried"
)

// Event is a single record on the workflow event stream.
type Event struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"type"`
	WorkflowID  string                 `json:"workflow_id"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	TaskID      string                 `json:"task_id,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// EventHandler processes a single event. Returning an error does not stop
// delivery to other handlers.
type EventHandler func(ctx context.Context, event Event) error

// EventBus distributes events between the engine and its observers.
type EventBus interface {
	Publish(ctx context.Context, topic string, event Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}

// StateStore persists opaque execution records keyed by execution id.
// Backends have no knowledge of workflow semantics. Load returns
// (nil, nil) for keys that were never saved or have been deleted.
type StateStore interface {
	Save(ctx context.Context, executionID string, data []byte) error
	Load(ctx context.Context, executionID string) ([]byte, error)
	Delete(ctx context.Context, executionID string) error
	List(ctx context.Context) ([]string, error)
}

// ExecuteOptions carries correlation metadata into an agent call.
type ExecuteOptions struct {
	WorkflowID     string
	ExecutionID    string
	TaskID         string
	ConversationID string
	// Payload is the structured part of the task input, if any.
	Payload map[string]interface{}
}

// ExecuteResult is what an agent returns on success.
type ExecuteResult struct {
	Output         string
	ConversationID string
}

// Agent is the executor boundary: anything that accepts a prompt and
// returns a textual result. How it does so is outside the orchestrator.
type Agent interface {
	Name() string
	Execute(ctx context.Context, input string, opts ExecuteOptions) (*ExecuteResult, error)
}

// AgentInfo is optional advisory metadata an agent may expose. It only
// influences validation warnings, never hard failures.
type AgentInfo struct {
	Name      string
	Tools     []string
	HasMemory bool
}

// AgentDescriber is implemented by agents that expose capability metadata.
type AgentDescriber interface {
	Info() AgentInfo
}

// MetricsCollector records engine and scheduler observability metrics.
type MetricsCollector interface {
	RecordWorkflowStarted(mode string)
	RecordWorkflowCompleted(status string, duration time.Duration)
	RecordTaskExecuted(status string, duration time.Duration)
	RecordTaskRetried()
	SetActiveExecutions(count int)
	SetQueueDepth(depth int)
	SetRunningTasks(count int)
}
