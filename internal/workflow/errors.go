package workflow

import (
	"fmt"
	"time"
)

// Error codes attached to workflow and task failures.
const (
	CodeTaskExecutionError     = "TASK_EXECUTION_ERROR"
	CodeTaskTimeout            = "TASK_TIMEOUT"
	CodeAgentNotFound          = "AGENT_NOT_FOUND"
	CodeWorkflowExecutionError = "WORKFLOW_EXECUTION_ERROR"
	CodeWorkflowTimeout        = "WORKFLOW_TIMEOUT"
	CodeWorkflowCancelled      = "WORKFLOW_CANCELLED"
	CodeGraphDeadlock          = "GRAPH_DEADLOCK"
)

// Error is a captured workflow or task failure. Once captured it is carried
// as data and never raised again.
type Error struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	TaskID    string    `json:"task_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Cause     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("%s: %s (task %s)", e.Code, e.Message, e.TaskID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the original error, if one was captured.
func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a workflow error with the current timestamp.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message, Timestamp: time.Now()}
}

// NewTaskError builds a task-scoped error wrapping its cause.
func NewTaskError(code, taskID string, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Code:      code,
		Message:   msg,
		TaskID:    taskID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}
