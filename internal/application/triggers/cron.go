package triggers

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/orcha-dev/orcha/internal/application/engine"
	"github.com/orcha-dev/orcha/internal/workflow"
)

// Trigger binds a cron expression to a registered workflow. Each firing
// starts a fresh execution with the configured input.
type Trigger struct {
	// Name identifies the trigger in logs.
	Name string `yaml:"name" json:"name"`
	// Schedule is a standard five-field cron expression. Descriptors such
	// as @hourly are accepted.
	Schedule string `yaml:"schedule" json:"schedule"`
	// WorkflowID names the workflow to execute.
	WorkflowID string `yaml:"workflow_id" json:"workflow_id"`
	// Input is merged into the execution's global context on every firing.
	Input map[string]interface{} `yaml:"input,omitempty" json:"input,omitempty"`
}

// Runner owns the cron schedule and fires workflow executions.
type Runner struct {
	mu      sync.Mutex
	cron    *cron.Cron
	engine  *engine.Engine
	logger  *zap.Logger
	entries map[string]cron.EntryID
	started bool
}

// NewRunner creates a trigger runner bound to an engine.
func NewRunner(eng *engine.Engine, logger *zap.Logger) *Runner {
	return &Runner{
		cron:    cron.New(),
		engine:  eng,
		logger:  logger,
		entries: make(map[string]cron.EntryID),
	}
}

// AddTrigger registers a trigger. The workflow does not have to be
// registered yet; unknown workflows fail at firing time, not add time.
func (r *Runner) AddTrigger(t Trigger) error {
	if t.Name == "" {
		return fmt.Errorf("trigger name is required")
	}
	if t.Schedule == "" {
		return fmt.Errorf("trigger %q: schedule is required", t.Name)
	}
	if t.WorkflowID == "" {
		return fmt.Errorf("trigger %q: workflow_id is required", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[t.Name]; exists {
		return fmt.Errorf("trigger already registered: %s", t.Name)
	}

	trigger := t
	entryID, err := r.cron.AddFunc(t.Schedule, func() {
		r.fire(trigger)
	})
	if err != nil {
		return fmt.Errorf("trigger %q: invalid schedule %q: %w", t.Name, t.Schedule, err)
	}

	r.entries[t.Name] = entryID
	r.logger.Info("trigger registered",
		zap.String("trigger", t.Name),
		zap.String("schedule", t.Schedule),
		zap.String("workflow_id", t.WorkflowID))

	return nil
}

// RemoveTrigger unregisters a trigger by name.
func (r *Runner) RemoveTrigger(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entryID, exists := r.entries[name]
	if !exists {
		return fmt.Errorf("trigger not found: %s", name)
	}

	r.cron.Remove(entryID)
	delete(r.entries, name)
	return nil
}

// Start begins firing triggers on their schedules.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return
	}
	r.started = true
	r.cron.Start()
}

// Stop halts the schedule and waits for in-flight firings to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.mu.Unlock()

	<-r.cron.Stop().Done()
}

func (r *Runner) fire(t Trigger) {
	r.logger.Info("trigger fired",
		zap.String("trigger", t.Name),
		zap.String("workflow_id", t.WorkflowID))

	result, err := r.engine.ExecuteWorkflow(context.Background(), t.WorkflowID, t.Input, workflow.ExecuteOptions{
		CorrelationID: "trigger:" + t.Name,
	})
	if err != nil {
		r.logger.Error("trigger execution rejected",
			zap.String("trigger", t.Name),
			zap.String("workflow_id", t.WorkflowID),
			zap.Error(err))
		return
	}

	r.logger.Info("trigger execution finished",
		zap.String("trigger", t.Name),
		zap.String("execution_id", result.ExecutionID),
		zap.String("status", string(result.Status)))
}
