package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orcha-dev/orcha/internal/application/scheduler"
	"github.com/orcha-dev/orcha/internal/application/state"
	"github.com/orcha-dev/orcha/internal/workflow"
	"github.com/orcha-dev/orcha/pkg/ports"
)

// Topic is the event bus topic the engine publishes lifecycle events on.
const Topic = "workflow.events"

// pausePollInterval is how often a paused execution re-checks its status.
const pausePollInterval = 20 * time.Millisecond

// defaultRetryPolicy applies when a task declares retries but the
// definition carries no retry policy.
var defaultRetryPolicy = workflow.RetryPolicy{
	Backoff:   workflow.BackoffExponential,
	BaseDelay: time.Second,
	MaxDelay:  30 * time.Second,
}

// execution tracks one live invocation. Context mutations go through mu so
// concurrently dispatched tasks of the same execution never interleave
// partial updates.
type execution struct {
	mu     sync.Mutex
	ec     *workflow.ExecutionContext
	def    *workflow.Definition
	cancel context.CancelFunc
}

func (e *execution) status() workflow.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ec.Status
}

// Engine coordinates workflow execution: it owns the agent and definition
// registries, creates execution contexts, drives the five execution-mode
// algorithms and delegates validation, persistence and queue cancellation
// to its collaborators.
type Engine struct {
	validator *Validator
	state     *state.Manager
	sched     *scheduler.Scheduler
	bus       ports.EventBus
	metrics   ports.MetricsCollector
	logger    *zap.Logger

	mu          sync.RWMutex
	agents      map[string]ports.Agent
	definitions map[string]*workflow.Definition
	executions  map[string]*execution
}

// New creates an engine. sched and metrics may be nil.
func New(stateMgr *state.Manager, sched *scheduler.Scheduler, bus ports.EventBus, metrics ports.MetricsCollector, logger *zap.Logger) *Engine {
	return &Engine{
		validator:   NewValidator(),
		state:       stateMgr,
		sched:       sched,
		bus:         bus,
		metrics:     metrics,
		logger:      logger,
		agents:      make(map[string]ports.Agent),
		definitions: make(map[string]*workflow.Definition),
		executions:  make(map[string]*execution),
	}
}

// RegisterAgent adds an executor to the registry consulted by validation
// and task execution.
func (e *Engine) RegisterAgent(agent ports.Agent) error {
	if agent == nil || agent.Name() == "" {
		return fmt.Errorf("agent must have a name")
	}
	e.mu.Lock()
	e.agents[agent.Name()] = agent
	e.mu.Unlock()
	e.logger.Info("agent registered", zap.String("agent", agent.Name()))
	return nil
}

// UnregisterAgent removes an executor from the registry.
func (e *Engine) UnregisterAgent(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.agents[name]; !ok {
		return fmt.Errorf("agent not registered: %s", name)
	}
	delete(e.agents, name)
	return nil
}

// RegisterWorkflow validates and stores a definition. Registration never
// partially succeeds: an invalid definition is rejected with every
// accumulated validation error.
func (e *Engine) RegisterWorkflow(def *workflow.Definition) error {
	e.mu.RLock()
	agents := make(map[string]ports.Agent, len(e.agents))
	for name, a := range e.agents {
		agents[name] = a
	}
	e.mu.RUnlock()

	result := e.validator.Validate(def, agents)
	for _, w := range result.Warnings {
		e.logger.Warn("workflow validation warning",
			zap.String("workflow_id", def.ID),
			zap.String("warning", w))
	}
	if !result.Valid {
		e.logger.Error("workflow validation failed",
			zap.String("workflow_id", def.ID),
			zap.Strings("errors", result.Errors))
		return fmt.Errorf("workflow validation failed: %s", strings.Join(result.Errors, "; "))
	}

	e.mu.Lock()
	e.definitions[def.ID] = def
	e.mu.Unlock()

	e.publish(ports.EventWorkflowRegistered, def.ID, "", "", map[string]interface{}{
		"name":    def.Name,
		"version": def.Version,
		"mode":    string(def.Mode),
	})
	e.logger.Info("workflow registered",
		zap.String("workflow_id", def.ID),
		zap.String("mode", string(def.Mode)),
		zap.Int("tasks", len(def.Tasks)))
	return nil
}

// UnregisterWorkflow cancels any live executions of the definition, then
// removes it from the registry.
func (e *Engine) UnregisterWorkflow(id string) error {
	e.mu.Lock()
	if _, ok := e.definitions[id]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("workflow not registered: %s", id)
	}
	var live []string
	for execID, exec := range e.executions {
		if exec.ec.WorkflowID == id {
			live = append(live, execID)
		}
	}
	delete(e.definitions, id)
	e.mu.Unlock()

	for _, execID := range live {
		if err := e.CancelWorkflow(context.Background(), execID); err != nil {
			e.logger.Warn("failed to cancel execution during unregistration",
				zap.String("execution_id", execID),
				zap.Error(err))
		}
	}

	e.publish(ports.EventWorkflowUnregistered, id, "", "", nil)
	e.logger.Info("workflow unregistered", zap.String("workflow_id", id))
	return nil
}

// GetWorkflow returns a registered definition.
func (e *Engine) GetWorkflow(id string) (*workflow.Definition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	def, ok := e.definitions[id]
	return def, ok
}

// ListWorkflows returns every registered definition.
func (e *Engine) ListWorkflows() []*workflow.Definition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	defs := make([]*workflow.Definition, 0, len(e.definitions))
	for _, def := range e.definitions {
		defs = append(defs, def)
	}
	return defs
}

// ExecuteWorkflow runs a registered workflow to completion and returns a
// structured result. Execution failures are returned as data on the result,
// never as the error value; the error return covers only rejection before
// an execution exists (unknown workflow id).
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowID string, input map[string]interface{}, opts workflow.ExecuteOptions) (*workflow.ExecutionResult, error) {
	e.mu.RLock()
	def, ok := e.definitions[workflowID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("workflow not registered: %s", workflowID)
	}

	executionID := opts.ExecutionID
	if executionID == "" {
		executionID = uuid.New().String()
	}

	ec := &workflow.ExecutionContext{
		WorkflowID:    workflowID,
		ExecutionID:   executionID,
		Status:        workflow.StatusPending,
		StartTime:     time.Now(),
		TaskResults:   make(map[string]*workflow.TaskResult),
		GlobalContext: make(map[string]interface{}, len(input)),
		CorrelationID: opts.CorrelationID,
	}
	for k, v := range input {
		ec.GlobalContext[k] = v
	}

	if opts.DryRun {
		return e.dryRun(ctx, def, ec), nil
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if def.GlobalTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, def.GlobalTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	exec := &execution{ec: ec, def: def, cancel: cancel}

	e.mu.Lock()
	e.executions[ec.ExecutionID] = exec
	active := len(e.executions)
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.SetActiveExecutions(active)
	}

	e.persist(ctx, exec)
	exec.mu.Lock()
	ec.Status = workflow.StatusRunning
	exec.mu.Unlock()
	e.persist(ctx, exec)

	e.publish(ports.EventWorkflowStarted, ec.WorkflowID, ec.ExecutionID, "", map[string]interface{}{
		"mode": string(def.Mode),
	})
	if e.metrics != nil {
		e.metrics.RecordWorkflowStarted(string(def.Mode))
	}
	e.logger.Info("workflow execution started",
		zap.String("workflow_id", ec.WorkflowID),
		zap.String("execution_id", ec.ExecutionID),
		zap.String("mode", string(def.Mode)))

	runErr := e.runMode(runCtx, exec)

	return e.finalize(exec, runErr), nil
}

// runMode dispatches to the mode algorithm, converting panics into a
// workflow execution error so nothing escapes to the caller.
func (e *Engine) runMode(ctx context.Context, exec *execution) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = workflow.NewError(workflow.CodeWorkflowExecutionError, fmt.Sprintf("panic during execution: %v", r))
			e.logger.Error("panic during workflow execution",
				zap.String("execution_id", exec.ec.ExecutionID),
				zap.Any("panic", r))
		}
	}()

	switch exec.def.Mode {
	case workflow.ModeSequential:
		return e.runSequential(ctx, exec)
	case workflow.ModeParallel:
		return e.runParallel(ctx, exec)
	case workflow.ModeConditional:
		return e.runConditional(ctx, exec)
	case workflow.ModePipeline:
		return e.runPipeline(ctx, exec)
	case workflow.ModeGraph:
		return e.runGraph(ctx, exec)
	default:
		return workflow.NewError(workflow.CodeWorkflowExecutionError, fmt.Sprintf("unknown execution mode %q", exec.def.Mode))
	}
}

// finalize assembles the execution result, persists the terminal context
// and emits the closing event.
func (e *Engine) finalize(exec *execution, runErr error) *workflow.ExecutionResult {
	exec.mu.Lock()
	ec := exec.ec
	now := time.Now()
	ec.EndTime = &now
	ec.CurrentTask = ""

	var werr *workflow.Error
	cancelled := ec.Status == workflow.StatusCancelled

	if !cancelled {
		switch {
		case runErr != nil:
			ec.Status = workflow.StatusFailed
			if typed, ok := runErr.(*workflow.Error); ok {
				werr = typed
			} else if errors.Is(runErr, context.DeadlineExceeded) {
				werr = workflow.NewError(workflow.CodeWorkflowTimeout, "workflow execution timed out")
			} else {
				werr = workflow.NewError(workflow.CodeWorkflowExecutionError, runErr.Error())
			}
		case anyTaskFailed(ec):
			ec.Status = workflow.StatusFailed
		default:
			ec.Status = workflow.StatusCompleted
		}
	}

	result := &workflow.ExecutionResult{
		ExecutionID: ec.ExecutionID,
		WorkflowID:  ec.WorkflowID,
		Status:      ec.Status,
		TaskResults: ec.TaskResults,
		Output:      latestCompletedOutput(ec),
		Error:       werr,
		StartTime:   ec.StartTime,
		EndTime:     now,
		Duration:    now.Sub(ec.StartTime),
	}
	exec.mu.Unlock()

	e.persist(context.Background(), exec)

	e.mu.Lock()
	delete(e.executions, ec.ExecutionID)
	active := len(e.executions)
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.SetActiveExecutions(active)
		e.metrics.RecordWorkflowCompleted(string(result.Status), result.Duration)
	}

	switch result.Status {
	case workflow.StatusCompleted:
		e.publish(ports.EventWorkflowCompleted, ec.WorkflowID, ec.ExecutionID, "", nil)
	case workflow.StatusFailed:
		data := map[string]interface{}{}
		if werr != nil {
			data["error"] = werr.Error()
		}
		e.publish(ports.EventWorkflowFailed, ec.WorkflowID, ec.ExecutionID, "", data)
	}

	e.logger.Info("workflow execution finished",
		zap.String("workflow_id", ec.WorkflowID),
		zap.String("execution_id", ec.ExecutionID),
		zap.String("status", string(result.Status)),
		zap.Duration("duration", result.Duration))
	return result
}

// dryRun produces synthetic would-execute results without invoking agents.
func (e *Engine) dryRun(ctx context.Context, def *workflow.Definition, ec *workflow.ExecutionContext) *workflow.ExecutionResult {
	now := time.Now()
	ec.Status = workflow.StatusCompleted
	for i := range def.Tasks {
		task := &def.Tasks[i]
		end := now
		ec.TaskResults[task.ID] = &workflow.TaskResult{
			TaskID: task.ID,
			Status: workflow.TaskCompleted,
			Output: map[string]interface{}{
				"dry_run":       true,
				"would_execute": task.Name,
				"agent":         task.AgentName,
				"input":         task.Input,
			},
			StartTime: now,
			EndTime:   &end,
		}
	}
	ec.EndTime = &now

	if err := e.state.Save(ctx, ec); err != nil {
		e.logger.Warn("failed to persist dry-run context", zap.Error(err))
	}
	e.logger.Info("dry run completed",
		zap.String("workflow_id", def.ID),
		zap.String("execution_id", ec.ExecutionID),
		zap.Int("tasks", len(def.Tasks)))

	return &workflow.ExecutionResult{
		ExecutionID: ec.ExecutionID,
		WorkflowID:  ec.WorkflowID,
		Status:      workflow.StatusCompleted,
		TaskResults: ec.TaskResults,
		StartTime:   ec.StartTime,
		EndTime:     now,
		Duration:    now.Sub(ec.StartTime),
	}
}

// PauseWorkflow suspends a running execution between task dispatches.
func (e *Engine) PauseWorkflow(ctx context.Context, executionID string) error {
	exec, ok := e.liveExecution(executionID)
	if !ok {
		return fmt.Errorf("execution not found: %s", executionID)
	}
	exec.mu.Lock()
	if exec.ec.Status != workflow.StatusRunning {
		status := exec.ec.Status
		exec.mu.Unlock()
		return fmt.Errorf("cannot pause execution in status %s", status)
	}
	exec.ec.Status = workflow.StatusPaused
	exec.mu.Unlock()

	e.persist(ctx, exec)
	e.publish(ports.EventWorkflowPaused, exec.ec.WorkflowID, executionID, "", nil)
	e.logger.Info("workflow paused", zap.String("execution_id", executionID))
	return nil
}

// ResumeWorkflow resumes a paused execution. Resuming from any other
// status fails.
func (e *Engine) ResumeWorkflow(ctx context.Context, executionID string) error {
	exec, ok := e.liveExecution(executionID)
	if !ok {
		return fmt.Errorf("execution not found: %s", executionID)
	}
	exec.mu.Lock()
	if exec.ec.Status != workflow.StatusPaused {
		status := exec.ec.Status
		exec.mu.Unlock()
		return fmt.Errorf("cannot resume execution in status %s", status)
	}
	exec.ec.Status = workflow.StatusRunning
	exec.mu.Unlock()

	e.persist(ctx, exec)
	e.publish(ports.EventWorkflowResumed, exec.ec.WorkflowID, executionID, "", nil)
	e.logger.Info("workflow resumed", zap.String("execution_id", executionID))
	return nil
}

// CancelWorkflow marks the execution cancelled, cancels its queued and
// running scheduler tasks, and deletes its persisted state. Cancellation
// is cooperative: agent calls already in flight are not aborted forcibly.
func (e *Engine) CancelWorkflow(ctx context.Context, executionID string) error {
	exec, ok := e.liveExecution(executionID)
	if !ok {
		return fmt.Errorf("execution not found: %s", executionID)
	}

	exec.mu.Lock()
	if exec.ec.Status.IsTerminal() {
		status := exec.ec.Status
		exec.mu.Unlock()
		return fmt.Errorf("execution already in terminal status %s", status)
	}
	exec.ec.Status = workflow.StatusCancelled
	exec.mu.Unlock()
	exec.cancel()

	if e.sched != nil {
		e.sched.CancelWorkflowTasks(executionID)
	}
	if err := e.state.Delete(ctx, executionID); err != nil {
		e.logger.Warn("failed to delete cancelled execution state",
			zap.String("execution_id", executionID),
			zap.Error(err))
	}

	e.publish(ports.EventWorkflowCancelled, exec.ec.WorkflowID, executionID, "", nil)
	e.logger.Info("workflow cancelled", zap.String("execution_id", executionID))
	return nil
}

// GetExecutionStatus returns the live context if the execution is active,
// falling back to the persisted copy otherwise.
func (e *Engine) GetExecutionStatus(ctx context.Context, executionID string) (*workflow.ExecutionContext, error) {
	if exec, ok := e.liveExecution(executionID); ok {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		return snapshotContext(exec.ec), nil
	}
	ec, err := e.state.Load(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if ec == nil {
		return nil, fmt.Errorf("execution not found: %s", executionID)
	}
	return ec, nil
}

// OnWorkflowEvent subscribes a handler to the engine's event stream.
func (e *Engine) OnWorkflowEvent(handler ports.EventHandler) error {
	return e.bus.Subscribe(context.Background(), Topic, handler)
}

// ExecuteQueuedTask runs a scheduler-queued task against the agent
// registry. It is the runner the daemon wires into the standalone scheduler.
func (e *Engine) ExecuteQueuedTask(ctx context.Context, qt *scheduler.QueuedTask) (interface{}, error) {
	e.mu.RLock()
	agent, ok := e.agents[qt.Task.AgentName]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("agent not registered: %s", qt.Task.AgentName)
	}
	res, err := agent.Execute(ctx, qt.Task.Input, ports.ExecuteOptions{
		ExecutionID: qt.ExecutionID,
		TaskID:      qt.Task.ID,
		Payload:     qt.Task.Payload,
	})
	if err != nil {
		return nil, err
	}
	return res.Output, nil
}

// Shutdown cancels all active executions.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info("shutting down engine")
	e.mu.RLock()
	execs := make([]*execution, 0, len(e.executions))
	for _, exec := range e.executions {
		execs = append(execs, exec)
	}
	e.mu.RUnlock()
	for _, exec := range execs {
		exec.cancel()
	}
	e.logger.Info("engine shut down complete")
	return nil
}

func (e *Engine) liveExecution(executionID string) (*execution, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	exec, ok := e.executions[executionID]
	return exec, ok
}

// persist snapshots and saves the execution context under its own lock.
func (e *Engine) persist(ctx context.Context, exec *execution) {
	exec.mu.Lock()
	snapshot := snapshotContext(exec.ec)
	exec.mu.Unlock()
	if err := e.state.Save(ctx, snapshot); err != nil {
		e.logger.Warn("failed to persist execution context",
			zap.String("execution_id", snapshot.ExecutionID),
			zap.Error(err))
	}
}

func (e *Engine) publish(eventType ports.EventType, workflowID, executionID, taskID string, data map[string]interface{}) {
	event := ports.Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		TaskID:      taskID,
		Timestamp:   time.Now(),
		Data:        data,
	}
	if err := e.bus.Publish(context.Background(), Topic, event); err != nil {
		e.logger.Error("failed to publish workflow event",
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}

func anyTaskFailed(ec *workflow.ExecutionContext) bool {
	for _, tr := range ec.TaskResults {
		if tr.Status == workflow.TaskFailed {
			return true
		}
	}
	return false
}

// latestCompletedOutput returns the output of the most recently completed
// task. Meaningful for sequential and pipeline chains; parallel and graph
// callers should inspect the full per-task result map instead.
func latestCompletedOutput(ec *workflow.ExecutionContext) interface{} {
	var latest *workflow.TaskResult
	for _, tr := range ec.TaskResults {
		if tr.Status != workflow.TaskCompleted || tr.EndTime == nil {
			continue
		}
		if latest == nil || tr.EndTime.After(*latest.EndTime) {
			latest = tr
		}
	}
	if latest == nil {
		return nil
	}
	return latest.Output
}

func snapshotContext(ec *workflow.ExecutionContext) *workflow.ExecutionContext {
	out := *ec
	out.TaskResults = make(map[string]*workflow.TaskResult, len(ec.TaskResults))
	for id, tr := range ec.TaskResults {
		trCopy := *tr
		out.TaskResults[id] = &trCopy
	}
	out.GlobalContext = make(map[string]interface{}, len(ec.GlobalContext))
	for k, v := range ec.GlobalContext {
		out.GlobalContext[k] = v
	}
	return &out
}
