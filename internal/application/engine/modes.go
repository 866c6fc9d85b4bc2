package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orcha-dev/orcha/internal/workflow"
	"github.com/orcha-dev/orcha/pkg/ports"
)

// runSequential executes tasks one at a time in declared order.
// Dependencies are ignored. A failure with the stop policy aborts the
// remaining tasks.
func (e *Engine) runSequential(ctx context.Context, exec *execution) error {
	for i := range exec.def.Tasks {
		if err := e.checkpoint(ctx, exec); err != nil || exec.status() == workflow.StatusCancelled {
			return err
		}
		task := &exec.def.Tasks[i]
		tr := e.executeTask(ctx, exec, task, nil)
		if tr.Status == workflow.TaskFailed && exec.def.OnTaskFailure() == workflow.FailureStop {
			e.logger.Info("halting sequential execution after task failure",
				zap.String("execution_id", exec.ec.ExecutionID),
				zap.String("task_id", task.ID))
			return nil
		}
	}
	return nil
}

// runParallel dispatches every task concurrently and waits for all of them
// to settle, regardless of individual outcomes. Dependencies are ignored.
func (e *Engine) runParallel(ctx context.Context, exec *execution) error {
	if err := e.checkpoint(ctx, exec); err != nil || exec.status() == workflow.StatusCancelled {
		return err
	}
	var wg sync.WaitGroup
	for i := range exec.def.Tasks {
		task := &exec.def.Tasks[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.executeTask(ctx, exec, task, nil)
		}()
	}
	wg.Wait()
	return nil
}

// runConditional evaluates each task's conditions against the current task
// results. Tasks whose conditions all pass run; any failing condition
// records the task as skipped without running it. Tasks without conditions
// always run.
func (e *Engine) runConditional(ctx context.Context, exec *execution) error {
	for i := range exec.def.Tasks {
		if err := e.checkpoint(ctx, exec); err != nil || exec.status() == workflow.StatusCancelled {
			return err
		}
		task := &exec.def.Tasks[i]
		if len(task.Conditions) > 0 && !e.conditionsPass(exec, task) {
			e.recordSkipped(ctx, exec, task.ID)
			e.logger.Debug("task skipped: conditions not met",
				zap.String("execution_id", exec.ec.ExecutionID),
				zap.String("task_id", task.ID))
			continue
		}
		e.executeTask(ctx, exec, task, nil)
	}
	return nil
}

// runPipeline executes tasks in declared order, merging each successful
// result into the next task's input as pipeline data. A failure with the
// stop policy halts the chain.
func (e *Engine) runPipeline(ctx context.Context, exec *execution) error {
	var prev interface{}
	hasPrev := false
	for i := range exec.def.Tasks {
		if err := e.checkpoint(ctx, exec); err != nil || exec.status() == workflow.StatusCancelled {
			return err
		}
		task := &exec.def.Tasks[i]
		var extra map[string]interface{}
		if hasPrev {
			extra = map[string]interface{}{"pipelineData": prev}
		}
		tr := e.executeTask(ctx, exec, task, extra)
		switch tr.Status {
		case workflow.TaskCompleted:
			prev = tr.Output
			hasPrev = true
		case workflow.TaskFailed:
			if exec.def.OnTaskFailure() == workflow.FailureStop {
				e.logger.Info("halting pipeline after task failure",
					zap.String("execution_id", exec.ec.ExecutionID),
					zap.String("task_id", task.ID))
				return nil
			}
		}
	}
	return nil
}

// runGraph executes tasks in dependency order: every task whose
// dependencies are all completed is dispatched concurrently, and the loop
// waits for a completion signal when nothing is ready. If nothing is ready
// and nothing is running while startable tasks remain, the graph cannot
// progress and a deadlock is reported instead of hanging.
func (e *Engine) runGraph(ctx context.Context, exec *execution) error {
	def := exec.def
	done := make(chan string, len(def.Tasks))
	started := make(map[string]bool, len(def.Tasks))
	running := 0

	for {
		if err := e.checkpoint(ctx, exec); err != nil || exec.status() == workflow.StatusCancelled {
			return err
		}

		ready := e.readyTasks(exec, started)
		if len(ready) == 0 {
			if running == 0 {
				return e.checkGraphDrained(exec, started)
			}
			// Wait for a completion signal; the tick re-checks
			// pause and cancellation.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-done:
				running--
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		for _, task := range ready {
			started[task.ID] = true
			running++
			go func(task *workflow.Task) {
				tr := e.executeTask(ctx, exec, task, nil)
				if tr.Status == workflow.TaskFailed && def.OnTaskFailure() == workflow.FailureSkipDependents {
					e.skipDependents(ctx, exec, task.ID)
				}
				done <- task.ID
			}(task)
		}
	}
}

// readyTasks returns unstarted tasks whose dependencies are all completed.
func (e *Engine) readyTasks(exec *execution, started map[string]bool) []*workflow.Task {
	exec.mu.Lock()
	defer exec.mu.Unlock()

	var ready []*workflow.Task
	for i := range exec.def.Tasks {
		task := &exec.def.Tasks[i]
		if started[task.ID] || exec.ec.TaskResults[task.ID] != nil {
			continue
		}
		ok := true
		for _, dep := range task.Dependencies {
			tr := exec.ec.TaskResults[dep]
			if tr == nil || tr.Status != workflow.TaskCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, task)
		}
	}
	return ready
}

// checkGraphDrained decides whether an idle graph is finished or stuck.
// Tasks blocked behind failed, skipped or cancelled dependencies can never
// run and end the graph normally (the failed dependency already decides the
// workflow status); anything else still unstarted is a genuine deadlock.
func (e *Engine) checkGraphDrained(exec *execution, started map[string]bool) error {
	exec.mu.Lock()
	defer exec.mu.Unlock()

	statuses := make(map[string]workflow.TaskStatus, len(exec.def.Tasks))
	for id, tr := range exec.ec.TaskResults {
		statuses[id] = tr.Status
	}

	var unstarted []string
	for i := range exec.def.Tasks {
		id := exec.def.Tasks[i].ID
		if !started[id] && statuses[id] == "" {
			unstarted = append(unstarted, id)
		}
	}
	if len(unstarted) == 0 {
		return nil
	}

	// Propagate unsatisfiability through the unstarted set.
	blocked := make(map[string]bool)
	for changed := true; changed; {
		changed = false
		for _, id := range unstarted {
			if blocked[id] {
				continue
			}
			task := exec.def.TaskByID(id)
			for _, dep := range task.Dependencies {
				st := statuses[dep]
				unsatisfiable := st == workflow.TaskFailed || st == workflow.TaskSkipped ||
					st == workflow.TaskCancelled || blocked[dep]
				if unsatisfiable {
					blocked[id] = true
					changed = true
					break
				}
			}
		}
	}

	var stuck []string
	for _, id := range unstarted {
		if !blocked[id] {
			stuck = append(stuck, id)
		}
	}
	if len(stuck) > 0 {
		return workflow.NewError(workflow.CodeGraphDeadlock,
			fmt.Sprintf("graph cannot progress: tasks %s are not ready and nothing is running", strings.Join(stuck, ", ")))
	}
	return nil
}

// skipDependents records every transitive dependent of the failed task
// as skipped.
func (e *Engine) skipDependents(ctx context.Context, exec *execution, failedID string) {
	dependents := make(map[string]bool)
	for changed := true; changed; {
		changed = false
		for i := range exec.def.Tasks {
			task := &exec.def.Tasks[i]
			if dependents[task.ID] {
				continue
			}
			for _, dep := range task.Dependencies {
				if dep == failedID || dependents[dep] {
					dependents[task.ID] = true
					changed = true
					break
				}
			}
		}
	}
	for id := range dependents {
		exec.mu.Lock()
		_, seen := exec.ec.TaskResults[id]
		exec.mu.Unlock()
		if !seen {
			e.recordSkipped(ctx, exec, id)
		}
	}
}

// checkpoint blocks while the execution is paused and surfaces context
// expiry. Cancellation is observed by the caller via the execution status.
func (e *Engine) checkpoint(ctx context.Context, exec *execution) error {
	for exec.status() == workflow.StatusPaused {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pausePollInterval):
		}
	}
	if err := ctx.Err(); err != nil && exec.status() != workflow.StatusCancelled {
		return err
	}
	return nil
}

// executeTask runs one task through its agent, recording every transition
// on the execution context and persisting after each one, so a crash
// mid-workflow loses at most the in-flight task. Retries honor the
// definition's retry policy and are attempted at most task.Retries times.
func (e *Engine) executeTask(ctx context.Context, exec *execution, task *workflow.Task, extraPayload map[string]interface{}) *workflow.TaskResult {
	tr := &workflow.TaskResult{
		TaskID:    task.ID,
		Status:    workflow.TaskRunning,
		StartTime: time.Now(),
	}
	exec.mu.Lock()
	exec.ec.TaskResults[task.ID] = tr
	exec.ec.CurrentTask = task.ID
	conversationID := exec.ec.ConversationID
	exec.mu.Unlock()
	e.persist(ctx, exec)
	e.publish(ports.EventTaskStarted, exec.ec.WorkflowID, exec.ec.ExecutionID, task.ID, map[string]interface{}{
		"agent": task.AgentName,
	})

	e.mu.RLock()
	agent, ok := e.agents[task.AgentName]
	e.mu.RUnlock()
	if !ok {
		// Should not happen post-validation; defensive.
		return e.failTask(ctx, exec, task, tr,
			workflow.NewTaskError(workflow.CodeAgentNotFound, task.ID, fmt.Errorf("agent not registered: %s", task.AgentName)))
	}

	var payload map[string]interface{}
	if len(task.Payload) > 0 || len(extraPayload) > 0 {
		payload = make(map[string]interface{}, len(task.Payload)+len(extraPayload))
		for k, v := range task.Payload {
			payload[k] = v
		}
		for k, v := range extraPayload {
			payload[k] = v
		}
	}
	opts := ports.ExecuteOptions{
		WorkflowID:     exec.ec.WorkflowID,
		ExecutionID:    exec.ec.ExecutionID,
		TaskID:         task.ID,
		ConversationID: conversationID,
		Payload:        payload,
	}

	policy := exec.def.RetryPolicy
	if policy == nil {
		p := defaultRetryPolicy
		policy = &p
	}

	var lastErr error
	timedOut := false
	for attempt := 0; ; attempt++ {
		callCtx := ctx
		cancel := func() {}
		if task.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		}
		res, err := agent.Execute(callCtx, task.Input, opts)
		timedOut = err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
		cancel()

		if err == nil {
			now := time.Now()
			exec.mu.Lock()
			tr.Status = workflow.TaskCompleted
			tr.Output = res.Output
			tr.EndTime = &now
			tr.RetryCount = attempt
			if res.ConversationID != "" {
				exec.ec.ConversationID = res.ConversationID
			}
			exec.mu.Unlock()
			e.persist(ctx, exec)
			e.publish(ports.EventTaskCompleted, exec.ec.WorkflowID, exec.ec.ExecutionID, task.ID, map[string]interface{}{
				"duration": now.Sub(tr.StartTime).String(),
			})
			if e.metrics != nil {
				e.metrics.RecordTaskExecuted(string(workflow.TaskCompleted), now.Sub(tr.StartTime))
			}
			return tr
		}

		lastErr = err
		if ctx.Err() != nil || attempt >= task.Retries {
			break
		}

		exec.mu.Lock()
		tr.RetryCount = attempt + 1
		exec.mu.Unlock()
		e.persist(ctx, exec)
		e.publish(ports.EventTaskRetried, exec.ec.WorkflowID, exec.ec.ExecutionID, task.ID, map[string]interface{}{
			"retry_count": attempt + 1,
			"error":       err.Error(),
		})
		if e.metrics != nil {
			e.metrics.RecordTaskRetried()
		}
		e.logger.Warn("task failed, retrying",
			zap.String("execution_id", exec.ec.ExecutionID),
			zap.String("task_id", task.ID),
			zap.Int("retry_count", attempt+1),
			zap.Error(err))

		select {
		case <-ctx.Done():
		case <-time.After(policy.Delay(attempt)):
		}
	}

	if ctx.Err() != nil && exec.status() == workflow.StatusCancelled {
		// Workflow was cancelled while the task was in flight; the task
		// outcome is recorded as cancelled, not failed.
		now := time.Now()
		exec.mu.Lock()
		tr.Status = workflow.TaskCancelled
		tr.EndTime = &now
		exec.mu.Unlock()
		return tr
	}

	code := workflow.CodeTaskExecutionError
	if timedOut {
		code = workflow.CodeTaskTimeout
	}
	return e.failTask(ctx, exec, task, tr, workflow.NewTaskError(code, task.ID, lastErr))
}

func (e *Engine) failTask(ctx context.Context, exec *execution, task *workflow.Task, tr *workflow.TaskResult, werr *workflow.Error) *workflow.TaskResult {
	now := time.Now()
	exec.mu.Lock()
	tr.Status = workflow.TaskFailed
	tr.Error = werr
	tr.EndTime = &now
	exec.mu.Unlock()
	e.persist(ctx, exec)
	e.publish(ports.EventTaskFailed, exec.ec.WorkflowID, exec.ec.ExecutionID, task.ID, map[string]interface{}{
		"error": werr.Error(),
	})
	if e.metrics != nil {
		e.metrics.RecordTaskExecuted(string(workflow.TaskFailed), now.Sub(tr.StartTime))
	}
	e.logger.Error("task failed",
		zap.String("execution_id", exec.ec.ExecutionID),
		zap.String("task_id", task.ID),
		zap.String("code", werr.Code),
		zap.Error(werr))
	return tr
}

// recordSkipped marks a task skipped without running it.
func (e *Engine) recordSkipped(ctx context.Context, exec *execution, taskID string) {
	now := time.Now()
	exec.mu.Lock()
	exec.ec.TaskResults[taskID] = &workflow.TaskResult{
		TaskID:    taskID,
		Status:    workflow.TaskSkipped,
		StartTime: now,
		EndTime:   &now,
	}
	exec.mu.Unlock()
	e.persist(ctx, exec)
}

// conditionsPass reports whether every condition on the task holds against
// the current execution context.
func (e *Engine) conditionsPass(exec *execution, task *workflow.Task) bool {
	exec.mu.Lock()
	defer exec.mu.Unlock()
	for i := range task.Conditions {
		if !evalCondition(exec.ec, &task.Conditions[i]) {
			return false
		}
	}
	return true
}

func evalCondition(ec *workflow.ExecutionContext, cond *workflow.Condition) bool {
	switch cond.Type {
	case workflow.ConditionCustom:
		return cond.Evaluate != nil && cond.Evaluate(ec)
	case workflow.ConditionResult:
		tr := ec.TaskResults[cond.TaskID]
		if cond.Operator == workflow.OpExists {
			return tr != nil && tr.Output != nil
		}
		if tr == nil {
			return false
		}
		return compareValues(tr.Output, cond.Operator, cond.Value)
	case workflow.ConditionStatus:
		tr := ec.TaskResults[cond.TaskID]
		if cond.Operator == workflow.OpExists {
			return tr != nil
		}
		if tr == nil {
			return false
		}
		return compareValues(string(tr.Status), cond.Operator, cond.Value)
	}
	return false
}

func compareValues(actual interface{}, op workflow.ConditionOperator, expected interface{}) bool {
	switch op {
	case workflow.OpEquals:
		return stringify(actual) == stringify(expected)
	case workflow.OpNotEquals:
		return stringify(actual) != stringify(expected)
	case workflow.OpContains:
		return strings.Contains(stringify(actual), stringify(expected))
	case workflow.OpGreaterThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		return aok && bok && a > b
	case workflow.OpLessThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		return aok && bok && a < b
	case workflow.OpExists:
		return actual != nil
	}
	return false
}

func stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
