package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orcha-dev/orcha/internal/application/state"
	"github.com/orcha-dev/orcha/internal/workflow"
	memstore "github.com/orcha-dev/orcha/pkg/adapters/storage/memory"
	"github.com/orcha-dev/orcha/pkg/ports"
)

// recordBus captures published events synchronously so tests can assert on
// the exact stream without racing an async dispatcher.
type recordBus struct {
	mu     sync.Mutex
	events []ports.Event
}

func (b *recordBus) Publish(ctx context.Context, topic string, event ports.Event) error {
	b.mu.Lock()
	b.events = append(b.events, event)
	b.mu.Unlock()
	return nil
}

func (b *recordBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	return nil
}

func (b *recordBus) Unsubscribe(ctx context.Context, topic string) error { return nil }
func (b *recordBus) Close() error                                        { return nil }

func (b *recordBus) byType(t ports.EventType) []ports.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []ports.Event
	for _, ev := range b.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fakeCall struct {
	taskID  string
	input   string
	payload map[string]interface{}
}

// fakeAgent is a scriptable executor: per-task failure counts, an optional
// delay, and a record of every call it received.
type fakeAgent struct {
	mu       sync.Mutex
	delay    time.Duration
	honorCtx bool
	failures map[string]int // taskID -> failing attempts; -1 fails forever
	calls    []fakeCall
	inflight int
	peak     int
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{honorCtx: true, failures: make(map[string]int)}
}

func (a *fakeAgent) Name() string { return "worker" }

func (a *fakeAgent) Execute(ctx context.Context, input string, opts ports.ExecuteOptions) (*ports.ExecuteResult, error) {
	a.mu.Lock()
	a.inflight++
	if a.inflight > a.peak {
		a.peak = a.inflight
	}
	a.calls = append(a.calls, fakeCall{taskID: opts.TaskID, input: input, payload: opts.Payload})
	remaining := a.failures[opts.TaskID]
	if remaining > 0 {
		a.failures[opts.TaskID] = remaining - 1
	}
	delay := a.delay
	honor := a.honorCtx
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.inflight--
		a.mu.Unlock()
	}()

	if delay > 0 {
		if honor {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		} else {
			time.Sleep(delay)
		}
	}
	if remaining != 0 {
		return nil, fmt.Errorf("scripted failure for %s", opts.TaskID)
	}
	return &ports.ExecuteResult{Output: "out-" + opts.TaskID}, nil
}

func (a *fakeAgent) callOrder() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	order := make([]string, len(a.calls))
	for i, c := range a.calls {
		order[i] = c.taskID
	}
	return order
}

func (a *fakeAgent) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func newTestEngine(t *testing.T) (*Engine, *fakeAgent, *recordBus) {
	t.Helper()
	logger := zap.NewNop()
	mgr := state.NewManager(memstore.NewStore(), true, logger)
	bus := &recordBus{}
	eng := New(mgr, nil, bus, nil, logger)
	agent := newFakeAgent()
	require.NoError(t, eng.RegisterAgent(agent))
	return eng, agent, bus
}

func simpleTask(id string) workflow.Task {
	return workflow.Task{ID: id, Name: "Task " + id, AgentName: "worker", Input: "run " + id}
}

func definition(mode workflow.ExecutionMode, tasks ...workflow.Task) *workflow.Definition {
	return &workflow.Definition{
		ID:      "wf-" + string(mode),
		Name:    "Workflow " + string(mode),
		Version: "1.0",
		Mode:    mode,
		Tasks:   tasks,
	}
}

func mustRegister(t *testing.T, eng *Engine, def *workflow.Definition) {
	t.Helper()
	require.NoError(t, eng.RegisterWorkflow(def))
}

func TestExecuteWorkflowUnknownID(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	_, err := eng.ExecuteWorkflow(context.Background(), "nope", nil, workflow.ExecuteOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workflow not registered")
}

func TestSequentialExecution(t *testing.T) {
	eng, agent, bus := newTestEngine(t)
	def := definition(workflow.ModeSequential, simpleTask("a"), simpleTask("b"), simpleTask("c"))
	mustRegister(t, eng, def)

	result, err := eng.ExecuteWorkflow(context.Background(), def.ID, map[string]interface{}{"key": "value"}, workflow.ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, result.Status)
	assert.Equal(t, []string{"a", "b", "c"}, agent.callOrder())
	assert.Equal(t, "out-c", result.Output)
	assert.Len(t, result.TaskResults, 3)
	for _, id := range []string{"a", "b", "c"} {
		require.Contains(t, result.TaskResults, id)
		assert.Equal(t, workflow.TaskCompleted, result.TaskResults[id].Status)
	}

	assert.Len(t, bus.byType(ports.EventWorkflowStarted), 1)
	assert.Len(t, bus.byType(ports.EventTaskStarted), 3)
	assert.Len(t, bus.byType(ports.EventTaskCompleted), 3)
	assert.Len(t, bus.byType(ports.EventWorkflowCompleted), 1)
}

func TestSequentialStopsOnFailure(t *testing.T) {
	eng, agent, bus := newTestEngine(t)
	def := definition(workflow.ModeSequential, simpleTask("a"), simpleTask("b"), simpleTask("c"))
	mustRegister(t, eng, def)
	agent.failures["b"] = -1

	result, err := eng.ExecuteWorkflow(context.Background(), def.ID, nil, workflow.ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusFailed, result.Status)
	assert.Equal(t, []string{"a", "b"}, agent.callOrder())
	assert.NotContains(t, result.TaskResults, "c")

	require.Contains(t, result.TaskResults, "b")
	failed := result.TaskResults["b"]
	assert.Equal(t, workflow.TaskFailed, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Equal(t, workflow.CodeTaskExecutionError, failed.Error.Code)

	// Task-level failures surface on the task result, not on the
	// workflow-level error.
	assert.Nil(t, result.Error)
	assert.Len(t, bus.byType(ports.EventWorkflowFailed), 1)
}

func TestSequentialContinuesOnFailure(t *testing.T) {
	eng, agent, _ := newTestEngine(t)
	def := definition(workflow.ModeSequential, simpleTask("a"), simpleTask("b"), simpleTask("c"))
	def.ErrorHandling = &workflow.ErrorHandling{OnTaskFailure: workflow.FailureContinue}
	mustRegister(t, eng, def)
	agent.failures["b"] = -1

	result, err := eng.ExecuteWorkflow(context.Background(), def.ID, nil, workflow.ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusFailed, result.Status)
	assert.Equal(t, []string{"a", "b", "c"}, agent.callOrder())
	assert.Equal(t, workflow.TaskCompleted, result.TaskResults["c"].Status)
}

func TestParallelExecution(t *testing.T) {
	eng, agent, _ := newTestEngine(t)
	agent.delay = 30 * time.Millisecond
	def := definition(workflow.ModeParallel, simpleTask("a"), simpleTask("b"), simpleTask("c"))
	mustRegister(t, eng, def)

	result, err := eng.ExecuteWorkflow(context.Background(), def.ID, nil, workflow.ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, result.Status)
	assert.Len(t, result.TaskResults, 3)
	assert.Greater(t, agent.peak, 1, "tasks should overlap")
}

func TestParallelSettlesAllTasksOnFailure(t *testing.T) {
	eng, agent, _ := newTestEngine(t)
	def := definition(workflow.ModeParallel, simpleTask("a"), simpleTask("b"), simpleTask("c"))
	mustRegister(t, eng, def)
	agent.failures["b"] = -1

	result, err := eng.ExecuteWorkflow(context.Background(), def.ID, nil, workflow.ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusFailed, result.Status)
	assert.Len(t, result.TaskResults, 3)
	assert.Equal(t, workflow.TaskCompleted, result.TaskResults["a"].Status)
	assert.Equal(t, workflow.TaskFailed, result.TaskResults["b"].Status)
	assert.Equal(t, workflow.TaskCompleted, result.TaskResults["c"].Status)
}

func TestConditionalExecution(t *testing.T) {
	eng, agent, _ := newTestEngine(t)

	runs := simpleTask("runs")
	runs.Conditions = []workflow.Condition{{
		Type:     workflow.ConditionResult,
		TaskID:   "first",
		Operator: workflow.OpEquals,
		Value:    "out-first",
	}}
	skipped := simpleTask("skipped")
	skipped.Conditions = []workflow.Condition{{
		Type:     workflow.ConditionStatus,
		TaskID:   "first",
		Operator: workflow.OpEquals,
		Value:    string(workflow.TaskFailed),
	}}

	def := definition(workflow.ModeConditional, simpleTask("first"), runs, skipped)
	mustRegister(t, eng, def)

	result, err := eng.ExecuteWorkflow(context.Background(), def.ID, nil, workflow.ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, result.Status)
	assert.Equal(t, []string{"first", "runs"}, agent.callOrder())
	assert.Equal(t, workflow.TaskSkipped, result.TaskResults["skipped"].Status)
}

func TestPipelineThreadsData(t *testing.T) {
	eng, agent, _ := newTestEngine(t)
	def := definition(workflow.ModePipeline, simpleTask("a"), simpleTask("b"), simpleTask("c"))
	mustRegister(t, eng, def)

	result, err := eng.ExecuteWorkflow(context.Background(), def.ID, nil, workflow.ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, result.Status)
	assert.Equal(t, "out-c", result.Output)

	agent.mu.Lock()
	defer agent.mu.Unlock()
	require.Len(t, agent.calls, 3)
	assert.Nil(t, agent.calls[0].payload)
	assert.Equal(t, "out-a", agent.calls[1].payload["pipelineData"])
	assert.Equal(t, "out-b", agent.calls[2].payload["pipelineData"])
}

func TestPipelineHaltsOnFailure(t *testing.T) {
	eng, agent, _ := newTestEngine(t)
	def := definition(workflow.ModePipeline, simpleTask("a"), simpleTask("b"), simpleTask("c"))
	mustRegister(t, eng, def)
	agent.failures["b"] = -1

	result, err := eng.ExecuteWorkflow(context.Background(), def.ID, nil, workflow.ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusFailed, result.Status)
	assert.Equal(t, []string{"a", "b"}, agent.callOrder())
	assert.NotContains(t, result.TaskResults, "c")
}

func TestGraphExecutesInDependencyOrder(t *testing.T) {
	eng, agent, _ := newTestEngine(t)

	b := simpleTask("b")
	b.Dependencies = []string{"a"}
	c := simpleTask("c")
	c.Dependencies = []string{"a"}
	d := simpleTask("d")
	d.Dependencies = []string{"b", "c"}

	def := definition(workflow.ModeGraph, simpleTask("a"), b, c, d)
	mustRegister(t, eng, def)

	result, err := eng.ExecuteWorkflow(context.Background(), def.ID, nil, workflow.ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, result.Status)
	order := agent.callOrder()
	require.Len(t, order, 4)
	assert.Equal(t, "a", order[0])
	assert.Equal(t, "d", order[3])
}

func TestGraphSkipsDependentsOnFailure(t *testing.T) {
	eng, agent, _ := newTestEngine(t)

	b := simpleTask("b")
	b.Dependencies = []string{"a"}
	c := simpleTask("c")
	c.Dependencies = []string{"b"}

	def := definition(workflow.ModeGraph, simpleTask("a"), b, c, simpleTask("d"))
	def.ErrorHandling = &workflow.ErrorHandling{OnTaskFailure: workflow.FailureSkipDependents}
	mustRegister(t, eng, def)
	agent.failures["a"] = -1

	result, err := eng.ExecuteWorkflow(context.Background(), def.ID, nil, workflow.ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusFailed, result.Status)
	assert.Equal(t, workflow.TaskFailed, result.TaskResults["a"].Status)
	assert.Equal(t, workflow.TaskSkipped, result.TaskResults["b"].Status)
	assert.Equal(t, workflow.TaskSkipped, result.TaskResults["c"].Status)
	assert.Equal(t, workflow.TaskCompleted, result.TaskResults["d"].Status)
}

func TestGraphDeadlockDetection(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	b := simpleTask("b")
	b.Dependencies = []string{"a"}
	def := definition(workflow.ModeGraph, simpleTask("a"), b)

	t.Run("unreachable dependency is reported", func(t *testing.T) {
		ec := &workflow.ExecutionContext{TaskResults: map[string]*workflow.TaskResult{
			"a": {TaskID: "a", Status: workflow.TaskRunning},
		}}
		err := eng.checkGraphDrained(&execution{ec: ec, def: def}, map[string]bool{})
		require.Error(t, err)
		var werr *workflow.Error
		require.ErrorAs(t, err, &werr)
		assert.Equal(t, workflow.CodeGraphDeadlock, werr.Code)
		assert.Contains(t, werr.Error(), "b")
	})

	t.Run("failed dependency drains normally", func(t *testing.T) {
		ec := &workflow.ExecutionContext{TaskResults: map[string]*workflow.TaskResult{
			"a": {TaskID: "a", Status: workflow.TaskFailed},
		}}
		err := eng.checkGraphDrained(&execution{ec: ec, def: def}, map[string]bool{"a": true})
		assert.NoError(t, err)
	})
}

func TestDryRun(t *testing.T) {
	eng, agent, _ := newTestEngine(t)
	def := definition(workflow.ModeSequential, simpleTask("a"), simpleTask("b"))
	mustRegister(t, eng, def)

	result, err := eng.ExecuteWorkflow(context.Background(), def.ID, nil, workflow.ExecuteOptions{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, result.Status)
	assert.Zero(t, agent.callCount(), "dry run must not invoke agents")
	require.Len(t, result.TaskResults, 2)

	out, ok := result.TaskResults["a"].Output.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, out["dry_run"])
	assert.Equal(t, "Task a", out["would_execute"])
	assert.Equal(t, "worker", out["agent"])
	assert.Equal(t, "run a", out["input"])
}

func TestTaskRetriesUntilSuccess(t *testing.T) {
	eng, agent, bus := newTestEngine(t)
	task := simpleTask("flaky")
	task.Retries = 3
	def := definition(workflow.ModeSequential, task)
	def.RetryPolicy = &workflow.RetryPolicy{
		MaxRetries: 3,
		Backoff:    workflow.BackoffFixed,
		BaseDelay:  time.Millisecond,
	}
	mustRegister(t, eng, def)
	agent.failures["flaky"] = 2

	result, err := eng.ExecuteWorkflow(context.Background(), def.ID, nil, workflow.ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, result.Status)
	assert.Equal(t, 3, agent.callCount())
	assert.Equal(t, 2, result.TaskResults["flaky"].RetryCount)
	assert.Len(t, bus.byType(ports.EventTaskRetried), 2)
}

func TestTaskRetriesExhausted(t *testing.T) {
	eng, agent, bus := newTestEngine(t)
	task := simpleTask("doomed")
	task.Retries = 1
	def := definition(workflow.ModeSequential, task)
	def.RetryPolicy = &workflow.RetryPolicy{
		MaxRetries: 1,
		Backoff:    workflow.BackoffFixed,
		BaseDelay:  time.Millisecond,
	}
	mustRegister(t, eng, def)
	agent.failures["doomed"] = -1

	result, err := eng.ExecuteWorkflow(context.Background(), def.ID, nil, workflow.ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusFailed, result.Status)
	assert.Equal(t, 2, agent.callCount())

	failed := result.TaskResults["doomed"]
	assert.Equal(t, workflow.TaskFailed, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Equal(t, workflow.CodeTaskExecutionError, failed.Error.Code)
	assert.Len(t, bus.byType(ports.EventTaskRetried), 1)
	assert.Len(t, bus.byType(ports.EventTaskFailed), 1)
}

func TestTaskTimeout(t *testing.T) {
	eng, agent, _ := newTestEngine(t)
	agent.delay = 200 * time.Millisecond
	task := simpleTask("slow")
	task.Timeout = 20 * time.Millisecond
	def := definition(workflow.ModeSequential, task)
	mustRegister(t, eng, def)

	result, err := eng.ExecuteWorkflow(context.Background(), def.ID, nil, workflow.ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusFailed, result.Status)
	failed := result.TaskResults["slow"]
	require.NotNil(t, failed.Error)
	assert.Equal(t, workflow.CodeTaskTimeout, failed.Error.Code)
}

func TestWorkflowGlobalTimeout(t *testing.T) {
	eng, agent, _ := newTestEngine(t)
	agent.delay = 80 * time.Millisecond
	agent.honorCtx = false

	def := definition(workflow.ModeSequential, simpleTask("a"), simpleTask("b"))
	def.GlobalTimeout = 40 * time.Millisecond
	mustRegister(t, eng, def)

	result, err := eng.ExecuteWorkflow(context.Background(), def.ID, nil, workflow.ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, workflow.CodeWorkflowTimeout, result.Error.Code)
	assert.NotContains(t, result.TaskResults, "b")
}

func TestPauseAndResume(t *testing.T) {
	eng, agent, bus := newTestEngine(t)
	agent.delay = 40 * time.Millisecond
	def := definition(workflow.ModeSequential, simpleTask("a"), simpleTask("b"))
	mustRegister(t, eng, def)

	const execID = "exec-pause"
	results := make(chan *workflow.ExecutionResult, 1)
	go func() {
		result, err := eng.ExecuteWorkflow(context.Background(), def.ID, nil, workflow.ExecuteOptions{ExecutionID: execID})
		require.NoError(t, err)
		results <- result
	}()

	require.Eventually(t, func() bool {
		ec, err := eng.GetExecutionStatus(context.Background(), execID)
		return err == nil && ec.Status == workflow.StatusRunning
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, eng.PauseWorkflow(context.Background(), execID))

	ec, err := eng.GetExecutionStatus(context.Background(), execID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPaused, ec.Status)

	// Pausing twice and resuming a non-paused execution both fail.
	assert.Error(t, eng.PauseWorkflow(context.Background(), execID))

	require.NoError(t, eng.ResumeWorkflow(context.Background(), execID))
	assert.Error(t, eng.ResumeWorkflow(context.Background(), execID))

	select {
	case result := <-results:
		assert.Equal(t, workflow.StatusCompleted, result.Status)
		assert.Len(t, result.TaskResults, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("execution did not finish after resume")
	}

	assert.Len(t, bus.byType(ports.EventWorkflowPaused), 1)
	assert.Len(t, bus.byType(ports.EventWorkflowResumed), 1)
}

func TestCancelWorkflow(t *testing.T) {
	eng, agent, bus := newTestEngine(t)
	agent.delay = 40 * time.Millisecond
	def := definition(workflow.ModeSequential, simpleTask("a"), simpleTask("b"), simpleTask("c"))
	mustRegister(t, eng, def)

	const execID = "exec-cancel"
	results := make(chan *workflow.ExecutionResult, 1)
	go func() {
		result, err := eng.ExecuteWorkflow(context.Background(), def.ID, nil, workflow.ExecuteOptions{ExecutionID: execID})
		require.NoError(t, err)
		results <- result
	}()

	require.Eventually(t, func() bool {
		ec, err := eng.GetExecutionStatus(context.Background(), execID)
		return err == nil && ec.Status == workflow.StatusRunning
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, eng.CancelWorkflow(context.Background(), execID))

	select {
	case result := <-results:
		assert.Equal(t, workflow.StatusCancelled, result.Status)
		assert.Less(t, agent.callCount(), 3, "cancelled execution must not dispatch remaining tasks")
	case <-time.After(2 * time.Second):
		t.Fatal("execution did not finish after cancel")
	}

	// Cancelling an unknown execution fails.
	assert.Error(t, eng.CancelWorkflow(context.Background(), "nope"))
	assert.Len(t, bus.byType(ports.EventWorkflowCancelled), 1)
}

func TestRegisterWorkflow(t *testing.T) {
	eng, _, bus := newTestEngine(t)

	t.Run("rejects invalid definitions", func(t *testing.T) {
		def := definition(workflow.ModeSequential, workflow.Task{ID: "a", Name: "A", AgentName: "ghost", Input: "x"})
		err := eng.RegisterWorkflow(def)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "workflow validation failed")
		_, ok := eng.GetWorkflow(def.ID)
		assert.False(t, ok)
	})

	t.Run("stores valid definitions and announces them", func(t *testing.T) {
		def := definition(workflow.ModeSequential, simpleTask("a"))
		require.NoError(t, eng.RegisterWorkflow(def))

		got, ok := eng.GetWorkflow(def.ID)
		require.True(t, ok)
		assert.Equal(t, def.Name, got.Name)
		assert.Len(t, eng.ListWorkflows(), 1)

		events := bus.byType(ports.EventWorkflowRegistered)
		require.Len(t, events, 1)
		assert.Equal(t, def.ID, events[0].WorkflowID)
	})
}

func TestUnregisterWorkflow(t *testing.T) {
	eng, _, bus := newTestEngine(t)

	assert.Error(t, eng.UnregisterWorkflow("nope"))

	def := definition(workflow.ModeSequential, simpleTask("a"))
	mustRegister(t, eng, def)
	require.NoError(t, eng.UnregisterWorkflow(def.ID))

	_, ok := eng.GetWorkflow(def.ID)
	assert.False(t, ok)
	assert.Len(t, bus.byType(ports.EventWorkflowUnregistered), 1)
}

func TestGetExecutionStatusFallsBackToStore(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	def := definition(workflow.ModeSequential, simpleTask("a"))
	mustRegister(t, eng, def)

	result, err := eng.ExecuteWorkflow(context.Background(), def.ID, nil, workflow.ExecuteOptions{})
	require.NoError(t, err)

	ec, err := eng.GetExecutionStatus(context.Background(), result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, ec.Status)
	assert.Contains(t, ec.TaskResults, "a")

	_, err = eng.GetExecutionStatus(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution not found")
}

func TestAgentRegistry(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	assert.Error(t, eng.RegisterAgent(nil))
	assert.Error(t, eng.UnregisterAgent("ghost"))
	require.NoError(t, eng.UnregisterAgent("worker"))
	assert.Error(t, eng.UnregisterAgent("worker"))
}

func TestConditionEvaluation(t *testing.T) {
	ec := &workflow.ExecutionContext{TaskResults: map[string]*workflow.TaskResult{
		"done": {TaskID: "done", Status: workflow.TaskCompleted, Output: "result: 42"},
	}}

	tests := []struct {
		name string
		cond workflow.Condition
		want bool
	}{
		{"result contains", workflow.Condition{Type: workflow.ConditionResult, TaskID: "done", Operator: workflow.OpContains, Value: "42"}, true},
		{"result not equals", workflow.Condition{Type: workflow.ConditionResult, TaskID: "done", Operator: workflow.OpNotEquals, Value: "other"}, true},
		{"result exists", workflow.Condition{Type: workflow.ConditionResult, TaskID: "done", Operator: workflow.OpExists}, true},
		{"missing task result", workflow.Condition{Type: workflow.ConditionResult, TaskID: "absent", Operator: workflow.OpExists}, false},
		{"status equals", workflow.Condition{Type: workflow.ConditionStatus, TaskID: "done", Operator: workflow.OpEquals, Value: string(workflow.TaskCompleted)}, true},
		{"status of missing task", workflow.Condition{Type: workflow.ConditionStatus, TaskID: "absent", Operator: workflow.OpEquals, Value: "completed"}, false},
		{"custom evaluator", workflow.Condition{Type: workflow.ConditionCustom, Evaluate: func(ec *workflow.ExecutionContext) bool { return len(ec.TaskResults) == 1 }}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evalCondition(ec, &tt.cond))
		})
	}
}

func TestCompareValuesNumeric(t *testing.T) {
	assert.True(t, compareValues(3.5, workflow.OpGreaterThan, 2))
	assert.True(t, compareValues("10", workflow.OpLessThan, 20))
	assert.False(t, compareValues("not a number", workflow.OpGreaterThan, 1))
}
