package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/orcha-dev/orcha/internal/workflow"
	"github.com/orcha-dev/orcha/pkg/ports"
)

// Heuristic validation thresholds. All of them produce warnings, never errors.
const (
	warnParallelTaskCount    = 50
	warnTotalTaskCount       = 100
	warnSequentialAvgTimeout = 5 * time.Minute
	warnInputPayloadBytes    = 10_000
)

// ValidationResult accumulates everything wrong with a definition.
// Errors block registration; warnings do not.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (r *ValidationResult) errorf(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) warnf(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validator checks workflow definitions before the engine accepts them.
// It is stateless: it never mutates its input and never returns a Go error;
// every problem surfaces as an entry in the result.
type Validator struct{}

// NewValidator creates a definition validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks a definition for structural correctness, dependency-graph
// soundness and execution-mode fitness against the available agents.
func (v *Validator) Validate(def *workflow.Definition, agents map[string]ports.Agent) *ValidationResult {
	result := &ValidationResult{}

	if def == nil {
		result.errorf("workflow definition is nil")
		return result
	}

	v.checkRequiredFields(def, result)
	taskIDs := v.checkTasks(def, agents, result)
	v.checkConditions(def, taskIDs, result)
	v.checkDependencies(def, taskIDs, result)
	v.checkRetryPolicy(def, result)
	v.checkErrorHandling(def, result)
	v.checkModeFitness(def, result)
	v.checkSizeHeuristics(def, result)

	result.Valid = len(result.Errors) == 0
	return result
}

func (v *Validator) checkRequiredFields(def *workflow.Definition, result *ValidationResult) {
	if def.ID == "" {
		result.errorf("workflow id is required")
	}
	if def.Name == "" {
		result.errorf("workflow name is required")
	}
	if def.Version == "" {
		result.errorf("workflow version is required")
	}

	known := false
	for _, m := range workflow.Modes {
		if def.Mode == m {
			known = true
			break
		}
	}
	if !known {
		result.errorf("unknown execution mode %q (must be one of %s)", def.Mode, joinModes())
	}

	if len(def.Tasks) == 0 {
		result.errorf("workflow must declare at least one task")
	}
	if def.GlobalTimeout < 0 {
		result.errorf("global timeout must not be negative")
	}
}

func (v *Validator) checkTasks(def *workflow.Definition, agents map[string]ports.Agent, result *ValidationResult) map[string]bool {
	taskIDs := make(map[string]bool, len(def.Tasks))

	for i := range def.Tasks {
		task := &def.Tasks[i]

		if task.ID == "" {
			result.errorf("task at index %d has no id", i)
			continue
		}
		if taskIDs[task.ID] {
			result.errorf("duplicate task id %q", task.ID)
		}
		taskIDs[task.ID] = true

		if task.Name == "" {
			result.errorf("task %q has no name", task.ID)
		}
		if !task.HasInput() {
			result.errorf("task %q has no input", task.ID)
		}
		if task.Timeout < 0 {
			result.errorf("task %q timeout must be positive when set", task.ID)
		}
		if task.Retries < 0 {
			result.errorf("task %q retries must not be negative", task.ID)
		}

		if task.AgentName == "" {
			result.errorf("task %q has no agent name", task.ID)
		} else if _, ok := agents[task.AgentName]; !ok {
			result.errorf("task %q references unknown agent %q (registered agents: %s)",
				task.ID, task.AgentName, knownAgentNames(agents))
		}
	}
	return taskIDs
}

func (v *Validator) checkConditions(def *workflow.Definition, taskIDs map[string]bool, result *ValidationResult) {
	for i := range def.Tasks {
		task := &def.Tasks[i]
		for j, cond := range task.Conditions {
			switch cond.Type {
			case workflow.ConditionCustom:
				if cond.Evaluate == nil {
					result.errorf("task %q condition %d is custom but supplies no evaluator", task.ID, j)
				}
			case workflow.ConditionResult, workflow.ConditionStatus:
				if !validOperator(cond.Operator) {
					result.errorf("task %q condition %d has unknown operator %q", task.ID, j, cond.Operator)
				}
				if cond.TaskID == "" {
					result.errorf("task %q condition %d references no task", task.ID, j)
				} else if !taskIDs[cond.TaskID] {
					result.errorf("task %q condition %d references unknown task %q", task.ID, j, cond.TaskID)
				}
			default:
				result.errorf("task %q condition %d has unknown type %q", task.ID, j, cond.Type)
			}
		}
	}
}

func (v *Validator) checkDependencies(def *workflow.Definition, taskIDs map[string]bool, result *ValidationResult) {
	deps := make(map[string][]string, len(def.Tasks))
	for i := range def.Tasks {
		task := &def.Tasks[i]
		for _, dep := range task.Dependencies {
			if dep == task.ID {
				result.errorf("task %q depends on itself", task.ID)
				continue
			}
			if !taskIDs[dep] {
				result.errorf("task %q depends on unknown task %q", task.ID, dep)
				continue
			}
			deps[task.ID] = append(deps[task.ID], dep)
		}
	}

	// Depth-first search with a recursion stack; any back-edge is a cycle.
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	states := make(map[string]int, len(def.Tasks))
	var stack []string

	var visit func(id string) bool
	visit = func(id string) bool {
		states[id] = inStack
		stack = append(stack, id)
		for _, dep := range deps[id] {
			switch states[dep] {
			case inStack:
				// Report the full cycle path for diagnosis.
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, stack[start:]...), dep)
				result.errorf("cycle detected in task dependencies: %s", strings.Join(cycle, " -> "))
				stack = stack[:len(stack)-1]
				states[id] = done
				return true
			case unvisited:
				if visit(dep) {
					stack = stack[:len(stack)-1]
					states[id] = done
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		states[id] = done
		return false
	}

	for i := range def.Tasks {
		id := def.Tasks[i].ID
		if states[id] == unvisited {
			visit(id)
		}
	}
}

func (v *Validator) checkRetryPolicy(def *workflow.Definition, result *ValidationResult) {
	rp := def.RetryPolicy
	if rp == nil {
		return
	}
	if rp.MaxRetries < 0 {
		result.errorf("retry policy max retries must not be negative")
	}
	switch rp.Backoff {
	case workflow.BackoffLinear, workflow.BackoffExponential, workflow.BackoffFixed:
	default:
		result.errorf("retry policy has unknown backoff strategy %q", rp.Backoff)
	}
	if rp.BaseDelay <= 0 {
		result.errorf("retry policy base delay must be positive")
	}
	if rp.MaxDelay != 0 && rp.MaxDelay <= rp.BaseDelay {
		result.errorf("retry policy max delay must be greater than base delay")
	}
}

func (v *Validator) checkErrorHandling(def *workflow.Definition, result *ValidationResult) {
	eh := def.ErrorHandling
	if eh == nil {
		return
	}
	switch eh.OnTaskFailure {
	case "", workflow.FailureStop, workflow.FailureContinue, workflow.FailureRetry, workflow.FailureSkipDependents:
	default:
		result.errorf("unknown on-task-failure action %q", eh.OnTaskFailure)
	}
	switch eh.OnWorkflowFailure {
	case "", workflow.WorkflowFailureStop, workflow.WorkflowFailureRollback, workflow.WorkflowFailurePartialComplete:
	default:
		result.errorf("unknown on-workflow-failure action %q", eh.OnWorkflowFailure)
	}
	if eh.OnTaskFailure == workflow.FailureContinue && eh.OnWorkflowFailure == workflow.WorkflowFailureStop {
		result.warnf("continuing on task failure while stopping on workflow failure is contradictory")
	}
}

func (v *Validator) checkModeFitness(def *workflow.Definition, result *ValidationResult) {
	switch def.Mode {
	case workflow.ModeSequential, workflow.ModeParallel:
		for i := range def.Tasks {
			if len(def.Tasks[i].Dependencies) > 0 {
				result.warnf("task %q declares dependencies, which are ignored in %s mode", def.Tasks[i].ID, def.Mode)
			}
		}
		if def.Mode == workflow.ModeParallel && len(def.Tasks) > warnParallelTaskCount {
			result.warnf("parallel mode with %d tasks may exhaust downstream capacity", len(def.Tasks))
		}

	case workflow.ModeConditional:
		unconditional := 0
		for i := range def.Tasks {
			if len(def.Tasks[i].Conditions) == 0 {
				unconditional++
			}
		}
		if unconditional == len(def.Tasks) {
			result.warnf("conditional mode but no task declares a condition; every task will always run")
		} else if unconditional > 0 {
			result.warnf("%d of %d tasks have no conditions and will always run", unconditional, len(def.Tasks))
		}

	case workflow.ModePipeline:
		if len(def.Tasks) < 2 {
			result.warnf("pipeline mode with fewer than two tasks has nothing to chain")
		}
		structured := false
		for i := range def.Tasks {
			if len(def.Tasks[i].Payload) > 0 {
				structured = true
				break
			}
		}
		if !structured && len(def.Tasks) >= 2 {
			result.warnf("pipeline mode but no task accepts structured input; pipeline data is only threaded through payloads")
		}

	case workflow.ModeGraph:
		anyDeps := false
		referenced := make(map[string]bool)
		for i := range def.Tasks {
			if len(def.Tasks[i].Dependencies) > 0 {
				anyDeps = true
				referenced[def.Tasks[i].ID] = true
				for _, dep := range def.Tasks[i].Dependencies {
					referenced[dep] = true
				}
			}
		}
		if !anyDeps {
			result.warnf("graph mode but no task declares a dependency")
		} else {
			var isolated []string
			for i := range def.Tasks {
				if !referenced[def.Tasks[i].ID] {
					isolated = append(isolated, def.Tasks[i].ID)
				}
			}
			if len(isolated) > 0 {
				sort.Strings(isolated)
				result.warnf("tasks %s are isolated: neither a dependency of nor dependent on any other task", strings.Join(isolated, ", "))
			}
		}
	}
}

func (v *Validator) checkSizeHeuristics(def *workflow.Definition, result *ValidationResult) {
	if len(def.Tasks) > warnTotalTaskCount {
		result.warnf("workflow declares %d tasks; consider splitting it", len(def.Tasks))
	}

	if def.Mode == workflow.ModeSequential && len(def.Tasks) > 0 {
		var total time.Duration
		for i := range def.Tasks {
			total += def.Tasks[i].Timeout
		}
		if avg := total / time.Duration(len(def.Tasks)); avg > warnSequentialAvgTimeout {
			result.warnf("average task timeout %s is high for sequential mode; total runtime may reach %s", avg, total)
		}
	}

	for i := range def.Tasks {
		if len(def.Tasks[i].Input) > warnInputPayloadBytes {
			result.warnf("task %q input payload is %d bytes; oversized inputs slow down agents", def.Tasks[i].ID, len(def.Tasks[i].Input))
		}
	}
}

func validOperator(op workflow.ConditionOperator) bool {
	switch op {
	case workflow.OpEquals, workflow.OpNotEquals, workflow.OpContains,
		workflow.OpGreaterThan, workflow.OpLessThan, workflow.OpExists:
		return true
	}
	return false
}

func knownAgentNames(agents map[string]ports.Agent) string {
	if len(agents) == 0 {
		return "none"
	}
	names := make([]string, 0, len(agents))
	for name := range agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func joinModes() string {
	parts := make([]string, len(workflow.Modes))
	for i, m := range workflow.Modes {
		parts[i] = string(m)
	}
	return strings.Join(parts, ", ")
}
