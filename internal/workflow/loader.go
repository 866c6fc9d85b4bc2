package workflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlDefinition mirrors Definition with human-friendly duration strings.
type yamlDefinition struct {
	ID            string             `yaml:"id"`
	Name          string             `yaml:"name"`
	Version       string             `yaml:"version"`
	Mode          string             `yaml:"mode"`
	Tasks         []yamlTask         `yaml:"tasks"`
	GlobalTimeout string             `yaml:"global_timeout"`
	RetryPolicy   *yamlRetryPolicy   `yaml:"retry_policy"`
	ErrorHandling *yamlErrorHandling `yaml:"error_handling"`
}

type yamlTask struct {
	ID           string                 `yaml:"id"`
	Name         string                 `yaml:"name"`
	AgentName    string                 `yaml:"agent_name"`
	Input        string                 `yaml:"input"`
	Payload      map[string]interface{} `yaml:"payload"`
	Dependencies []string               `yaml:"dependencies"`
	Conditions   []yamlCondition        `yaml:"conditions"`
	Timeout      string                 `yaml:"timeout"`
	Retries      int                    `yaml:"retries"`
}

type yamlCondition struct {
	Type     string      `yaml:"type"`
	TaskID   string      `yaml:"task_id"`
	Operator string      `yaml:"operator"`
	Value    interface{} `yaml:"value"`
}

type yamlRetryPolicy struct {
	MaxRetries int    `yaml:"max_retries"`
	Backoff    string `yaml:"backoff"`
	BaseDelay  string `yaml:"base_delay"`
	MaxDelay   string `yaml:"max_delay"`
}

type yamlErrorHandling struct {
	OnTaskFailure     string `yaml:"on_task_failure"`
	OnWorkflowFailure string `yaml:"on_workflow_failure"`
}

// ParseDefinition decodes a workflow definition from YAML. Custom conditions
// cannot be expressed in YAML; only result/status conditions are accepted.
func ParseDefinition(data []byte) (*Definition, error) {
	var yd yamlDefinition
	if err := yaml.Unmarshal(data, &yd); err != nil {
		return nil, fmt.Errorf("failed to parse workflow definition: %w", err)
	}

	def := &Definition{
		ID:      yd.ID,
		Name:    yd.Name,
		Version: yd.Version,
		Mode:    ExecutionMode(yd.Mode),
	}

	var err error
	if def.GlobalTimeout, err = parseDuration(yd.GlobalTimeout, "global_timeout"); err != nil {
		return nil, err
	}

	for _, yt := range yd.Tasks {
		task := Task{
			ID:           yt.ID,
			Name:         yt.Name,
			AgentName:    yt.AgentName,
			Input:        yt.Input,
			Payload:      yt.Payload,
			Dependencies: yt.Dependencies,
			Retries:      yt.Retries,
		}
		if task.Timeout, err = parseDuration(yt.Timeout, fmt.Sprintf("task %s timeout", yt.ID)); err != nil {
			return nil, err
		}
		for _, yc := range yt.Conditions {
			if yc.Type == string(ConditionCustom) {
				return nil, fmt.Errorf("task %s: custom conditions cannot be loaded from YAML", yt.ID)
			}
			task.Conditions = append(task.Conditions, Condition{
				Type:     ConditionType(yc.Type),
				TaskID:   yc.TaskID,
				Operator: ConditionOperator(yc.Operator),
				Value:    yc.Value,
			})
		}
		def.Tasks = append(def.Tasks, task)
	}

	if yd.RetryPolicy != nil {
		rp := &RetryPolicy{
			MaxRetries: yd.RetryPolicy.MaxRetries,
			Backoff:    BackoffStrategy(yd.RetryPolicy.Backoff),
		}
		if rp.BaseDelay, err = parseDuration(yd.RetryPolicy.BaseDelay, "retry_policy base_delay"); err != nil {
			return nil, err
		}
		if rp.MaxDelay, err = parseDuration(yd.RetryPolicy.MaxDelay, "retry_policy max_delay"); err != nil {
			return nil, err
		}
		def.RetryPolicy = rp
	}

	if yd.ErrorHandling != nil {
		def.ErrorHandling = &ErrorHandling{
			OnTaskFailure:     FailureAction(yd.ErrorHandling.OnTaskFailure),
			OnWorkflowFailure: WorkflowFailureAction(yd.ErrorHandling.OnWorkflowFailure),
		}
	}

	return def, nil
}

// LoadDefinition reads and parses a workflow definition file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow definition: %w", err)
	}
	return ParseDefinition(data)
}

func parseDuration(s, field string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return d, nil
}
