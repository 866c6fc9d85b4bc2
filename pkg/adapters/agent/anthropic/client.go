package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/orcha-dev/orcha/pkg/ports"
)

const defaultModel = "claude-sonnet-4-20250514"

// Agent executes tasks by sending them to the Anthropic Messages API. Each
// task input becomes a user message; the concatenated text blocks of the
// reply become the task output.
type Agent struct {
	name      string
	client    anthropic.Client
	model     string
	system    string
	maxTokens int64
	logger    *zap.Logger
}

// Config configures an Anthropic-backed agent.
type Config struct {
	// Name is how workflows refer to this agent.
	Name string
	// APIKey authenticates against the Anthropic API.
	APIKey string
	// Model is optional and defaults to a recent Claude model.
	Model string
	// SystemPrompt is optional and prepended to every task.
	SystemPrompt string
	// MaxTokens bounds the reply size. Defaults to 4096.
	MaxTokens int64
	Logger    *zap.Logger
}

// NewAgent creates an agent backed by the Anthropic Messages API.
func NewAgent(cfg Config) (*Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &Agent{
		name:      cfg.Name,
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     model,
		system:    cfg.SystemPrompt,
		maxTokens: maxTokens,
		logger:    logger,
	}, nil
}

// Name returns the registered agent name.
func (a *Agent) Name() string {
	return a.name
}

// Info exposes capability metadata for workflow validation.
func (a *Agent) Info() ports.AgentInfo {
	return ports.AgentInfo{
		Name:      a.name,
		HasMemory: false,
	}
}

// Execute sends the task input to the model and returns the text reply.
func (a *Agent) Execute(ctx context.Context, input string, opts ports.ExecuteOptions) (*ports.ExecuteResult, error) {
	prompt := input
	if len(opts.Payload) > 0 {
		payload, err := json.Marshal(opts.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode task payload: %w", err)
		}
		prompt = fmt.Sprintf("%s\n\nContext:\n%s", input, payload)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if a.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: a.system}}
	}

	start := time.Now()
	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	var output strings.Builder
	for _, block := range message.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			output.WriteString(variant.Text)
		}
	}

	a.logger.Debug("anthropic call completed",
		zap.String("agent", a.name),
		zap.String("model", a.model),
		zap.String("task_id", opts.TaskID),
		zap.Int64("input_tokens", message.Usage.InputTokens),
		zap.Int64("output_tokens", message.Usage.OutputTokens),
		zap.Duration("latency", time.Since(start)))

	return &ports.ExecuteResult{
		Output:         output.String(),
		ConversationID: opts.ConversationID,
	}, nil
}
