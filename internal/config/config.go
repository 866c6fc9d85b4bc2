package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the orchestration daemon
type Config struct {
	// Server configuration
	HTTPPort int    `env:"ORCHA_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"ORCHA_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Storage backend: memory, redis or sqlite
	Storage StorageConfig

	// Event bus backend: memory or redis
	Events EventsConfig

	// Redis connection, shared by the redis storage and event backends
	Redis RedisConfig

	// Agent provider configuration
	Agent AgentConfig

	// Scheduler configuration
	Scheduler SchedulerConfig

	// Timeouts
	Timeouts TimeoutConfig

	// WorkflowDir is an optional directory of YAML workflow definitions
	// registered at startup.
	WorkflowDir string `env:"ORCHA_WORKFLOW_DIR"`

	// TriggersFile is an optional YAML file of cron triggers loaded at
	// startup.
	TriggersFile string `env:"ORCHA_TRIGGERS_FILE"`
}

// StorageConfig selects and tunes the state persistence backend
type StorageConfig struct {
	Backend string        `env:"ORCHA_STORAGE_BACKEND" envDefault:"memory"`
	TTL     time.Duration `env:"ORCHA_STORAGE_TTL" envDefault:"24h"`
	// SQLitePath is only used when Backend is sqlite.
	SQLitePath string `env:"ORCHA_SQLITE_PATH" envDefault:"orcha.db"`
}

// EventsConfig selects the event bus backend
type EventsConfig struct {
	Backend       string `env:"ORCHA_EVENTS_BACKEND" envDefault:"memory"`
	ConsumerGroup string `env:"ORCHA_EVENTS_CONSUMER_GROUP" envDefault:"orcha"`
	ConsumerName  string `env:"ORCHA_EVENTS_CONSUMER_NAME" envDefault:"orcha-1"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// AgentConfig holds agent provider configuration
type AgentConfig struct {
	Provider string `env:"AGENT_PROVIDER" envDefault:"anthropic"`
	APIKey   string `env:"AGENT_API_KEY"`

	Name         string        `env:"AGENT_NAME" envDefault:"assistant"`
	Model        string        `env:"AGENT_MODEL"`
	SystemPrompt string        `env:"AGENT_SYSTEM_PROMPT"`
	MaxTokens    int64         `env:"AGENT_MAX_TOKENS" envDefault:"4096"`
	Timeout      time.Duration `env:"AGENT_TIMEOUT" envDefault:"120s"`
}

// SchedulerConfig holds task scheduler configuration
type SchedulerConfig struct {
	MaxConcurrentTasks int           `env:"SCHEDULER_MAX_CONCURRENT_TASKS" envDefault:"5"`
	TaskQueueSize      int           `env:"SCHEDULER_TASK_QUEUE_SIZE" envDefault:"100"`
	HeartbeatInterval  time.Duration `env:"SCHEDULER_HEARTBEAT_INTERVAL" envDefault:"30s"`
	CleanupInterval    time.Duration `env:"SCHEDULER_CLEANUP_INTERVAL" envDefault:"1m"`
	StaleTaskThreshold time.Duration `env:"SCHEDULER_STALE_TASK_THRESHOLD" envDefault:"10m"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	switch c.Storage.Backend {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("invalid storage backend: %s (must be memory, redis or sqlite)", c.Storage.Backend)
	}
	if c.Storage.Backend == "sqlite" && c.Storage.SQLitePath == "" {
		return fmt.Errorf("sqlite path is required for the sqlite backend")
	}

	switch c.Events.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid events backend: %s (must be memory or redis)", c.Events.Backend)
	}

	if (c.Storage.Backend == "redis" || c.Events.Backend == "redis") && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	if c.Agent.Provider != "" && c.Agent.Provider != "anthropic" && c.Agent.Provider != "none" {
		return fmt.Errorf("unsupported agent provider: %s", c.Agent.Provider)
	}
	if c.Agent.Provider == "anthropic" && c.Agent.APIKey == "" {
		return fmt.Errorf("agent API key is required for the anthropic provider")
	}

	if c.Scheduler.MaxConcurrentTasks < 1 {
		return fmt.Errorf("scheduler max concurrent tasks must be at least 1")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
