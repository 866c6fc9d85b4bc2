package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/orcha-dev/orcha/internal/application/engine"
	"github.com/orcha-dev/orcha/internal/application/scheduler"
	"github.com/orcha-dev/orcha/internal/application/state"
	"github.com/orcha-dev/orcha/internal/application/triggers"
	"github.com/orcha-dev/orcha/internal/config"
	"github.com/orcha-dev/orcha/internal/workflow"
	anthropicagent "github.com/orcha-dev/orcha/pkg/adapters/agent/anthropic"
	eventsmemory "github.com/orcha-dev/orcha/pkg/adapters/events/memory"
	eventsredis "github.com/orcha-dev/orcha/pkg/adapters/events/redis"
	"github.com/orcha-dev/orcha/pkg/adapters/metrics/prometheus"
	storagememory "github.com/orcha-dev/orcha/pkg/adapters/storage/memory"
	storageredis "github.com/orcha-dev/orcha/pkg/adapters/storage/redis"
	storagesqlite "github.com/orcha-dev/orcha/pkg/adapters/storage/sqlite"
	grpcapi "github.com/orcha-dev/orcha/pkg/api/grpc"
	httpapi "github.com/orcha-dev/orcha/pkg/api/http"
	"github.com/orcha-dev/orcha/pkg/api/websocket"
	"github.com/orcha-dev/orcha/pkg/ports"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting orcha",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	ctx := context.Background()

	// Initialize Redis client when any backend needs it
	var redisClient *goredis.Client
	if cfg.Storage.Backend == "redis" || cfg.Events.Backend == "redis" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	// State storage backend
	var store ports.StateStore
	switch cfg.Storage.Backend {
	case "redis":
		store = storageredis.NewStore(redisClient, cfg.Storage.TTL, logger)
	case "sqlite":
		sqliteStore, err := storagesqlite.NewStore(cfg.Storage.SQLitePath, logger)
		if err != nil {
			logger.Fatal("failed to open sqlite store", zap.Error(err))
		}
		defer sqliteStore.Close()
		store = sqliteStore
	default:
		store = storagememory.NewStore()
	}
	logger.Info("state storage initialized", zap.String("backend", cfg.Storage.Backend))

	// Event bus backend
	var eventBus ports.EventBus
	if cfg.Events.Backend == "redis" {
		eventBus = eventsredis.NewStreamsBus(redisClient, cfg.Events.ConsumerGroup, cfg.Events.ConsumerName, logger)
	} else {
		eventBus = eventsmemory.NewBus()
	}

	metricsCollector := prometheus.NewCollector()

	stateMgr := state.NewManager(store, true, logger)

	// The scheduler's runner delegates to the engine, which is built right
	// after it; the indirection breaks the construction cycle.
	var eng *engine.Engine
	runner := func(ctx context.Context, qt *scheduler.QueuedTask) (interface{}, error) {
		return eng.ExecuteQueuedTask(ctx, qt)
	}

	sched := scheduler.New(scheduler.Config{
		MaxConcurrentTasks: cfg.Scheduler.MaxConcurrentTasks,
		TaskQueueSize:      cfg.Scheduler.TaskQueueSize,
		HeartbeatInterval:  cfg.Scheduler.HeartbeatInterval,
		CleanupInterval:    cfg.Scheduler.CleanupInterval,
		StaleTaskThreshold: cfg.Scheduler.StaleTaskThreshold,
	}, runner, eventBus, metricsCollector, logger)

	eng = engine.New(stateMgr, sched, eventBus, metricsCollector, logger)

	// Register the configured agent
	if cfg.Agent.Provider == "anthropic" {
		agent, err := anthropicagent.NewAgent(anthropicagent.Config{
			Name:         cfg.Agent.Name,
			APIKey:       cfg.Agent.APIKey,
			Model:        cfg.Agent.Model,
			SystemPrompt: cfg.Agent.SystemPrompt,
			MaxTokens:    cfg.Agent.MaxTokens,
			Logger:       logger,
		})
		if err != nil {
			logger.Fatal("failed to create agent", zap.Error(err))
		}
		if err := eng.RegisterAgent(agent); err != nil {
			logger.Fatal("failed to register agent", zap.Error(err))
		}
		logger.Info("agent registered", zap.String("agent", cfg.Agent.Name))
	}

	// Register workflow definitions from disk
	if cfg.WorkflowDir != "" {
		if err := registerWorkflowDir(eng, cfg.WorkflowDir, logger); err != nil {
			logger.Fatal("failed to load workflows", zap.Error(err))
		}
	}

	// Start the task scheduler
	if err := sched.Start(); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}

	// Cron triggers
	triggerRunner := triggers.NewRunner(eng, logger)
	if cfg.TriggersFile != "" {
		loaded, err := triggers.LoadFile(cfg.TriggersFile)
		if err != nil {
			logger.Fatal("failed to load triggers", zap.Error(err))
		}
		for _, t := range loaded {
			if err := triggerRunner.AddTrigger(t); err != nil {
				logger.Fatal("failed to register trigger", zap.Error(err))
			}
		}
	}
	triggerRunner.Start()

	// Initialize API servers
	httpServer := httpapi.NewServer(&httpapi.Config{
		Port:   cfg.HTTPPort,
		Engine: eng,
		Logger: logger,
	})

	wsHandler := websocket.NewHandler(eventBus, logger)
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpcapi.NewServer(&grpcapi.Config{
		Port:   cfg.GRPCPort,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("orcha started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("events_backend", cfg.Events.Backend))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	triggerRunner.Stop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Error("engine shutdown error", zap.Error(err))
	}

	if err := sched.Stop(); err != nil {
		logger.Error("scheduler shutdown error", zap.Error(err))
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("orcha shut down complete")
}

// registerWorkflowDir loads every YAML definition in dir and registers it.
func registerWorkflowDir(eng *engine.Engine, dir string, logger *zap.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read workflow directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		def, err := workflow.LoadDefinition(path)
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		if err := eng.RegisterWorkflow(def); err != nil {
			return fmt.Errorf("register %s: %w", path, err)
		}

		logger.Info("workflow registered from file",
			zap.String("workflow_id", def.ID),
			zap.String("file", path))
	}

	return nil
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
