package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orcha-dev/orcha/internal/workflow"
	"github.com/orcha-dev/orcha/pkg/ports"
)

// Topic is the event bus topic the scheduler publishes task outcomes on.
const Topic = "scheduler.events"

// Synchronous API errors, distinct from task-level failures which are
// reported asynchronously via events.
var (
	ErrQueueFull    = errors.New("scheduler: task queue is full")
	ErrTaskNotFound = errors.New("scheduler: task not found")
	ErrNotRunning   = errors.New("scheduler: not running")
)

// QueuedTask is one entry in the scheduler's queue. A retry is a new entry
// with an id derived from the original, never a mutation of history.
type QueuedTask struct {
	ID            string
	ExecutionID   string
	Task          workflow.Task
	Priority      int
	ScheduledTime time.Time
	Dependencies  []string
	RetryCount    int
	OriginID      string
}

// TaskRunner executes a queued task's payload.
type TaskRunner func(ctx context.Context, task *QueuedTask) (interface{}, error)

// Config tunes the scheduler.
type Config struct {
	MaxConcurrentTasks int
	TaskQueueSize      int
	TickInterval       time.Duration
	HeartbeatInterval  time.Duration
	CleanupInterval    time.Duration
	StaleTaskThreshold time.Duration
	StopGracePeriod    time.Duration
	RetryBaseDelay     time.Duration
	MaxCompletedTasks  int
}

func (c *Config) normalize() {
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = 5
	}
	if c.TaskQueueSize <= 0 {
		c.TaskQueueSize = 100
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 50 * time.Millisecond
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	if c.StaleTaskThreshold <= 0 {
		c.StaleTaskThreshold = 10 * time.Minute
	}
	if c.StopGracePeriod <= 0 {
		c.StopGracePeriod = 10 * time.Second
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.MaxCompletedTasks <= 0 {
		c.MaxCompletedTasks = 1000
	}
}

type runningTask struct {
	task      *QueuedTask
	cancel    context.CancelFunc
	startedAt time.Time
}

// Scheduler is an independent, concurrency-bounded task queue with priority
// ordering, dependency gating, retry with backoff, heartbeat and stale-task
// cleanup. It is usable standalone or wired to the engine.
type Scheduler struct {
	cfg     Config
	runner  TaskRunner
	bus     ports.EventBus
	metrics ports.MetricsCollector
	logger  *zap.Logger

	mu        sync.Mutex
	queue     []*QueuedTask
	running   map[string]*runningTask
	completed map[string]time.Time

	wake    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup // processing/heartbeat/cleanup loops
	taskWG  sync.WaitGroup // in-flight task goroutines, not awaited on Stop
	started bool
}

// New creates a scheduler. bus and metrics may be nil for standalone use.
func New(cfg Config, runner TaskRunner, bus ports.EventBus, metrics ports.MetricsCollector, logger *zap.Logger) *Scheduler {
	cfg.normalize()
	return &Scheduler{
		cfg:       cfg,
		runner:    runner,
		bus:       bus,
		metrics:   metrics,
		logger:    logger,
		running:   make(map[string]*runningTask),
		completed: make(map[string]time.Time),
		wake:      make(chan struct{}, 1),
	}
}

// Start begins the processing, heartbeat and cleanup loops.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.started = true

	s.wg.Add(3)
	go s.processLoop()
	go s.heartbeatLoop()
	go s.cleanupLoop()

	s.logger.Info("scheduler started",
		zap.Int("max_concurrent_tasks", s.cfg.MaxConcurrentTasks),
		zap.Int("task_queue_size", s.cfg.TaskQueueSize))
	return nil
}

// Stop halts processing. In-flight tasks get up to the configured grace
// period to finish, then are force-cancelled.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	// Wait for in-flight tasks to drain.
	deadline := time.Now().Add(s.cfg.StopGracePeriod)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		n := len(s.running)
		s.mu.Unlock()
		if n == 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	// Force-cancel anything still running and stop the loops.
	s.mu.Lock()
	for id, rt := range s.running {
		s.logger.Warn("force-cancelling task at shutdown", zap.String("task_id", id))
		rt.cancel()
	}
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// ScheduleTask inserts a task into the queue, ordered by descending
// priority with stable insertion among equal priorities.
func (s *Scheduler) ScheduleTask(task *QueuedTask) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.OriginID == "" {
		task.OriginID = task.ID
	}
	if task.ScheduledTime.IsZero() {
		task.ScheduledTime = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) >= s.cfg.TaskQueueSize {
		return fmt.Errorf("%w: size %d", ErrQueueFull, s.cfg.TaskQueueSize)
	}

	idx := sort.Search(len(s.queue), func(i int) bool {
		return s.queue[i].Priority < task.Priority
	})
	s.queue = append(s.queue, nil)
	copy(s.queue[idx+1:], s.queue[idx:])
	s.queue[idx] = task

	s.logger.Debug("task scheduled",
		zap.String("task_id", task.ID),
		zap.String("execution_id", task.ExecutionID),
		zap.Int("priority", task.Priority),
		zap.Int("queue_depth", len(s.queue)))

	s.kick()
	return nil
}

// CancelTask removes a queued task, or removes a running task from the
// running set and signals its context. Agent-side work already in flight
// is not forcibly aborted.
func (s *Scheduler) CancelTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, qt := range s.queue {
		if qt.ID == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			s.logger.Debug("queued task cancelled", zap.String("task_id", id))
			return nil
		}
	}
	if rt, ok := s.running[id]; ok {
		rt.cancel()
		delete(s.running, id)
		s.logger.Debug("running task cancelled", zap.String("task_id", id))
		return nil
	}
	return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
}

// CancelWorkflowTasks cancels every queued and running task that belongs
// to the given execution.
func (s *Scheduler) CancelWorkflowTasks(executionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := 0
	kept := s.queue[:0]
	for _, qt := range s.queue {
		if qt.ExecutionID == executionID {
			cancelled++
			continue
		}
		kept = append(kept, qt)
	}
	s.queue = kept

	for id, rt := range s.running {
		if rt.task.ExecutionID == executionID {
			rt.cancel()
			delete(s.running, id)
			cancelled++
		}
	}

	if cancelled > 0 {
		s.logger.Info("cancelled workflow tasks",
			zap.String("execution_id", executionID),
			zap.Int("count", cancelled))
	}
	return cancelled
}

// Stats is a point-in-time snapshot of the scheduler's load.
type Stats struct {
	Queued    int
	Running   int
	Completed int
}

// GetStats returns the current queue/running/completed counts.
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Queued: len(s.queue), Running: len(s.running), Completed: len(s.completed)}
}

// kick wakes the processing loop without waiting for the next tick.
func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) processLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		case <-s.wake:
		}
		s.dispatchReady()
	}
}

// dispatchReady moves ready tasks into free concurrency slots. A task is
// ready when its scheduled time has elapsed and all of its declared
// dependency ids are in the completed set.
func (s *Scheduler) dispatchReady() {
	now := time.Now()

	s.mu.Lock()
	free := s.cfg.MaxConcurrentTasks - len(s.running)
	var dispatch []*QueuedTask
	if free > 0 {
		kept := s.queue[:0]
		for _, qt := range s.queue {
			if len(dispatch) < free && s.isReadyLocked(qt, now) {
				dispatch = append(dispatch, qt)
				continue
			}
			kept = append(kept, qt)
		}
		s.queue = kept
		for _, qt := range dispatch {
			taskCtx, cancel := context.WithCancel(s.ctx)
			s.running[qt.ID] = &runningTask{task: qt, cancel: cancel, startedAt: now}
			s.taskWG.Add(1)
			go s.run(taskCtx, qt)
		}
	}
	s.mu.Unlock()
}

func (s *Scheduler) isReadyLocked(qt *QueuedTask, now time.Time) bool {
	if qt.ScheduledTime.After(now) {
		return false
	}
	for _, dep := range qt.Dependencies {
		if _, ok := s.completed[dep]; !ok {
			return false
		}
	}
	return true
}

// run executes one task. Runner errors are caught per-task; nothing
// escapes the processing loop.
func (s *Scheduler) run(ctx context.Context, qt *QueuedTask) {
	defer s.taskWG.Done()

	output, err := s.runner(ctx, qt)

	s.mu.Lock()
	_, stillRunning := s.running[qt.ID]
	delete(s.running, qt.ID)
	s.mu.Unlock()

	if !stillRunning {
		// Cancelled while in flight; outcome is discarded.
		return
	}

	if err == nil {
		s.mu.Lock()
		s.completed[qt.ID] = time.Now()
		if qt.OriginID != qt.ID {
			// Retries satisfy dependencies declared against the origin id.
			s.completed[qt.OriginID] = time.Now()
		}
		s.mu.Unlock()

		s.publish(ports.EventTaskCompleted, qt, map[string]interface{}{"output": output})
		s.kick()
		return
	}

	if qt.RetryCount < qt.Task.Retries {
		retry := &QueuedTask{
			ID:            fmt.Sprintf("%s-retry-%d", qt.OriginID, qt.RetryCount+1),
			ExecutionID:   qt.ExecutionID,
			Task:          qt.Task,
			Priority:      qt.Priority,
			Dependencies:  qt.Dependencies,
			RetryCount:    qt.RetryCount + 1,
			OriginID:      qt.OriginID,
			ScheduledTime: time.Now().Add(s.retryDelay(qt.RetryCount)),
		}
		s.logger.Warn("task failed, scheduling retry",
			zap.String("task_id", qt.ID),
			zap.String("retry_id", retry.ID),
			zap.Int("retry_count", retry.RetryCount),
			zap.Time("scheduled_time", retry.ScheduledTime),
			zap.Error(err))
		s.publish(ports.EventTaskRetried, qt, map[string]interface{}{
			"retry_count": retry.RetryCount,
			"error":       err.Error(),
		})
		if s.metrics != nil {
			s.metrics.RecordTaskRetried()
		}
		if scheduleErr := s.ScheduleTask(retry); scheduleErr != nil {
			s.logger.Error("failed to schedule retry",
				zap.String("task_id", retry.ID),
				zap.Error(scheduleErr))
		}
		return
	}

	werr := workflow.NewTaskError(workflow.CodeTaskExecutionError, qt.Task.ID, err)
	s.logger.Error("task failed after exhausting retries",
		zap.String("task_id", qt.ID),
		zap.String("execution_id", qt.ExecutionID),
		zap.Int("retry_count", qt.RetryCount),
		zap.Error(err))
	s.publish(ports.EventTaskFailed, qt, map[string]interface{}{"error": werr})
	s.kick()
}

// retryDelay is exponential backoff with random jitter up to 1s, so
// simultaneous failures do not retry in lockstep.
func (s *Scheduler) retryDelay(retryCount int) time.Duration {
	delay := s.cfg.RetryBaseDelay * time.Duration(1<<uint(retryCount))
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	return delay + jitter
}

func (s *Scheduler) heartbeatLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			stats := s.GetStats()
			s.logger.Info("scheduler heartbeat",
				zap.Int("queued", stats.Queued),
				zap.Int("running", stats.Running),
				zap.Int("completed", stats.Completed))
			if s.metrics != nil {
				s.metrics.SetQueueDepth(stats.Queued)
				s.metrics.SetRunningTasks(stats.Running)
			}
		}
	}
}

// cleanupLoop bounds the completed set and force-cancels stale tasks.
func (s *Scheduler) cleanupLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Scheduler) cleanup() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if excess := len(s.completed) - s.cfg.MaxCompletedTasks; excess > 0 {
		type entry struct {
			id string
			at time.Time
		}
		entries := make([]entry, 0, len(s.completed))
		for id, at := range s.completed {
			entries = append(entries, entry{id, at})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })
		for _, e := range entries[:excess] {
			delete(s.completed, e.id)
		}
	}

	for id, rt := range s.running {
		if now.Sub(rt.startedAt) > s.cfg.StaleTaskThreshold {
			s.logger.Warn("force-cancelling stale task",
				zap.String("task_id", id),
				zap.String("execution_id", rt.task.ExecutionID),
				zap.Duration("running_for", now.Sub(rt.startedAt)))
			rt.cancel()
			delete(s.running, id)
		}
	}
}

func (s *Scheduler) publish(eventType ports.EventType, qt *QueuedTask, data map[string]interface{}) {
	if s.bus == nil {
		return
	}
	event := ports.Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		ExecutionID: qt.ExecutionID,
		TaskID:      qt.Task.ID,
		Timestamp:   time.Now(),
		Data:        data,
	}
	if err := s.bus.Publish(context.Background(), Topic, event); err != nil {
		s.logger.Error("failed to publish scheduler event",
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}
