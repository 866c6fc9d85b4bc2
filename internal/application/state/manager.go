package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orcha-dev/orcha/internal/workflow"
	"github.com/orcha-dev/orcha/pkg/ports"
)

// indexKey is the reserved store key holding the active execution id index.
const indexKey = "_active_index"

// Manager persists and recovers execution contexts. It always keeps an
// in-memory table; when persistence is enabled every save is additionally
// written through to the configured store, and loads fall back to it for
// contexts no longer in memory. Store failures degrade to the in-memory
// path rather than losing the write.
type Manager struct {
	store   ports.StateStore
	persist bool
	logger  *zap.Logger

	mu       sync.RWMutex
	contexts map[string]*workflow.ExecutionContext
	active   map[string]struct{}
}

// NewManager creates a state manager. store may be nil when persist is false.
func NewManager(store ports.StateStore, persist bool, logger *zap.Logger) *Manager {
	if store == nil {
		persist = false
	}
	return &Manager{
		store:    store,
		persist:  persist,
		logger:   logger,
		contexts: make(map[string]*workflow.ExecutionContext),
		active:   make(map[string]struct{}),
	}
}

// PersistenceEnabled reports whether saves are written through to the store.
func (m *Manager) PersistenceEnabled() bool { return m.persist }

// Save stores a snapshot of the execution context.
func (m *Manager) Save(ctx context.Context, ec *workflow.ExecutionContext) error {
	if ec == nil || ec.ExecutionID == "" {
		return fmt.Errorf("execution context has no execution id")
	}

	snapshot := cloneContext(ec)

	m.mu.Lock()
	m.contexts[ec.ExecutionID] = snapshot
	if ec.Status == workflow.StatusRunning || ec.Status == workflow.StatusPaused {
		m.active[ec.ExecutionID] = struct{}{}
	} else {
		delete(m.active, ec.ExecutionID)
	}
	activeIDs := m.activeIDsLocked()
	m.mu.Unlock()

	if !m.persist {
		return nil
	}

	data, err := json.Marshal(toRecord(snapshot))
	if err != nil {
		m.logger.Warn("failed to serialize execution context, keeping in-memory copy",
			zap.String("execution_id", ec.ExecutionID),
			zap.Error(err))
		return nil
	}
	if err := m.store.Save(ctx, ec.ExecutionID, data); err != nil {
		m.logger.Warn("state store save failed, keeping in-memory copy",
			zap.String("execution_id", ec.ExecutionID),
			zap.Error(err))
		return nil
	}
	m.saveIndex(ctx, activeIDs)
	return nil
}

// Load returns the context for an execution id, or nil when unknown.
func (m *Manager) Load(ctx context.Context, executionID string) (*workflow.ExecutionContext, error) {
	m.mu.RLock()
	ec, ok := m.contexts[executionID]
	m.mu.RUnlock()
	if ok {
		return cloneContext(ec), nil
	}

	if !m.persist {
		return nil, nil
	}

	data, err := m.store.Load(ctx, executionID)
	if err != nil {
		m.logger.Warn("state store load failed",
			zap.String("execution_id", executionID),
			zap.Error(err))
		return nil, nil
	}
	if data == nil {
		return nil, nil
	}

	var rec contextRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode execution context %s: %w", executionID, err)
	}
	return fromRecord(&rec)
}

// Delete removes the context from memory, the store and the active index.
func (m *Manager) Delete(ctx context.Context, executionID string) error {
	m.mu.Lock()
	delete(m.contexts, executionID)
	delete(m.active, executionID)
	activeIDs := m.activeIDsLocked()
	m.mu.Unlock()

	if !m.persist {
		return nil
	}

	if err := m.store.Delete(ctx, executionID); err != nil {
		m.logger.Warn("state store delete failed",
			zap.String("execution_id", executionID),
			zap.Error(err))
	}
	m.saveIndex(ctx, activeIDs)
	return nil
}

// ListActive returns the ids of executions whose status is running or paused.
func (m *Manager) ListActive(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	ids := m.activeIDsLocked()
	m.mu.RUnlock()

	if len(ids) > 0 || !m.persist {
		return ids, nil
	}

	// Nothing in memory: recover the index from the store (fresh process).
	data, err := m.store.Load(ctx, indexKey)
	if err != nil || data == nil {
		return ids, nil
	}
	var stored []string
	if err := json.Unmarshal(data, &stored); err != nil {
		m.logger.Warn("failed to decode active execution index", zap.Error(err))
		return ids, nil
	}
	return stored, nil
}

func (m *Manager) activeIDsLocked() []string {
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) saveIndex(ctx context.Context, ids []string) {
	data, err := json.Marshal(ids)
	if err != nil {
		return
	}
	if err := m.store.Save(ctx, indexKey, data); err != nil {
		m.logger.Warn("failed to persist active execution index", zap.Error(err))
	}
}

// cloneContext deep-copies a context so later engine mutations cannot leak
// into stored snapshots.
func cloneContext(ec *workflow.ExecutionContext) *workflow.ExecutionContext {
	out := *ec
	out.TaskResults = make(map[string]*workflow.TaskResult, len(ec.TaskResults))
	for id, tr := range ec.TaskResults {
		trCopy := *tr
		if tr.EndTime != nil {
			end := *tr.EndTime
			trCopy.EndTime = &end
		}
		if tr.Error != nil {
			errCopy := *tr.Error
			trCopy.Error = &errCopy
		}
		out.TaskResults[id] = &trCopy
	}
	out.GlobalContext = make(map[string]interface{}, len(ec.GlobalContext))
	for k, v := range ec.GlobalContext {
		out.GlobalContext[k] = v
	}
	if ec.EndTime != nil {
		end := *ec.EndTime
		out.EndTime = &end
	}
	return &out
}

// contextRecord is the durable representation of an execution context.
// Timestamps are canonical RFC3339Nano text, reversed exactly on load.
type contextRecord struct {
	WorkflowID     string                      `json:"workflow_id"`
	ExecutionID    string                      `json:"execution_id"`
	Status         string                      `json:"status"`
	StartTime      string                      `json:"start_time"`
	EndTime        string                      `json:"end_time,omitempty"`
	CurrentTask    string                      `json:"current_task,omitempty"`
	TaskResults    map[string]taskResultRecord `json:"task_results"`
	GlobalContext  map[string]interface{}      `json:"global_context"`
	CorrelationID  string                      `json:"correlation_id,omitempty"`
	ConversationID string                      `json:"conversation_id,omitempty"`
}

type taskResultRecord struct {
	TaskID     string       `json:"task_id"`
	Status     string       `json:"status"`
	Output     interface{}  `json:"output,omitempty"`
	Error      *errorRecord `json:"error,omitempty"`
	StartTime  string       `json:"start_time"`
	EndTime    string       `json:"end_time,omitempty"`
	RetryCount int          `json:"retry_count"`
}

type errorRecord struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	TaskID    string `json:"task_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

func toRecord(ec *workflow.ExecutionContext) *contextRecord {
	rec := &contextRecord{
		WorkflowID:     ec.WorkflowID,
		ExecutionID:    ec.ExecutionID,
		Status:         string(ec.Status),
		StartTime:      formatTime(ec.StartTime),
		CurrentTask:    ec.CurrentTask,
		TaskResults:    make(map[string]taskResultRecord, len(ec.TaskResults)),
		GlobalContext:  ec.GlobalContext,
		CorrelationID:  ec.CorrelationID,
		ConversationID: ec.ConversationID,
	}
	if ec.EndTime != nil {
		rec.EndTime = formatTime(*ec.EndTime)
	}
	for id, tr := range ec.TaskResults {
		trRec := taskResultRecord{
			TaskID:     tr.TaskID,
			Status:     string(tr.Status),
			Output:     tr.Output,
			StartTime:  formatTime(tr.StartTime),
			RetryCount: tr.RetryCount,
		}
		if tr.EndTime != nil {
			trRec.EndTime = formatTime(*tr.EndTime)
		}
		if tr.Error != nil {
			trRec.Error = &errorRecord{
				Code:      tr.Error.Code,
				Message:   tr.Error.Message,
				TaskID:    tr.Error.TaskID,
				Timestamp: formatTime(tr.Error.Timestamp),
			}
		}
		rec.TaskResults[id] = trRec
	}
	return rec
}

func fromRecord(rec *contextRecord) (*workflow.ExecutionContext, error) {
	start, err := parseTime(rec.StartTime)
	if err != nil {
		return nil, fmt.Errorf("invalid start time: %w", err)
	}
	ec := &workflow.ExecutionContext{
		WorkflowID:     rec.WorkflowID,
		ExecutionID:    rec.ExecutionID,
		Status:         workflow.Status(rec.Status),
		StartTime:      start,
		CurrentTask:    rec.CurrentTask,
		TaskResults:    make(map[string]*workflow.TaskResult, len(rec.TaskResults)),
		GlobalContext:  rec.GlobalContext,
		CorrelationID:  rec.CorrelationID,
		ConversationID: rec.ConversationID,
	}
	if ec.GlobalContext == nil {
		ec.GlobalContext = make(map[string]interface{})
	}
	if rec.EndTime != "" {
		end, err := parseTime(rec.EndTime)
		if err != nil {
			return nil, fmt.Errorf("invalid end time: %w", err)
		}
		ec.EndTime = &end
	}
	for id, trRec := range rec.TaskResults {
		trStart, err := parseTime(trRec.StartTime)
		if err != nil {
			return nil, fmt.Errorf("invalid task %s start time: %w", id, err)
		}
		tr := &workflow.TaskResult{
			TaskID:     trRec.TaskID,
			Status:     workflow.TaskStatus(trRec.Status),
			Output:     trRec.Output,
			StartTime:  trStart,
			RetryCount: trRec.RetryCount,
		}
		if trRec.EndTime != "" {
			end, err := parseTime(trRec.EndTime)
			if err != nil {
				return nil, fmt.Errorf("invalid task %s end time: %w", id, err)
			}
			tr.EndTime = &end
		}
		if trRec.Error != nil {
			ts, err := parseTime(trRec.Error.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("invalid task %s error timestamp: %w", id, err)
			}
			tr.Error = &workflow.Error{
				Code:      trRec.Error.Code,
				Message:   trRec.Error.Message,
				TaskID:    trRec.Error.TaskID,
				Timestamp: ts,
			}
		}
		ec.TaskResults[id] = tr
	}
	return ec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
