package websocket

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/orcha-dev/orcha/internal/application/engine"
	"github.com/orcha-dev/orcha/internal/application/scheduler"
	"github.com/orcha-dev/orcha/pkg/ports"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler streams workflow lifecycle events to WebSocket clients.
type Handler struct {
	eventBus ports.EventBus
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus ports.EventBus, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus: eventBus,
		logger:   logger,
	}
}

// HandleEventStream upgrades the connection and streams events until the
// client disconnects. Optional query parameters workflow_id and
// execution_id narrow the stream to a single workflow or run.
func (h *Handler) HandleEventStream(c *gin.Context) {
	workflowID := c.Query("workflow_id")
	executionID := c.Query("execution_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("workflow_id", workflowID),
		zap.String("execution_id", executionID),
		zap.String("client", c.ClientIP()))

	eventChan := make(chan ports.Event, 32)
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	h.subscribe(ctx, eventChan)

	// Drain client reads so close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eventChan:
			if workflowID != "" && event.WorkflowID != workflowID {
				continue
			}
			if executionID != "" && event.ExecutionID != executionID {
				continue
			}

			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to marshal event", zap.Error(err))
				continue
			}

			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("client disconnected", zap.Error(err))
				return
			}
		}
	}
}

// subscribe wires both event topics into the connection's channel. A slow
// client drops events rather than blocking publishers.
func (h *Handler) subscribe(ctx context.Context, ch chan<- ports.Event) {
	eventHandler := func(ctx context.Context, event ports.Event) error {
		select {
		case ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	}

	topics := []string{engine.Topic, scheduler.Topic}
	for _, topic := range topics {
		if err := h.eventBus.Subscribe(ctx, topic, eventHandler); err != nil {
			h.logger.Error("failed to subscribe to events",
				zap.String("topic", topic),
				zap.Error(err))
		}
	}
}
