package http

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orcha-dev/orcha/internal/workflow"
)

// ExecuteRequest represents a workflow execution request
type ExecuteRequest struct {
	Input         map[string]interface{} `json:"input"`
	DryRun        bool                   `json:"dry_run"`
	CorrelationID string                 `json:"correlation_id"`
	// Async returns immediately with the execution id instead of waiting
	// for the workflow to finish.
	Async bool `json:"async"`
}

// ExecuteAcceptedResponse is returned for async execution requests
type ExecuteAcceptedResponse struct {
	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	Status      string `json:"status"`
	SubmittedAt string `json:"submitted_at"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks": gin.H{
			"engine": "ok",
		},
	})
}

// handleRegisterWorkflow registers a workflow definition. JSON and YAML
// bodies are both accepted.
func (s *Server) handleRegisterWorkflow(c *gin.Context) {
	var def *workflow.Definition

	if strings.Contains(c.ContentType(), "yaml") {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: ErrorDetail{Code: "INVALID_REQUEST", Message: err.Error()},
			})
			return
		}
		def, err = workflow.ParseDefinition(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: ErrorDetail{Code: "INVALID_DEFINITION", Message: err.Error()},
			})
			return
		}
	} else {
		def = &workflow.Definition{}
		if err := c.ShouldBindJSON(def); err != nil {
			s.logger.Error("invalid request", zap.Error(err))
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: ErrorDetail{Code: "INVALID_REQUEST", Message: err.Error()},
			})
			return
		}
	}

	if err := s.engine.RegisterWorkflow(def); err != nil {
		s.logger.Error("failed to register workflow", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: ErrorDetail{Code: "VALIDATION_FAILED", Message: err.Error()},
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"workflow_id": def.ID,
		"status":      "registered",
	})
}

// handleListWorkflows lists registered workflow definitions
func (s *Server) handleListWorkflows(c *gin.Context) {
	defs := s.engine.ListWorkflows()

	c.JSON(http.StatusOK, gin.H{
		"workflows": defs,
		"total":     len(defs),
	})
}

// handleGetWorkflow returns a registered workflow definition
func (s *Server) handleGetWorkflow(c *gin.Context) {
	def, ok := s.engine.GetWorkflow(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{Code: "NOT_FOUND", Message: "Workflow not found"},
		})
		return
	}

	c.JSON(http.StatusOK, def)
}

// handleUnregisterWorkflow removes a workflow definition
func (s *Server) handleUnregisterWorkflow(c *gin.Context) {
	workflowID := c.Param("id")

	if err := s.engine.UnregisterWorkflow(workflowID); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{Code: "NOT_FOUND", Message: err.Error()},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"workflow_id": workflowID,
		"status":      "unregistered",
	})
}

// handleExecuteWorkflow starts a workflow execution
func (s *Server) handleExecuteWorkflow(c *gin.Context) {
	workflowID := c.Param("id")

	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Code: "INVALID_REQUEST", Message: err.Error()},
		})
		return
	}

	if _, ok := s.engine.GetWorkflow(workflowID); !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{Code: "NOT_FOUND", Message: "Workflow not found"},
		})
		return
	}

	opts := workflow.ExecuteOptions{
		DryRun:        req.DryRun,
		CorrelationID: req.CorrelationID,
	}

	if req.Async {
		opts.ExecutionID = uuid.New().String()

		// Detach from the request context so the execution outlives the
		// HTTP exchange.
		go func() {
			if _, err := s.engine.ExecuteWorkflow(context.Background(), workflowID, req.Input, opts); err != nil {
				s.logger.Error("async execution failed to start",
					zap.String("workflow_id", workflowID),
					zap.Error(err))
			}
		}()

		c.JSON(http.StatusAccepted, ExecuteAcceptedResponse{
			ExecutionID: opts.ExecutionID,
			WorkflowID:  workflowID,
			Status:      "accepted",
			SubmittedAt: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	result, err := s.engine.ExecuteWorkflow(c.Request.Context(), workflowID, req.Input, opts)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: ErrorDetail{Code: "EXECUTION_REJECTED", Message: err.Error()},
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleGetExecution returns the state of an execution, live or persisted
func (s *Server) handleGetExecution(c *gin.Context) {
	ec, err := s.engine.GetExecutionStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{Code: "NOT_FOUND", Message: "Execution not found"},
		})
		return
	}

	c.JSON(http.StatusOK, ec)
}

// handlePauseExecution pauses a running execution
func (s *Server) handlePauseExecution(c *gin.Context) {
	executionID := c.Param("id")

	if err := s.engine.PauseWorkflow(c.Request.Context(), executionID); err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{Code: "PAUSE_FAILED", Message: err.Error()},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"execution_id": executionID,
		"status":       "paused",
	})
}

// handleResumeExecution resumes a paused execution
func (s *Server) handleResumeExecution(c *gin.Context) {
	executionID := c.Param("id")

	if err := s.engine.ResumeWorkflow(c.Request.Context(), executionID); err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{Code: "RESUME_FAILED", Message: err.Error()},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"execution_id": executionID,
		"status":       "running",
	})
}

// handleCancelExecution cancels an execution
func (s *Server) handleCancelExecution(c *gin.Context) {
	executionID := c.Param("id")

	if err := s.engine.CancelWorkflow(c.Request.Context(), executionID); err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{Code: "CANCELLATION_FAILED", Message: err.Error()},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"execution_id": executionID,
		"status":       "cancelled",
		"cancelled_at": time.Now().UTC().Format(time.RFC3339),
	})
}
