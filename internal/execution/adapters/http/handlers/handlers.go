package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/flowgraph-go/internal/domain/webhook"
	"github.com/flowgraph-go/internal/domain/workflow"
	"github.com/flowgraph-go/internal/engine"
	"github.com/flowgraph-go/internal/execution/ports"
	"github.com/flowgraph-go/pkg/logger"
	"github.com/gin-gonic/gin"
)

type ExecutionHandlers struct {
	engine *engine.Engine
	logger logger.Logger
}

func NewExecutionHandlers(e *engine.Engine, logger logger.Logger) *ExecutionHandlers {
	return &ExecutionHandlers{
		engine: e,
		logger: logger,
	}
}

// ExecuteRequest is the body of an execute call.
type ExecuteRequest struct {
	Input map[string]interface{} `json:"input"`
	Async bool                   `json:"async"`
}

func (h *ExecutionHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "healthy",
		"activeExecutions": h.engine.Registry.Active(),
		"pendingWebhooks":  h.engine.Waiter.Pending(),
	})
}

func (h *ExecutionHandlers) SaveWorkflow(c *gin.Context) {
	id := c.Param("id")

	var def workflow.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.SaveWorkflow(c.Request.Context(), id, &def); err != nil {
		var verr *workflow.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow definition", "errors": verr.Errors})
			return
		}
		h.logger.Error("Failed to save workflow", "workflowId", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save workflow"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (h *ExecutionHandlers) ExecuteWorkflow(c *gin.Context) {
	workflowID := c.Param("id")

	var req ExecuteRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if req.Async {
		exec, err := h.engine.Start(c.Request.Context(), workflowID, req.Input)
		if err != nil {
			h.workflowError(c, workflowID, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"executionId": exec.ID,
			"workflowId":  workflowID,
			"status":      exec.Status(),
		})
		return
	}

	result, err := h.engine.Execute(c.Request.Context(), workflowID, req.Input)
	if err != nil {
		h.workflowError(c, workflowID, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *ExecutionHandlers) ListExecutions(c *gin.Context) {
	workflowID := c.Param("id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	results, err := h.engine.ListExecutions(c.Request.Context(), workflowID, limit)
	if err != nil {
		h.logger.Error("Failed to list executions", "workflowId", workflowID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list executions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"executions": results})
}

func (h *ExecutionHandlers) GetExecution(c *gin.Context) {
	id := c.Param("id")

	result, err := h.engine.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ports.ErrExecutionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
			return
		}
		h.logger.Error("Failed to get execution", "executionId", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get execution"})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *ExecutionHandlers) StopExecution(c *gin.Context) {
	id := c.Param("id")

	if !h.engine.Stop(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found or not running"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "execution stopped", "executionId": id})
}

// ReceiveWebhook resolves a pending webhook wait. Any method is accepted here; the wait itself decides
// whether the method is allowed.
func (h *ExecutionHandlers) ReceiveWebhook(c *gin.Context) {
	id := c.Param("id")

	data, body, err := readPayload(c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, webhook.Receipt{Success: false, Error: err.Error()})
		return
	}

	headers := make(map[string]string, len(c.Request.Header))
	for name, values := range c.Request.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	receipt, err := h.engine.Waiter.Receive(id, data, headers, c.Request.Method, body)
	if err != nil {
		c.JSON(webhookStatus(err), receipt)
		return
	}

	c.JSON(http.StatusOK, receipt)
}

func (h *ExecutionHandlers) workflowError(c *gin.Context, workflowID string, err error) {
	if errors.Is(err, ports.ErrWorkflowNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
		return
	}
	h.logger.Error("Failed to execute workflow", "workflowId", workflowID, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to execute workflow"})
}

// readPayload decodes a JSON object body and returns it along with the raw bytes signatures are
// computed over. An empty body yields an empty payload.
func readPayload(r *http.Request) (map[string]interface{}, []byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, nil, err
	}
	data := map[string]interface{}{}
	if len(body) == 0 {
		return data, body, nil
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, nil, errors.New("payload must be a JSON object")
	}
	return data, body, nil
}

func webhookStatus(err error) int {
	switch {
	case errors.Is(err, webhook.ErrWebhookNotFound):
		return http.StatusNotFound
	case errors.Is(err, webhook.ErrWebhookExpired):
		return http.StatusGone
	case errors.Is(err, webhook.ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.Is(err, webhook.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, webhook.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, webhook.ErrAlreadyReceived):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
