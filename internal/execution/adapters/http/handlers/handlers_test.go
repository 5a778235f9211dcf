package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flowgraph-go/internal/domain/webhook"
	"github.com/flowgraph-go/internal/engine"
	"github.com/flowgraph-go/internal/execution/adapters/store"
	"github.com/flowgraph-go/internal/execution/app/waiter"
	"github.com/flowgraph-go/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const echoWorkflow = `{
	"version": "1.0",
	"nodes": [{"id": "in", "type": "input"}, {"id": "out", "type": "output"}],
	"edges": [{"source": "in", "target": "out"}]
}`

const approvalWorkflow = `{
	"version": "1.0",
	"nodes": [
		{"id": "in", "type": "input"},
		{"id": "wait", "type": "webhook", "config": {"webhook_id": "http-approve", "timeout": 5, "expected_method": "POST"}},
		{"id": "out", "type": "output", "config": {"source": "data"}}
	],
	"edges": [{"source": "in", "target": "wait"}, {"source": "wait", "target": "out"}]
}`

const signedWorkflow = `{
	"version": "1.0",
	"nodes": [
		{"id": "in", "type": "input"},
		{"id": "wait", "type": "webhook", "config": {"webhook_id": "http-signed", "timeout": 5, "secret_key": "s"}},
		{"id": "out", "type": "output", "config": {"source": "data"}}
	],
	"edges": [{"source": "in", "target": "wait"}, {"source": "wait", "target": "out"}]
}`

func setup(t *testing.T) (*gin.Engine, *engine.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	e := engine.New(engine.Options{
		Logger:  logger.NewNop(),
		Store:   store.NewMemoryStore(),
		Webhook: waiter.Config{BaseURL: "http://engine.test", DefaultTimeout: 5 * time.Second},
	})
	h := NewExecutionHandlers(e, logger.NewNop())

	r := gin.New()
	r.GET("/health", h.Health)
	r.PUT("/api/v1/workflows/:id", h.SaveWorkflow)
	r.POST("/api/v1/workflows/:id/execute", h.ExecuteWorkflow)
	r.GET("/api/v1/workflows/:id/executions", h.ListExecutions)
	r.GET("/api/v1/executions/:id", h.GetExecution)
	r.POST("/api/v1/executions/:id/stop", h.StopExecution)
	r.Any("/webhooks/callback/:id", h.ReceiveWebhook)
	return r, e
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestSaveWorkflow(t *testing.T) {
	r, _ := setup(t)

	w := do(r, http.MethodPut, "/api/v1/workflows/echo", echoWorkflow)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPut, "/api/v1/workflows/bad", `{"version": "1.0", "nodes": []}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.NotEmpty(t, body["errors"])

	w = do(r, http.MethodPut, "/api/v1/workflows/bad", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecuteWorkflowSync(t *testing.T) {
	r, _ := setup(t)
	require.Equal(t, http.StatusOK, do(r, http.MethodPut, "/api/v1/workflows/echo", echoWorkflow).Code)

	w := do(r, http.MethodPost, "/api/v1/workflows/echo/execute", `{"input": {"x": 1}}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, map[string]interface{}{"x": float64(1)}, body["output"])

	w = do(r, http.MethodPost, "/api/v1/workflows/missing/execute", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExecuteWorkflowAsync(t *testing.T) {
	r, _ := setup(t)
	require.Equal(t, http.StatusOK, do(r, http.MethodPut, "/api/v1/workflows/echo", echoWorkflow).Code)

	w := do(r, http.MethodPost, "/api/v1/workflows/echo/execute", `{"input": {"x": 1}, "async": true}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	id, _ := decode(t, w)["executionId"].(string)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		w := do(r, http.MethodGet, "/api/v1/executions/"+id, "")
		return w.Code == http.StatusOK && decode(t, w)["status"] == "completed"
	}, 2*time.Second, 10*time.Millisecond)

	w = do(r, http.MethodGet, "/api/v1/workflows/echo/executions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["executions"])
}

func TestExecutionNotFound(t *testing.T) {
	r, _ := setup(t)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/v1/executions/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/api/v1/executions/nope/stop", "").Code)
}

func TestReceiveWebhook(t *testing.T) {
	r, e := setup(t)
	require.Equal(t, http.StatusOK, do(r, http.MethodPut, "/api/v1/workflows/approval", approvalWorkflow).Code)

	w := do(r, http.MethodPost, "/api/v1/workflows/approval/execute", `{"async": true}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decode(t, w)["executionId"].(string)

	require.Eventually(t, func() bool { return e.Waiter.Pending() == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/webhooks/callback/unknown", `{}`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(r, http.MethodPut, "/webhooks/callback/http-approve", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/webhooks/callback/http-approve", `[1, 2]`).Code)

	w = do(r, http.MethodPost, "/webhooks/callback/http-approve", `{"status": "approved"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["success"])

	require.Eventually(t, func() bool {
		w := do(r, http.MethodGet, "/api/v1/executions/"+id, "")
		return w.Code == http.StatusOK && decode(t, w)["status"] == "completed"
	}, 2*time.Second, 10*time.Millisecond)

	body := decode(t, do(r, http.MethodGet, "/api/v1/executions/"+id, ""))
	assert.Equal(t, map[string]interface{}{"status": "approved"}, body["output"])
}

func TestReceiveWebhookSignedRawBody(t *testing.T) {
	r, e := setup(t)
	require.Equal(t, http.StatusOK, do(r, http.MethodPut, "/api/v1/workflows/signed", signedWorkflow).Code)

	w := do(r, http.MethodPost, "/api/v1/workflows/signed/execute", `{"async": true}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decode(t, w)["executionId"].(string)
	require.Eventually(t, func() bool { return e.Waiter.Pending() == 1 }, 2*time.Second, 5*time.Millisecond)

	raw := `{"b": 1,  "a": 2}`
	send := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/callback/http-signed", strings.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(webhook.SignatureHeader, signature)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, send(webhook.Sign("other", []byte(raw))).Code)

	w = send(webhook.Sign("s", []byte(raw)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["success"])

	require.Eventually(t, func() bool {
		w := do(r, http.MethodGet, "/api/v1/executions/"+id, "")
		return w.Code == http.StatusOK && decode(t, w)["status"] == "completed"
	}, 2*time.Second, 10*time.Millisecond)

	body := decode(t, do(r, http.MethodGet, "/api/v1/executions/"+id, ""))
	assert.Equal(t, map[string]interface{}{"a": float64(2), "b": float64(1)}, body["output"])
}

func TestStopExecution(t *testing.T) {
	r, e := setup(t)
	require.Equal(t, http.StatusOK, do(r, http.MethodPut, "/api/v1/workflows/approval", approvalWorkflow).Code)

	w := do(r, http.MethodPost, "/api/v1/workflows/approval/execute", `{"async": true}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decode(t, w)["executionId"].(string)
	require.Eventually(t, func() bool { return e.Waiter.Pending() == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/v1/executions/"+id+"/stop", "").Code)

	body := decode(t, do(r, http.MethodGet, "/api/v1/executions/"+id, ""))
	assert.Equal(t, "stopped", body["status"])
}

func TestHealth(t *testing.T) {
	r, _ := setup(t)

	w := do(r, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(0), body["activeExecutions"])
}
