package types

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flowgraph-go/internal/domain/workflow"
	"github.com/flowgraph-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, failures int32) (*httptest.Server, *atomic.Int32, *atomic.Value) {
	t.Helper()
	calls := &atomic.Int32{}
	lastPrompt := &atomic.Value{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if n <= failures {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		lastPrompt.Store(body.Messages[len(body.Messages)-1].Content)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  body.Model,
			"choices": []interface{}{map[string]interface{}{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]interface{}{"role": "assistant", "content": "Paris"},
			}},
			"usage": map[string]interface{}{"prompt_tokens": 5, "completion_tokens": 1, "total_tokens": 6},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, calls, lastPrompt
}

func TestLLMNode_Execute(t *testing.T) {
	srv, calls, lastPrompt := chatServer(t, 1)

	exec := NewLLMNodeExecutor(LLMConfig{
		APIKey:     "test",
		BaseURL:    srv.URL,
		Model:      "test-model",
		Timeout:    5 * time.Second,
		MaxRetries: 3,
	}, logger.NewNop())

	out, err := exec.Execute(context.Background(), newRequest(workflow.NodeTypeLLM, map[string]interface{}{
		"prompt":     "What is the capital of {{ in.country }}?",
		"output_key": "answer",
	}, map[string]interface{}{
		"in": map[string]interface{}{"country": "France"},
	}))
	require.NoError(t, err)

	assert.Equal(t, "Paris", out["answer"])
	assert.Equal(t, "test-model", out["model"])
	assert.Equal(t, "stop", out["finish_reason"])
	assert.Equal(t, int32(2), calls.Load(), "one retry after a 503")
	assert.Equal(t, "What is the capital of France?", lastPrompt.Load())
}

func TestLLMNode_RequiresPrompt(t *testing.T) {
	exec := NewLLMNodeExecutor(LLMConfig{APIKey: "test", BaseURL: "http://127.0.0.1:0"}, logger.NewNop())
	_, err := exec.Execute(context.Background(), newRequest(workflow.NodeTypeLLM, nil, nil))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRenderTemplate(t *testing.T) {
	data := map[string]interface{}{"user": map[string]interface{}{"name": "Ana", "age": 30}}
	assert.Equal(t, "Hi Ana (30), ", RenderTemplate("Hi {{user.name}} ({{ user.age }}), {{missing}}", data))
}
