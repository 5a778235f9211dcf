package types

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/flowgraph-go/pkg/logger"
	"github.com/flowgraph-go/pkg/mapping"
	"github.com/flowgraph-go/pkg/resilience"
	"github.com/sashabaranov/go-openai"
)

var ErrEmptyCompletion = errors.New("llm returned no choices")

// LLMConfig configures the OpenAI-compatible endpoint used by llm nodes.
type LLMConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
	MaxRetries   int
}

type llmNodeConfig struct {
	Prompt      string   `mapstructure:"prompt" validate:"required"`
	System      string   `mapstructure:"system"`
	Model       string   `mapstructure:"model"`
	Temperature *float32 `mapstructure:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   int      `mapstructure:"max_tokens" validate:"gte=0"`
	OutputKey   string   `mapstructure:"output_key"`
}

var templateVar = regexp.MustCompile(`\{\{\s*([^}\s]+)\s*\}\}`)

// LLMNodeExecutor sends a chat completion request built from the node's prompt template.
type LLMNodeExecutor struct {
	client  *openai.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	cfg     LLMConfig
	logger  logger.Logger
}

func NewLLMNodeExecutor(cfg LLMConfig, log logger.Logger) *LLMNodeExecutor {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = "You are a helpful assistant."
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	retry := resilience.DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxAttempts = cfg.MaxRetries
	}
	retry.ShouldRetry = isRetryableLLMError

	return &LLMNodeExecutor{
		client:  openai.NewClientWithConfig(clientCfg),
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("llm"), log),
		retry:   retry,
		cfg:     cfg,
		logger:  log,
	}
}

func (e *LLMNodeExecutor) Execute(ctx context.Context, req *Request) (map[string]interface{}, error) {
	var cfg llmNodeConfig
	if err := DecodeConfig(req.Node.Config, &cfg); err != nil {
		return nil, err
	}

	model := cfg.Model
	if model == "" {
		model = e.cfg.Model
	}
	system := cfg.System
	if system == "" {
		system = e.cfg.SystemPrompt
	}
	outputKey := cfg.OutputKey
	if outputKey == "" {
		outputKey = "text"
	}

	chatReq := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: RenderTemplate(cfg.Prompt, req.Context)},
		},
		MaxTokens: cfg.MaxTokens,
	}
	if cfg.Temperature != nil {
		chatReq.Temperature = *cfg.Temperature
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	resp, err := resilience.RetryWithResult(callCtx, e.retry, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		out, err := e.breaker.ExecuteWithContext(ctx, func(ctx context.Context) (interface{}, error) {
			return e.client.CreateChatCompletion(ctx, chatReq)
		})
		if err != nil {
			return openai.ChatCompletionResponse{}, err
		}
		return out.(openai.ChatCompletionResponse), nil
	})
	if err != nil {
		e.logger.Warn("LLM call failed", "nodeId", req.Node.ID, "model", model, "error", err)
		return nil, fmt.Errorf("llm call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}

	choice := resp.Choices[0]
	return map[string]interface{}{
		outputKey:       choice.Message.Content,
		"model":         resp.Model,
		"finish_reason": string(choice.FinishReason),
		"usage": map[string]interface{}{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		},
	}, nil
}

// RenderTemplate replaces {{path}} placeholders with values looked up in data. Unknown paths render
// as empty strings.
func RenderTemplate(tmpl string, data map[string]interface{}) string {
	return templateVar.ReplaceAllStringFunc(tmpl, func(match string) string {
		path := templateVar.FindStringSubmatch(match)[1]
		v, ok := mapping.Lookup(data, path)
		if !ok || v == nil {
			return ""
		}
		if s, ok := v.(string); ok {
			return s
		}
		return strings.TrimSpace(fmt.Sprint(v))
	})
}

func isRetryableLLMError(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return resilience.IsRetryableHTTPStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return resilience.IsRetryableHTTPStatus(reqErr.HTTPStatusCode)
	}
	return true
}
