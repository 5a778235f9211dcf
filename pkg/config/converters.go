package config

import (
	"time"

	"github.com/flowgraph-go/internal/engine"
	"github.com/flowgraph-go/internal/execution/app/waiter"
	"github.com/flowgraph-go/internal/executor/domain/types"
	"github.com/flowgraph-go/pkg/database"
	"github.com/flowgraph-go/pkg/logger"
	"github.com/flowgraph-go/pkg/telemetry"
)

// ToLoggerConfig converts LoggerConfig to logger.Config
func (c LoggerConfig) ToLoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.Level,
		Format:     c.Format,
		Output:     c.Output,
		AddCaller:  c.AddCaller,
		Stacktrace: c.Stacktrace,
	}
}

// ToDatabaseConfig converts DatabaseConfig to database.Config
func (c DatabaseConfig) ToDatabaseConfig() database.Config {
	return database.Config{
		Driver:       c.Driver,
		DSN:          c.DSN,
		Host:         c.Host,
		Port:         c.Port,
		User:         c.User,
		Password:     c.Password,
		Name:         c.Name,
		SSLMode:      c.SSLMode,
		MaxOpenConns: c.MaxOpenConns,
		MaxIdleConns: c.MaxIdleConns,
		SlowQuery:    time.Duration(c.SlowQueryMs) * time.Millisecond,
	}
}

// ToTelemetryConfig converts TelemetryConfig to telemetry.Config
func (c TelemetryConfig) ToTelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:      c.Enabled,
		Endpoint:     c.Endpoint,
		Insecure:     c.Insecure,
		ServiceName:  c.ServiceName,
		SamplingRate: c.SamplingRate,
	}
}

// ToLLMConfig returns nil when no API key is configured, leaving the llm node unregistered.
func (c LLMConfig) ToLLMConfig() *types.LLMConfig {
	if c.APIKey == "" {
		return nil
	}
	return &types.LLMConfig{
		APIKey:       c.APIKey,
		BaseURL:      c.BaseURL,
		Model:        c.Model,
		SystemPrompt: c.SystemPrompt,
		Timeout:      seconds(c.Timeout),
		MaxRetries:   c.MaxRetries,
	}
}

// ToEngineOptions fills the configurable part of engine.Options. Logger, telemetry, store and
// repository are wired by the caller.
func (c *Config) ToEngineOptions() engine.Options {
	return engine.Options{
		DefaultSubflowTimeout:  seconds(c.Engine.DefaultSubflowTimeout),
		DefaultParallelTimeout: seconds(c.Engine.DefaultParallelTimeout),
		MaxConcurrentBranches:  c.Engine.MaxConcurrentBranches,
		ResultRetention:        seconds(c.Engine.ResultRetention),
		Webhook: waiter.Config{
			BaseURL:        c.Engine.WebhookBaseURL,
			DefaultTimeout: seconds(c.Engine.DefaultWebhookTimeout),
			GracePeriod:    seconds(c.Engine.WebhookGracePeriod),
		},
		LLM: c.LLM.ToLLMConfig(),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
