package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	LLM       LLMConfig       `mapstructure:"llm"`
}

type ServerConfig struct {
	Port            int    `mapstructure:"port"`
	Host            string `mapstructure:"host"`
	ReadTimeout     int    `mapstructure:"read_timeout"`
	WriteTimeout    int    `mapstructure:"write_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
}

// EngineConfig holds execution defaults. Durations are in seconds.
type EngineConfig struct {
	DefaultSubflowTimeout  float64 `mapstructure:"default_subflow_timeout"`
	DefaultWebhookTimeout  float64 `mapstructure:"default_webhook_timeout"`
	DefaultParallelTimeout float64 `mapstructure:"default_parallel_timeout"`
	MaxConcurrentBranches  int     `mapstructure:"max_concurrent_branches"`
	WebhookBaseURL         string  `mapstructure:"webhook_base_url"`
	WebhookGracePeriod     float64 `mapstructure:"webhook_grace_period"`
	ResultRetention        float64 `mapstructure:"result_retention"`
}

type DatabaseConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	SlowQueryMs  int    `mapstructure:"slow_query_ms"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
	// KeyPrefix namespaces stored workflow definitions.
	KeyPrefix string `mapstructure:"key_prefix"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Endpoint     string  `mapstructure:"endpoint"`
	Insecure     bool    `mapstructure:"insecure"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	AddCaller  bool   `mapstructure:"add_caller"`
	Stacktrace bool   `mapstructure:"stacktrace"`
}

// RateLimitConfig limits inbound webhook callbacks per webhook id.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	// Distributed switches to the Redis sliding window when Redis is enabled.
	Distributed bool `mapstructure:"distributed"`
	Window      int  `mapstructure:"window"`
}

// LLMConfig enables the llm node type when an API key is set.
type LLMConfig struct {
	APIKey       string  `mapstructure:"api_key"`
	BaseURL      string  `mapstructure:"base_url"`
	Model        string  `mapstructure:"model"`
	SystemPrompt string  `mapstructure:"system_prompt"`
	Timeout      float64 `mapstructure:"timeout"`
	MaxRetries   int     `mapstructure:"max_retries"`
}

// Load reads <serviceName>.yaml from ./configs or /etc/flowgraph, then applies FLOWGRAPH_* env vars.
func Load(serviceName string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(serviceName)
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/flowgraph")
	return load(v)
}

// LoadFile reads an explicit config file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("FLOWGRAPH")

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; defaults and env vars still apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.shutdown_timeout", 30)

	// Engine defaults
	v.SetDefault("engine.default_subflow_timeout", 300)
	v.SetDefault("engine.default_webhook_timeout", 300)
	v.SetDefault("engine.default_parallel_timeout", 300)
	v.SetDefault("engine.max_concurrent_branches", 10)
	v.SetDefault("engine.webhook_base_url", "http://localhost:8080")
	v.SetDefault("engine.webhook_grace_period", 30)
	v.SetDefault("engine.result_retention", 600)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "flowgraph")
	v.SetDefault("database.name", "flowgraph")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.slow_query_ms", 200)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.key_prefix", "flowgraph:workflow:")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4318")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.service_name", "flowgraph-engine")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.add_caller", true)
	v.SetDefault("logger.stacktrace", false)

	// Rate limit defaults
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 10)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("rate_limit.distributed", false)
	v.SetDefault("rate_limit.window", 60)

	// LLM defaults
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.system_prompt", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 60)
	v.SetDefault("llm.max_retries", 2)
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
