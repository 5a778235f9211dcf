package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/flowgraph-go/internal/engine"
	"github.com/flowgraph-go/internal/execution/adapters/db/repository"
	"github.com/flowgraph-go/internal/execution/adapters/http/handlers"
	"github.com/flowgraph-go/internal/execution/adapters/store"
	"github.com/flowgraph-go/internal/execution/app/waiter"
	"github.com/flowgraph-go/internal/execution/ports"
	"github.com/flowgraph-go/pkg/config"
	"github.com/flowgraph-go/pkg/database"
	"github.com/flowgraph-go/pkg/logger"
	"github.com/flowgraph-go/pkg/metrics"
	"github.com/flowgraph-go/pkg/ratelimit"
	"github.com/flowgraph-go/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	config     *config.Config
	logger     logger.Logger
	httpServer *http.Server
	db         *database.DB
	redis      *redis.Client
	telemetry  *telemetry.Telemetry
	engine     *engine.Engine
}

func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*Server, error) {
	s := &Server{config: cfg, logger: log}

	tel, err := telemetry.New(ctx, cfg.Telemetry.ToTelemetryConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.telemetry = tel

	var defs ports.DefinitionStore = store.NewMemoryStore()
	if cfg.Redis.Enabled {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		redisStore := store.NewRedisStore(s.redis, cfg.Redis.KeyPrefix, 0)
		if err := redisStore.Ping(ctx); err != nil {
			s.close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defs = redisStore
	}

	opts := cfg.ToEngineOptions()
	opts.Logger = log
	opts.Telemetry = tel
	opts.Store = defs
	opts.OnWaiting = func(ctx context.Context, info waiter.WaitingInfo) {
		log.Info("Waiting for webhook callback",
			"webhookId", info.WebhookID,
			"executionId", info.ExecutionID,
			"callbackUrl", info.CallbackURL,
			"expiresAt", info.ExpiresAt,
		)
	}

	if cfg.Database.Enabled {
		db, err := database.New(cfg.Database.ToDatabaseConfig(), log)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db

		repo := repository.NewExecutionRepository(db)
		if err := repo.Migrate(); err != nil {
			s.close()
			return nil, fmt.Errorf("failed to migrate execution repository: %w", err)
		}
		opts.Repository = repo
	}

	s.engine = engine.New(opts)

	h := handlers.NewExecutionHandlers(s.engine, log)
	router := NewRouter(h, s.webhookLimiter(), tel, log)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	return s, nil
}

// Engine exposes the wired engine, e.g. for registering extension node types.
func (s *Server) Engine() *engine.Engine {
	return s.engine
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) webhookLimiter() ratelimit.RateLimiter {
	rl := s.config.RateLimit
	if !rl.Enabled {
		return nil
	}
	if rl.Distributed && s.redis != nil {
		return ratelimit.NewRedisRateLimiter(s.redis, rl.Burst, time.Duration(rl.Window)*time.Second)
	}
	return ratelimit.NewTokenBucketLimiter(rl.RequestsPerSecond, rl.Burst)
}

// NewRouter builds the gin router. A nil limiter leaves webhook callbacks unlimited.
func NewRouter(h *handlers.ExecutionHandlers, limiter ratelimit.RateLimiter, tel *telemetry.Telemetry, log logger.Logger) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(tel.HTTPMiddleware())
	router.Use(loggingMiddleware(log))
	router.Use(metricsMiddleware())

	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	workflows := router.Group("/api/v1/workflows")
	{
		workflows.PUT("/:id", h.SaveWorkflow)
		workflows.POST("/:id/execute", h.ExecuteWorkflow)
		workflows.GET("/:id/executions", h.ListExecutions)
	}

	executions := router.Group("/api/v1/executions")
	{
		executions.GET("/:id", h.GetExecution)
		executions.POST("/:id/stop", h.StopExecution)
	}

	callbacks := router.Group(waiter.CallbackPath)
	if limiter != nil {
		callbacks.Use(ratelimit.Middleware(limiter, ratelimit.ParamKeyFunc("id")))
	}
	callbacks.Any("/:id", h.ReceiveWebhook)

	return router
}

func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown cancels running executions, drains the HTTP server and releases connections. Executions
// are stopped first so synchronous requests blocked on them can complete. Cleanup runs even when
// draining times out.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	for _, id := range s.engine.Registry.List() {
		s.engine.Stop(id)
	}

	var shutdownErr error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		shutdownErr = fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	if err := s.telemetry.Close(ctx); err != nil {
		s.logger.Error("Failed to flush telemetry", "error", err)
	}

	s.close()
	return shutdownErr
}

func (s *Server) close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Failed to close Redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database", "error", err)
		}
	}
}

func loggingMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", latency,
			"ip", c.ClientIP(),
		)
	}
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// Route templates keep the label set bounded.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
