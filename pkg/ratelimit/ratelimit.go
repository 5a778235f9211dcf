package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter interface for different rate limiting strategies
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Limit() rate.Limit
	Burst() int
}

// TokenBucketLimiter keeps one token bucket per key. Buckets idle for longer than the eviction
// period are dropped.
type TokenBucketLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	buckets *cache.Cache
}

func NewTokenBucketLimiter(rps float64, burst int) *TokenBucketLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucketLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		buckets: cache.New(10*time.Minute, 10*time.Minute),
	}
}

func (l *TokenBucketLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var limiter *rate.Limiter
	if v, ok := l.buckets.Get(key); ok {
		limiter = v.(*rate.Limiter)
	} else {
		limiter = rate.NewLimiter(l.limit, l.burst)
	}
	// refresh the idle timer on every hit
	l.buckets.SetDefault(key, limiter)
	return limiter.Allow(), nil
}

func (l *TokenBucketLimiter) Limit() rate.Limit {
	return l.limit
}

func (l *TokenBucketLimiter) Burst() int {
	return l.burst
}

// RedisRateLimiter implements a sliding window shared by every engine instance using Redis.
type RedisRateLimiter struct {
	redis  *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewRedisRateLimiter(client *redis.Client, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		redis:  client,
		prefix: "flowgraph:ratelimit:",
		limit:  limit,
		window: window,
	}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	key = r.prefix + key
	now := time.Now()
	windowStart := now.Add(-r.window).UnixMilli()

	pipe := r.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to execute pipeline: %w", err)
	}

	if countCmd.Val() >= int64(r.limit) {
		return false, nil
	}

	if err := r.redis.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: uuid.New().String(),
	}).Err(); err != nil {
		return false, fmt.Errorf("failed to add entry: %w", err)
	}
	r.redis.Expire(ctx, key, r.window)

	return true, nil
}

func (r *RedisRateLimiter) Limit() rate.Limit {
	return rate.Limit(float64(r.limit) / r.window.Seconds())
}

func (r *RedisRateLimiter) Burst() int {
	return r.limit
}

// Middleware creates a Gin middleware for rate limiting
func Middleware(limiter RateLimiter, keyFunc func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFunc(c)
		if key == "" {
			key = c.ClientIP()
		}

		allowed, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Rate limiting error",
			})
			return
		}

		if !allowed {
			c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.Burst()))
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Second).Unix(), 10))

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "Rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}

// IPKeyFunc returns client IP as rate limit key
func IPKeyFunc(c *gin.Context) string {
	return c.ClientIP()
}

// ParamKeyFunc keys the limit on a route parameter, e.g. the webhook id.
func ParamKeyFunc(param string) func(*gin.Context) string {
	return func(c *gin.Context) string {
		v := c.Param(param)
		if v == "" {
			return c.ClientIP()
		}
		return param + ":" + v
	}
}
