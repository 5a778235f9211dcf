package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/flowgraph-go/pkg/logger"
	"github.com/sony/gobreaker"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests")
)

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Name         string
	MaxRequests  uint32        // requests let through while half-open
	Interval     time.Duration // cyclic period for clearing closed-state counts
	Timeout      time.Duration // open period before half-open
	FailureRatio float64
	MinRequests  uint32
}

// DefaultCircuitBreakerConfig returns default configuration
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  3,
		Interval:     30 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// CircuitBreaker guards calls to an unreliable dependency such as an LLM endpoint.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewCircuitBreaker creates a breaker that logs every state change.
func NewCircuitBreaker(cfg CircuitBreakerConfig, log logger.Logger) *CircuitBreaker {
	if log == nil {
		log = logger.NewNop()
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// ExecuteWithContext runs fn unless the breaker is open or ctx is already done.
func (c *CircuitBreaker) ExecuteWithContext(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	result, err := c.cb.Execute(func() (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return fn(ctx)
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		return nil, ErrCircuitOpen
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, ErrTooManyRequests
	}
	return result, err
}

// State returns the current state of the circuit breaker
func (c *CircuitBreaker) State() gobreaker.State {
	return c.cb.State()
}

// Name returns the name of the circuit breaker
func (c *CircuitBreaker) Name() string {
	return c.cb.Name()
}
