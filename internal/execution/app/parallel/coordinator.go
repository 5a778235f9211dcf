package parallel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flowgraph-go/internal/domain/workflow"
	"github.com/flowgraph-go/pkg/logger"
	"github.com/flowgraph-go/pkg/mapping"
	"github.com/flowgraph-go/pkg/metrics"
	"golang.org/x/sync/semaphore"
)

var ErrNoBranches = errors.New("parallel node has no branches")

// Strategy decides when a set of branches counts as successful.
type Strategy string

const (
	StrategyAll      Strategy = "ALL"
	StrategyAny      Strategy = "ANY"
	StrategyMajority Strategy = "MAJORITY"
)

// ParseStrategy accepts any casing; an empty string means ALL.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToUpper(s)) {
	case "", StrategyAll:
		return StrategyAll, nil
	case StrategyAny:
		return StrategyAny, nil
	case StrategyMajority:
		return StrategyMajority, nil
	default:
		return "", fmt.Errorf("unknown parallel strategy %q", s)
	}
}

// Branch is one unit of a parallel node: a workflow reference, an inline node list, or a literal.
type Branch struct {
	ID            string
	WorkflowID    string
	InputMapping  map[string]string
	OutputMapping map[string]string
	Timeout       time.Duration
	Nodes         []workflow.NodeSpec
	Edges         []workflow.Edge
	Literal       interface{}
	Input         map[string]interface{}
}

// IsLiteral reports whether the branch just returns its literal payload.
func (b Branch) IsLiteral() bool {
	return b.WorkflowID == "" && len(b.Nodes) == 0
}

// BranchRunner executes workflow-reference and node-list branches.
type BranchRunner interface {
	RunBranch(ctx context.Context, branch Branch, input map[string]interface{}) (interface{}, error)
}

// Config for one parallel run.
type Config struct {
	Branches      []Branch
	Strategy      Strategy
	Timeout       time.Duration
	FailFast      bool
	MaxConcurrent int
}

// BranchResult captures one branch outcome. Branch failures never propagate as errors.
type BranchResult struct {
	BranchID      string        `json:"branch_id"`
	Success       bool          `json:"success"`
	Output        interface{}   `json:"output,omitempty"`
	Error         string        `json:"error,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// Result is the aggregate outcome of a parallel run.
type Result struct {
	Success       bool           `json:"success"`
	Strategy      Strategy       `json:"strategy"`
	TotalBranches int            `json:"total_branches"`
	SuccessCount  int            `json:"success_count"`
	Results       []BranchResult `json:"results"`
	Error         string         `json:"error,omitempty"`
}

// ToMap renders the result as generic node output so that path lookups work on it.
func (r *Result) ToMap() map[string]interface{} {
	results := make([]interface{}, 0, len(r.Results))
	for _, br := range r.Results {
		entry := map[string]interface{}{
			"branch_id":      br.BranchID,
			"success":        br.Success,
			"output":         br.Output,
			"execution_time": br.ExecutionTime.Seconds(),
		}
		if br.Error != "" {
			entry["error"] = br.Error
		}
		results = append(results, entry)
	}

	out := map[string]interface{}{
		"success":        r.Success,
		"strategy":       string(r.Strategy),
		"total_branches": r.TotalBranches,
		"success_count":  r.SuccessCount,
		"results":        results,
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	return out
}

// Options holds coordinator defaults.
type Options struct {
	DefaultTimeout time.Duration
	MaxConcurrent  int
}

// Coordinator runs branches concurrently under a completion strategy.
type Coordinator struct {
	runner BranchRunner
	opts   Options
	logger logger.Logger
}

func NewCoordinator(runner BranchRunner, opts Options, log logger.Logger) *Coordinator {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 5 * time.Minute
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 10
	}
	return &Coordinator{runner: runner, opts: opts, logger: log}
}

// Run executes the branches and returns once the strategy is decided, every branch finished, or
// the timeout expired. Branches still running at that point are cancelled and not awaited.
func (c *Coordinator) Run(ctx context.Context, cfg Config, input map[string]interface{}) *Result {
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = StrategyAll
	}
	n := len(cfg.Branches)
	result := &Result{Strategy: strategy, TotalBranches: n, Results: []BranchResult{}}
	if n == 0 {
		result.Error = ErrNoBranches.Error()
		return result
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = c.opts.DefaultTimeout
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = c.opts.MaxConcurrent
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := c.logger.With("strategy", string(strategy), "branches", n)
	log.Debug("Starting parallel branches", "timeout", timeout.String(), "maxConcurrent", maxConcurrent)

	sem := semaphore.NewWeighted(int64(maxConcurrent))
	completed := make(chan BranchResult, n)

	for i, branch := range cfg.Branches {
		if branch.ID == "" {
			branch.ID = fmt.Sprintf("branch_%d", i)
		}
		go func(branch Branch) {
			if err := sem.Acquire(runCtx, 1); err != nil {
				completed <- BranchResult{BranchID: branch.ID, Error: fmt.Sprintf("branch not started: %v", err)}
				return
			}
			defer sem.Release(1)
			completed <- c.runBranch(runCtx, strategy, branch, input)
		}(branch)
	}

	required := n/2 + 1
	failures := 0
	for {
		select {
		case br := <-completed:
			result.Results = append(result.Results, br)
			if br.Success {
				result.SuccessCount++
			} else {
				failures++
			}

			if decided, success := decide(strategy, cfg.FailFast, br, result.SuccessCount, failures, n, required); decided {
				result.Success = success
				if len(result.Results) < n {
					log.Debug("Strategy decided early, cancelling remaining branches", "completed", len(result.Results))
				}
				metrics.RecordParallelRun(string(strategy), success)
				return result
			}

		case <-runCtx.Done():
			failed := &Result{Strategy: strategy, TotalBranches: n, Results: []BranchResult{}}
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				failed.Error = fmt.Sprintf("timeout after %s with %d of %d branches pending", timeout, n-len(result.Results), n)
			} else {
				failed.Error = fmt.Sprintf("parallel run cancelled: %v", ctx.Err())
			}
			log.Warn("Parallel run did not complete", "error", failed.Error)
			metrics.RecordParallelRun(string(strategy), false)
			return failed
		}
	}
}

// decide applies the strategy after each completion. It returns whether the run is decided and
// with which outcome. MAJORITY also stops once the required successes can no longer be reached.
func decide(strategy Strategy, failFast bool, last BranchResult, successes, failures, n, required int) (bool, bool) {
	done := successes+failures == n

	switch strategy {
	case StrategyAny:
		if last.Success {
			return true, true
		}
		return done, false
	case StrategyMajority:
		if successes >= required {
			return true, true
		}
		if failures > n-required {
			return true, false
		}
		return done, false
	default:
		if failFast && !last.Success {
			return true, false
		}
		return done, failures == 0
	}
}

func (c *Coordinator) runBranch(ctx context.Context, strategy Strategy, branch Branch, input map[string]interface{}) (br BranchResult) {
	start := time.Now()
	br.BranchID = branch.ID

	defer func() {
		if r := recover(); r != nil {
			br.Success = false
			br.Output = nil
			br.Error = fmt.Sprintf("branch panicked: %v", r)
		}
		br.ExecutionTime = time.Since(start)
		metrics.RecordBranch(string(strategy), br.Success, br.ExecutionTime)
	}()

	if branch.IsLiteral() {
		br.Success = true
		br.Output = mapping.Clone(branch.Literal)
		return br
	}

	branchInput := mapping.CloneMap(input)
	for k, v := range branch.Input {
		branchInput[k] = mapping.Clone(v)
	}

	out, err := c.runner.RunBranch(ctx, branch, branchInput)
	if err != nil {
		br.Error = err.Error()
		c.logger.Debug("Branch failed", "branchId", branch.ID, "error", err)
		return br
	}

	br.Success = true
	br.Output = out
	return br
}
