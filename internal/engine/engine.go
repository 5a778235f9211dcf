package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowgraph-go/internal/domain/workflow"
	"github.com/flowgraph-go/internal/execution/app/parallel"
	"github.com/flowgraph-go/internal/execution/app/registry"
	"github.com/flowgraph-go/internal/execution/app/runtime"
	"github.com/flowgraph-go/internal/execution/app/subflow"
	"github.com/flowgraph-go/internal/execution/app/waiter"
	"github.com/flowgraph-go/internal/execution/ports"
	"github.com/flowgraph-go/internal/executor/domain/types"
	"github.com/flowgraph-go/pkg/logger"
	"github.com/flowgraph-go/pkg/telemetry"
	"github.com/patrickmn/go-cache"
)

// Options configures an Engine. Zero values fall back to component defaults.
type Options struct {
	Logger    logger.Logger
	Telemetry *telemetry.Telemetry
	Store     ports.DefinitionStore
	// Repository, when set, records every finished execution and serves lookups of old ones.
	Repository ports.ExecutionRepository

	DefaultSubflowTimeout  time.Duration
	DefaultParallelTimeout time.Duration
	MaxConcurrentBranches  int
	// ResultRetention is how long finished results stay queryable in memory.
	ResultRetention time.Duration

	Webhook   waiter.Config
	OnWaiting waiter.WaitingFunc

	// LLM enables the llm node type.
	LLM *types.LLMConfig
}

// Engine wires the runtime with its node types and control-flow collaborators.
type Engine struct {
	Nodes       *types.NodeRegistry
	Registry    *registry.Registry
	Runtime     *runtime.Runtime
	Invocator   *subflow.Invocator
	Coordinator *parallel.Coordinator
	Waiter      *waiter.Waiter

	store      ports.DefinitionStore
	repository ports.ExecutionRepository
	recent     *cache.Cache
	logger     logger.Logger
}

func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.NewNop()
	}
	if opts.ResultRetention <= 0 {
		opts.ResultRetention = 10 * time.Minute
	}

	e := &Engine{
		Nodes:      types.NewNodeRegistry(opts.Logger),
		Registry:   registry.New(opts.Logger),
		store:      opts.Store,
		repository: opts.Repository,
		recent:     cache.New(opts.ResultRetention, opts.ResultRetention),
		logger:     opts.Logger,
	}

	e.Runtime = runtime.New(runtime.Options{
		Nodes:     e.Nodes,
		Registry:  e.Registry,
		Store:     opts.Store,
		Recorder:  e,
		Telemetry: opts.Telemetry,
		Logger:    opts.Logger,
	})
	e.Invocator = subflow.NewInvocator(e.Runtime, e.Registry, opts.DefaultSubflowTimeout, opts.Logger)
	e.Coordinator = parallel.NewCoordinator(&branchRunner{runtime: e.Runtime, invocator: e.Invocator}, parallel.Options{
		DefaultTimeout: opts.DefaultParallelTimeout,
		MaxConcurrent:  opts.MaxConcurrentBranches,
	}, opts.Logger)
	e.Waiter = waiter.NewWaiter(opts.Webhook, opts.OnWaiting, opts.Logger)

	e.Nodes.RegisterBuiltinNodes()
	e.Nodes.Register(workflow.NodeTypeParallel, parallel.NewNodeExecutor(e.Coordinator))
	e.Nodes.Register(workflow.NodeTypeSubflow, subflow.NewNodeExecutor(e.Invocator))
	e.Nodes.Register(workflow.NodeTypeWebhook, waiter.NewNodeExecutor(e.Waiter))
	if opts.LLM != nil {
		e.Nodes.Register(workflow.NodeTypeLLM, types.NewLLMNodeExecutor(*opts.LLM, opts.Logger))
	}

	return e
}

// Record keeps the result for later lookups and forwards it to the repository.
func (e *Engine) Record(ctx context.Context, result *workflow.Result) error {
	e.recent.SetDefault(result.ExecutionID, result)
	if e.repository == nil {
		return nil
	}
	return e.repository.Record(ctx, result)
}

// SaveWorkflow validates and stores a definition.
func (e *Engine) SaveWorkflow(ctx context.Context, id string, def *workflow.Definition) error {
	if e.store == nil {
		return errors.New("no definition store configured")
	}
	if errs := workflow.Validate(def); len(errs) > 0 {
		return &workflow.ValidationError{Errors: errs}
	}
	return e.store.Put(ctx, id, def)
}

// Execute runs a stored workflow to completion.
func (e *Engine) Execute(ctx context.Context, workflowID string, input map[string]interface{}) (*workflow.Result, error) {
	if e.store == nil {
		return nil, errors.New("no definition store configured")
	}
	def, err := e.store.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return e.Runtime.Execute(ctx, workflowID, def, input), nil
}

// ExecuteDefinition runs an unstored definition to completion.
func (e *Engine) ExecuteDefinition(ctx context.Context, workflowID string, def *workflow.Definition, input map[string]interface{}) *workflow.Result {
	return e.Runtime.Execute(ctx, workflowID, def, input)
}

// Start runs a stored workflow in the background. The run is detached from ctx cancellation and
// can be followed with Get and cancelled with Stop.
func (e *Engine) Start(ctx context.Context, workflowID string, input map[string]interface{}) (*workflow.Execution, error) {
	exec, _, err := e.Runtime.Launch(context.WithoutCancel(ctx), workflowID, input, nil)
	if err != nil {
		return nil, err
	}
	return exec, nil
}

// Get returns the current state of an active execution, or the recorded result of a finished one.
func (e *Engine) Get(ctx context.Context, executionID string) (*workflow.Result, error) {
	if exec, err := e.Registry.Get(executionID); err == nil {
		return exec.Result(), nil
	}
	if v, ok := e.recent.Get(executionID); ok {
		return v.(*workflow.Result), nil
	}
	if e.repository != nil {
		return e.repository.GetByID(ctx, executionID)
	}
	return nil, fmt.Errorf("%w: %s", ports.ErrExecutionNotFound, executionID)
}

// Stop cancels an active execution. The stopped state is queryable right away, even while the
// node that was running winds down.
func (e *Engine) Stop(executionID string) bool {
	exec, err := e.Registry.Get(executionID)
	if err != nil || !e.Registry.Stop(executionID) {
		return false
	}
	e.recent.SetDefault(executionID, exec.Result())
	return true
}

// ListExecutions returns recorded results of a workflow, newest first. Without a repository the list
// is empty.
func (e *Engine) ListExecutions(ctx context.Context, workflowID string, limit int) ([]*workflow.Result, error) {
	if e.repository == nil {
		return []*workflow.Result{}, nil
	}
	return e.repository.ListByWorkflow(ctx, workflowID, limit)
}
