package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowgraph-go/internal/domain/workflow"
	"github.com/flowgraph-go/internal/execution/app/registry"
	"github.com/flowgraph-go/internal/execution/ports"
	"github.com/flowgraph-go/internal/executor/domain/types"
	"github.com/flowgraph-go/pkg/logger"
	"github.com/flowgraph-go/pkg/mapping"
	"github.com/flowgraph-go/pkg/metrics"
	"github.com/flowgraph-go/pkg/telemetry"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Options wires the collaborators of a Runtime. Store, Recorder and Telemetry are optional.
type Options struct {
	Nodes     *types.NodeRegistry
	Registry  *registry.Registry
	Store     ports.DefinitionStore
	Recorder  ports.ResultRecorder
	Telemetry *telemetry.Telemetry
	Logger    logger.Logger
}

// Runtime runs workflow definitions node by node in topological order.
type Runtime struct {
	nodes     *types.NodeRegistry
	registry  *registry.Registry
	store     ports.DefinitionStore
	recorder  ports.ResultRecorder
	telemetry *telemetry.Telemetry
	logger    logger.Logger
}

func New(opts Options) *Runtime {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.NewNop()
	}
	if opts.Registry == nil {
		opts.Registry = registry.New(opts.Logger)
	}
	if opts.Nodes == nil {
		opts.Nodes = types.NewNodeRegistry(opts.Logger)
		opts.Nodes.RegisterBuiltinNodes()
	}
	return &Runtime{
		nodes:     opts.Nodes,
		registry:  opts.Registry,
		store:     opts.Store,
		recorder:  opts.Recorder,
		telemetry: opts.Telemetry,
		logger:    opts.Logger,
	}
}

// Registry returns the registry active executions are tracked in.
func (r *Runtime) Registry() *registry.Registry {
	return r.registry
}

// Execute runs def to completion and returns its result.
func (r *Runtime) Execute(ctx context.Context, workflowID string, def *workflow.Definition, input map[string]interface{}) *workflow.Result {
	exec, runCtx, cancel := r.prepare(ctx, workflowID)
	defer cancel()
	return r.run(runCtx, exec, def, input, nil)
}

// Start runs def in the background. The execution is registered before Start returns; the channel
// yields the final result once and is then closed.
func (r *Runtime) Start(ctx context.Context, workflowID string, def *workflow.Definition, input, seed map[string]interface{}) (*workflow.Execution, <-chan *workflow.Result) {
	exec, runCtx, cancel := r.prepare(ctx, workflowID)
	done := make(chan *workflow.Result, 1)
	go func() {
		defer close(done)
		defer cancel()
		done <- r.run(runCtx, exec, def, input, seed)
	}()
	return exec, done
}

// Launch resolves workflowID from the definition store and starts it.
func (r *Runtime) Launch(ctx context.Context, workflowID string, input, seed map[string]interface{}) (*workflow.Execution, <-chan *workflow.Result, error) {
	if r.store == nil {
		return nil, nil, fmt.Errorf("no definition store configured to resolve workflow %s", workflowID)
	}
	def, err := r.store.Get(ctx, workflowID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}
	exec, done := r.Start(ctx, workflowID, def, input, seed)
	return exec, done, nil
}

func (r *Runtime) prepare(ctx context.Context, workflowID string) (*workflow.Execution, context.Context, context.CancelFunc) {
	exec := workflow.NewExecution(workflowID)
	runCtx, cancel := context.WithCancel(ctx)
	r.registry.Register(exec, cancel)
	return exec, runCtx, cancel
}

func (r *Runtime) run(ctx context.Context, exec *workflow.Execution, def *workflow.Definition, input, seed map[string]interface{}) *workflow.Result {
	log := logger.ForExecution(r.logger, exec.WorkflowID, exec.ID)

	ctx, span := r.telemetry.StartSpan(ctx, "workflow.execute",
		telemetry.WorkflowIDAttribute(exec.WorkflowID),
		telemetry.ExecutionIDAttribute(exec.ID),
	)
	defer span.End()

	metrics.ActiveExecutions.Inc()
	defer metrics.ActiveExecutions.Dec()

	exec.Start()
	exec.SetContext(workflow.ContextInputKey, mapping.CloneMap(input))
	exec.MergeContext(seed)
	log.Info("Execution started")

	graph, err := workflow.BuildGraph(def)
	if err != nil {
		var verr *workflow.ValidationError
		if errors.As(err, &verr) {
			for _, msg := range verr.Errors {
				exec.AddError(msg)
			}
		} else {
			exec.AddError(err.Error())
		}
		log.Warn("Workflow validation failed", "error", err)
		return r.complete(ctx, exec, workflow.ExecutionFailed, span, log)
	}

	order, err := graph.TopologicalOrder()
	if err != nil {
		exec.AddError(err.Error())
		log.Warn("Workflow has a cycle", "error", err)
		return r.complete(ctx, exec, workflow.ExecutionFailed, span, log)
	}

	for _, nodeID := range order {
		if exec.Status() != workflow.ExecutionRunning {
			return r.complete(ctx, exec, workflow.ExecutionStopped, span, log)
		}
		if err := ctx.Err(); err != nil {
			exec.AddError(fmt.Sprintf("execution cancelled: %v", err))
			return r.complete(ctx, exec, workflow.ExecutionStopped, span, log)
		}

		node := graph.Nodes[nodeID]
		if err := r.executeNode(ctx, exec, graph, node, log); err != nil && !node.ContinueOnError() {
			return r.complete(ctx, exec, workflow.ExecutionFailed, span, log)
		}
	}

	exec.SetOutput(collectOutput(exec, def))
	return r.complete(ctx, exec, workflow.ExecutionCompleted, span, log)
}

func (r *Runtime) executeNode(ctx context.Context, exec *workflow.Execution, graph *workflow.Graph, node *workflow.NodeSpec, log logger.Logger) error {
	nodeLog := log.With("nodeId", node.ID, "nodeType", node.Type)

	ctx, span := r.telemetry.StartSpan(ctx, "node.execute",
		telemetry.NodeIDAttribute(node.ID),
		telemetry.NodeTypeAttribute(node.Type),
	)
	defer span.End()

	start := time.Now()
	nodeLog.Debug("Executing node")

	output, err := r.invoke(ctx, exec, graph, node)
	if err != nil {
		result := workflow.NodeResult{Status: workflow.NodeError, Error: err.Error()}
		var nodeErr *types.NodeError
		if errors.As(err, &nodeErr) && nodeErr.Output != nil {
			result.Result = nodeErr.Output
		}
		exec.RecordNodeResult(node.ID, result)
		exec.AddError(fmt.Sprintf("node %s failed: %v", node.ID, err))

		metrics.RecordNodeExecution(node.Type, "error", time.Since(start))
		telemetry.Fail(span, err)
		if node.ContinueOnError() {
			nodeLog.Warn("Node failed, continuing", "error", err)
		} else {
			nodeLog.Error("Node failed", "error", err)
		}
		return err
	}

	exec.MergeContext(output)
	exec.SetContext(node.ID, output)
	exec.RecordNodeResult(node.ID, workflow.NodeResult{Status: workflow.NodeSuccess, Result: output})

	metrics.RecordNodeExecution(node.Type, "success", time.Since(start))
	nodeLog.Debug("Node completed", "duration", time.Since(start))
	return nil
}

// invoke calls the node executor and turns a panic into an error.
func (r *Runtime) invoke(ctx context.Context, exec *workflow.Execution, graph *workflow.Graph, node *workflow.NodeSpec) (output map[string]interface{}, err error) {
	executor, err := r.nodes.Get(node.Type)
	if err != nil {
		return nil, err
	}

	defer func() {
		if p := recover(); p != nil {
			output = nil
			err = fmt.Errorf("node %s panicked: %v", node.ID, p)
		}
	}()

	req := &types.Request{
		ExecutionID:  exec.ID,
		WorkflowID:   exec.WorkflowID,
		Node:         *node,
		Context:      exec.ContextSnapshot(),
		Predecessors: graph.Predecessors(node.ID),
	}
	output, err = executor.Execute(ctx, req)
	if err == nil && output == nil {
		output = map[string]interface{}{}
	}
	return output, err
}

func (r *Runtime) complete(ctx context.Context, exec *workflow.Execution, status workflow.ExecutionStatus, span trace.Span, log logger.Logger) *workflow.Result {
	exec.Finish(status)
	r.registry.Unregister(exec.ID)

	result := exec.Result()
	duration := time.Since(result.StartedAt)
	metrics.RecordExecution(string(result.Status), duration)

	span.SetAttributes(telemetry.StatusAttribute(string(result.Status)))
	if result.Status == workflow.ExecutionFailed {
		span.SetStatus(codes.Error, "execution failed")
	}

	if r.recorder != nil {
		if err := r.recorder.Record(context.WithoutCancel(ctx), result); err != nil {
			log.Error("Failed to record execution result", "error", err)
		}
	}

	log.Info("Execution finished", "status", result.Status, "duration", duration, "errors", len(result.Errors))
	return result
}

// collectOutput reads the context entry of the output node. Several output nodes yield a map keyed
// by node id; a definition without output nodes has no output.
func collectOutput(exec *workflow.Execution, def *workflow.Definition) interface{} {
	ids := def.NodesOfType(workflow.NodeTypeOutput)
	switch len(ids) {
	case 0:
		return nil
	case 1:
		v, _ := exec.ContextValue(ids[0])
		return v
	default:
		out := make(map[string]interface{}, len(ids))
		for _, id := range ids {
			if v, ok := exec.ContextValue(id); ok {
				out[id] = v
			}
		}
		return out
	}
}
