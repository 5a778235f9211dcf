package subflow

import (
	"context"

	"github.com/flowgraph-go/internal/executor/domain/types"
)

type nodeConfig struct {
	WorkflowID     string            `mapstructure:"workflow_id"`
	InputMapping   map[string]string `mapstructure:"input_mapping"`
	OutputMapping  map[string]string `mapstructure:"output_mapping"`
	Timeout        float64           `mapstructure:"timeout" validate:"gte=0"`
	AsyncMode      bool              `mapstructure:"async_mode"`
	InheritContext bool              `mapstructure:"inherit_context"`
}

// NodeExecutor runs a nested workflow as one node.
type NodeExecutor struct {
	invocator *Invocator
}

func NewNodeExecutor(inv *Invocator) *NodeExecutor {
	return &NodeExecutor{invocator: inv}
}

func (e *NodeExecutor) Execute(ctx context.Context, req *types.Request) (map[string]interface{}, error) {
	var cfg nodeConfig
	if err := types.DecodeConfig(req.Node.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.WorkflowID == "" {
		return nil, ErrMissingWorkflowID
	}

	outcome := e.invocator.Invoke(ctx, Spec{
		WorkflowID:        cfg.WorkflowID,
		InputMapping:      cfg.InputMapping,
		OutputMapping:     cfg.OutputMapping,
		Timeout:           types.Seconds(cfg.Timeout, 0),
		AsyncMode:         cfg.AsyncMode,
		InheritContext:    cfg.InheritContext,
		ParentWorkflowID:  req.WorkflowID,
		ParentExecutionID: req.ExecutionID,
		ParentContext:     req.Context,
	})

	output := map[string]interface{}{
		"success":      outcome.Success,
		"async":        outcome.Async,
		"execution_id": outcome.ExecutionID,
		"status":       string(outcome.Status),
		"output":       outcome.Output,
	}
	if !outcome.Success {
		output["error"] = outcome.Error
		return nil, types.NewNodeError(output, "%s", outcome.Error)
	}
	return output, nil
}
