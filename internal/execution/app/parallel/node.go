package parallel

import (
	"context"

	"github.com/flowgraph-go/internal/domain/workflow"
	"github.com/flowgraph-go/internal/executor/domain/types"
	"github.com/flowgraph-go/pkg/mapping"
)

type branchConfig struct {
	ID            string                 `mapstructure:"id"`
	WorkflowID    string                 `mapstructure:"workflow_id"`
	InputMapping  map[string]string      `mapstructure:"input_mapping"`
	OutputMapping map[string]string      `mapstructure:"output_mapping"`
	Timeout       float64                `mapstructure:"timeout" validate:"gte=0"`
	Nodes         []workflow.NodeSpec    `mapstructure:"nodes"`
	Edges         []workflow.Edge        `mapstructure:"edges"`
	Literal       interface{}            `mapstructure:"literal"`
	Input         map[string]interface{} `mapstructure:"input"`
}

type nodeConfig struct {
	Branches      []branchConfig `mapstructure:"branches" validate:"required,min=1,dive"`
	Strategy      string         `mapstructure:"strategy"`
	Timeout       float64        `mapstructure:"timeout" validate:"gte=0"`
	FailFast      bool           `mapstructure:"fail_fast"`
	MaxConcurrent int            `mapstructure:"max_concurrent" validate:"gte=0"`
}

// NodeExecutor fans a node out into concurrent branches.
type NodeExecutor struct {
	coordinator *Coordinator
}

func NewNodeExecutor(c *Coordinator) *NodeExecutor {
	return &NodeExecutor{coordinator: c}
}

func (e *NodeExecutor) Execute(ctx context.Context, req *types.Request) (map[string]interface{}, error) {
	var cfg nodeConfig
	if err := types.DecodeConfig(req.Node.Config, &cfg); err != nil {
		return nil, err
	}
	strategy, err := ParseStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	branches := make([]Branch, 0, len(cfg.Branches))
	for _, b := range cfg.Branches {
		branches = append(branches, Branch{
			ID:            b.ID,
			WorkflowID:    b.WorkflowID,
			InputMapping:  b.InputMapping,
			OutputMapping: b.OutputMapping,
			Timeout:       types.Seconds(b.Timeout, 0),
			Nodes:         b.Nodes,
			Edges:         b.Edges,
			Literal:       b.Literal,
			Input:         b.Input,
		})
	}

	result := e.coordinator.Run(ctx, Config{
		Branches:      branches,
		Strategy:      strategy,
		Timeout:       types.Seconds(cfg.Timeout, 0),
		FailFast:      cfg.FailFast,
		MaxConcurrent: cfg.MaxConcurrent,
	}, mapping.WithoutReserved(req.Context))

	output := result.ToMap()
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "parallel strategy " + string(strategy) + " not satisfied"
		}
		return nil, types.NewNodeError(output, "%s", msg)
	}
	return output, nil
}
