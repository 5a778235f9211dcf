package waiter

import (
	"context"
	"time"

	"github.com/flowgraph-go/internal/executor/domain/types"
)

type nodeConfig struct {
	WebhookID      string                 `mapstructure:"webhook_id"`
	Timeout        float64                `mapstructure:"timeout" validate:"gte=0"`
	ExpectedMethod string                 `mapstructure:"expected_method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE get post put patch delete"`
	SecretKey      string                 `mapstructure:"secret_key"`
	Schema         map[string]interface{} `mapstructure:"schema"`
	OutputMapping  map[string]string      `mapstructure:"output_mapping"`
}

// NodeExecutor suspends a workflow node on an external callback.
type NodeExecutor struct {
	waiter *Waiter
}

func NewNodeExecutor(w *Waiter) *NodeExecutor {
	return &NodeExecutor{waiter: w}
}

func (e *NodeExecutor) Execute(ctx context.Context, req *types.Request) (map[string]interface{}, error) {
	var cfg nodeConfig
	if err := types.DecodeConfig(req.Node.Config, &cfg); err != nil {
		return nil, err
	}

	outcome, err := e.waiter.Wait(ctx, WaitSpec{
		WebhookID:      cfg.WebhookID,
		ExecutionID:    req.ExecutionID,
		NodeID:         req.Node.ID,
		Timeout:        types.Seconds(cfg.Timeout, 0),
		ExpectedMethod: cfg.ExpectedMethod,
		SecretKey:      cfg.SecretKey,
		Schema:         cfg.Schema,
		OutputMapping:  cfg.OutputMapping,
	})
	if err != nil {
		return nil, err
	}

	output := map[string]interface{}{
		"success":      outcome.Success,
		"webhook_id":   outcome.WebhookID,
		"callback_url": outcome.CallbackURL,
	}
	if !outcome.Success {
		output["error"] = outcome.Error
		return nil, types.NewNodeError(output, "%s", outcome.Error)
	}

	output["data"] = outcome.Data
	output["mapped_data"] = outcome.MappedData
	output["headers"] = outcome.Headers
	output["received_at"] = outcome.ReceivedAt.Format(time.RFC3339Nano)
	return output, nil
}
