package types

import (
	"context"
	"errors"
	"time"

	"github.com/flowgraph-go/pkg/mapping"
)

type setNodeConfig struct {
	Values       map[string]interface{} `mapstructure:"values"`
	KeepExisting bool                   `mapstructure:"keep_existing"`
}

// SetNodeExecutor sets values in the data
type SetNodeExecutor struct{}

func NewSetNodeExecutor() *SetNodeExecutor {
	return &SetNodeExecutor{}
}

func (e *SetNodeExecutor) Execute(ctx context.Context, req *Request) (map[string]interface{}, error) {
	var cfg setNodeConfig
	if err := DecodeConfig(req.Node.Config, &cfg); err != nil {
		return nil, err
	}

	result := make(map[string]interface{})
	if cfg.KeepExisting {
		for _, pred := range req.Predecessors {
			v, _ := req.PredecessorOutput(pred)
			for k, val := range asFields(v) {
				result[k] = val
			}
		}
	}

	for k, v := range cfg.Values {
		result[k] = mapping.Clone(v)
	}

	return result, nil
}

type transformNodeConfig struct {
	Mapping map[string]string `mapstructure:"mapping" validate:"required"`
}

// TransformNodeExecutor projects context fields into new keys. Sources may be dotted paths or
// JSONPath expressions.
type TransformNodeExecutor struct{}

func NewTransformNodeExecutor() *TransformNodeExecutor {
	return &TransformNodeExecutor{}
}

func (e *TransformNodeExecutor) Execute(ctx context.Context, req *Request) (map[string]interface{}, error) {
	var cfg transformNodeConfig
	if err := DecodeConfig(req.Node.Config, &cfg); err != nil {
		return nil, err
	}
	return mapping.Extract(req.Context, cfg.Mapping), nil
}

// MergeNodeExecutor combines the entries of all predecessors. Later edges win on key collisions.
type MergeNodeExecutor struct{}

func NewMergeNodeExecutor() *MergeNodeExecutor {
	return &MergeNodeExecutor{}
}

func (e *MergeNodeExecutor) Execute(ctx context.Context, req *Request) (map[string]interface{}, error) {
	merged := make(map[string]interface{})
	items := make([]interface{}, 0, len(req.Predecessors))
	for _, pred := range req.Predecessors {
		v, ok := req.PredecessorOutput(pred)
		if !ok {
			continue
		}
		items = append(items, v)
		for k, val := range asFields(v) {
			merged[k] = val
		}
	}
	merged["items"] = items
	return merged, nil
}

type delayNodeConfig struct {
	Duration float64 `mapstructure:"duration" validate:"gte=0"`
	Unit     string  `mapstructure:"unit" validate:"omitempty,oneof=milliseconds ms seconds s minutes m"`
}

// DelayNodeExecutor pauses execution
type DelayNodeExecutor struct{}

func NewDelayNodeExecutor() *DelayNodeExecutor {
	return &DelayNodeExecutor{}
}

func (e *DelayNodeExecutor) Execute(ctx context.Context, req *Request) (map[string]interface{}, error) {
	var cfg delayNodeConfig
	if err := DecodeConfig(req.Node.Config, &cfg); err != nil {
		return nil, err
	}

	var waitDuration time.Duration
	switch cfg.Unit {
	case "milliseconds", "ms":
		waitDuration = time.Duration(cfg.Duration * float64(time.Millisecond))
	case "minutes", "m":
		waitDuration = time.Duration(cfg.Duration * float64(time.Minute))
	default:
		waitDuration = time.Duration(cfg.Duration * float64(time.Second))
	}

	timer := time.NewTimer(waitDuration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	return map[string]interface{}{
		"waited":   true,
		"duration": waitDuration.String(),
	}, nil
}

// NoOpExecutor does nothing
type NoOpExecutor struct{}

func NewNoOpExecutor() *NoOpExecutor {
	return &NoOpExecutor{}
}

func (e *NoOpExecutor) Execute(ctx context.Context, req *Request) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

type failNodeConfig struct {
	Message string `mapstructure:"message"`
}

// FailNodeExecutor always fails with the configured message.
type FailNodeExecutor struct{}

func NewFailNodeExecutor() *FailNodeExecutor {
	return &FailNodeExecutor{}
}

func (e *FailNodeExecutor) Execute(ctx context.Context, req *Request) (map[string]interface{}, error) {
	var cfg failNodeConfig
	if err := DecodeConfig(req.Node.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Message == "" {
		cfg.Message = "node failed"
	}
	return nil, errors.New(cfg.Message)
}
