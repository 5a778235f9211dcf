package types

import (
	"context"

	"github.com/flowgraph-go/pkg/mapping"
)

// InputNodeExecutor exposes the execution input to the graph.
type InputNodeExecutor struct{}

func NewInputNodeExecutor() *InputNodeExecutor {
	return &InputNodeExecutor{}
}

func (e *InputNodeExecutor) Execute(ctx context.Context, req *Request) (map[string]interface{}, error) {
	return mapping.CloneMap(req.Input()), nil
}

type outputNodeConfig struct {
	Source string `mapstructure:"source"`
}

// OutputNodeExecutor selects what the workflow returns: the entry named by config.source, otherwise
// the single predecessor's entry, otherwise all predecessor entries merged in edge order.
type OutputNodeExecutor struct{}

func NewOutputNodeExecutor() *OutputNodeExecutor {
	return &OutputNodeExecutor{}
}

func (e *OutputNodeExecutor) Execute(ctx context.Context, req *Request) (map[string]interface{}, error) {
	var cfg outputNodeConfig
	if err := DecodeConfig(req.Node.Config, &cfg); err != nil {
		return nil, err
	}

	if cfg.Source != "" {
		v, ok := mapping.Lookup(req.Context, cfg.Source)
		if !ok {
			return map[string]interface{}{}, nil
		}
		return asFields(v), nil
	}

	if len(req.Predecessors) == 1 {
		v, _ := req.PredecessorOutput(req.Predecessors[0])
		return asFields(v), nil
	}

	merged := make(map[string]interface{})
	for _, pred := range req.Predecessors {
		v, ok := req.PredecessorOutput(pred)
		if !ok {
			continue
		}
		for k, val := range asFields(v) {
			merged[k] = val
		}
	}
	return merged, nil
}

// asFields turns a context value into node output fields. Non-map values are wrapped under "value".
func asFields(v interface{}) map[string]interface{} {
	switch t := v.(type) {
	case nil:
		return map[string]interface{}{}
	case map[string]interface{}:
		return mapping.CloneMap(t)
	default:
		return map[string]interface{}{"value": t}
	}
}
