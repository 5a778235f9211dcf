package types

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowgraph-go/internal/domain/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

var (
	ErrUnknownNodeType = errors.New("unknown node type")
	ErrInvalidConfig   = errors.New("invalid node config")
)

// Request is what the runtime hands to a node executor.
type Request struct {
	ExecutionID  string
	WorkflowID   string
	Node         workflow.NodeSpec
	Context      map[string]interface{}
	Predecessors []string
}

// Input returns the execution input seeded by the caller.
func (r *Request) Input() map[string]interface{} {
	if in, ok := r.Context[workflow.ContextInputKey].(map[string]interface{}); ok {
		return in
	}
	return map[string]interface{}{}
}

// PredecessorOutput returns the context entry written by an upstream node.
func (r *Request) PredecessorOutput(id string) (interface{}, bool) {
	v, ok := r.Context[id]
	return v, ok
}

// NodeExecutor is the interface that all node executors must implement
type NodeExecutor interface {
	// Execute runs the node against the current context. The returned fields are merged into the
	// shared context; a non-nil error marks the node failed.
	Execute(ctx context.Context, req *Request) (map[string]interface{}, error)
}

// ExecutorFunc adapts a function to NodeExecutor.
type ExecutorFunc func(ctx context.Context, req *Request) (map[string]interface{}, error)

func (f ExecutorFunc) Execute(ctx context.Context, req *Request) (map[string]interface{}, error) {
	return f(ctx, req)
}

// NodeError is a failure reported as data by a node that still has diagnostic output, e.g. a
// parallel node whose strategy was not satisfied.
type NodeError struct {
	Message string
	Output  map[string]interface{}
}

func (e *NodeError) Error() string {
	return e.Message
}

// NewNodeError builds a NodeError carrying output.
func NewNodeError(output map[string]interface{}, format string, args ...interface{}) *NodeError {
	return &NodeError{Message: fmt.Sprintf(format, args...), Output: output}
}

var validate = validator.New()

// DecodeConfig decodes a node config map into out (weakly typed) and validates its struct tags.
func DecodeConfig(config map[string]interface{}, out interface{}) error {
	if config == nil {
		config = map[string]interface{}{}
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := decoder.Decode(config); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Seconds converts a config value given in seconds, falling back to def when it is not positive.
func Seconds(value float64, def time.Duration) time.Duration {
	if value <= 0 {
		return def
	}
	return time.Duration(value * float64(time.Second))
}
