package types

import (
	"fmt"
	"sort"
	"sync"

	"github.com/flowgraph-go/internal/domain/workflow"
	"github.com/flowgraph-go/pkg/logger"
)

// NodeRegistry manages all available node types
type NodeRegistry struct {
	executors map[string]NodeExecutor
	mu        sync.RWMutex
	logger    logger.Logger
}

// NewNodeRegistry creates a new node registry
func NewNodeRegistry(log logger.Logger) *NodeRegistry {
	if log == nil {
		log = logger.NewNop()
	}
	return &NodeRegistry{
		executors: make(map[string]NodeExecutor),
		logger:    log,
	}
}

// Register adds a node executor to the registry, replacing any executor for the same type.
func (r *NodeRegistry) Register(nodeType string, executor NodeExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[nodeType]; exists {
		r.logger.Warn("Replacing node executor", "nodeType", nodeType)
	}
	r.executors[nodeType] = executor
}

// Get returns an executor for a node type
func (r *NodeRegistry) Get(nodeType string) (NodeExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executor, ok := r.executors[nodeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNodeType, nodeType)
	}

	return executor, nil
}

// List returns all registered node types
func (r *NodeRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// RegisterBuiltinNodes registers the node types that need no collaborators. Parallel, subflow,
// webhook and llm nodes are registered by the engine once their dependencies exist.
func (r *NodeRegistry) RegisterBuiltinNodes() {
	r.Register(workflow.NodeTypeInput, NewInputNodeExecutor())
	r.Register(workflow.NodeTypeOutput, NewOutputNodeExecutor())

	r.Register(workflow.NodeTypeSet, NewSetNodeExecutor())
	r.Register(workflow.NodeTypeTransform, NewTransformNodeExecutor())
	r.Register(workflow.NodeTypeMerge, NewMergeNodeExecutor())
	r.Register(workflow.NodeTypeCondition, NewConditionNodeExecutor())

	r.Register(workflow.NodeTypeDelay, NewDelayNodeExecutor())
	r.Register(workflow.NodeTypeNoOp, NewNoOpExecutor())
	r.Register(workflow.NodeTypeFail, NewFailNodeExecutor())
}
