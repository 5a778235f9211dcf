package ports

import (
	"context"
	"errors"

	"github.com/flowgraph-go/internal/domain/workflow"
)

var (
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrExecutionNotFound = errors.New("execution not found")
)

// DefinitionStore resolves workflow definitions by id.
type DefinitionStore interface {
	Get(ctx context.Context, id string) (*workflow.Definition, error)
	Put(ctx context.Context, id string, def *workflow.Definition) error
}

// ResultRecorder receives every execution once it reaches a terminal status.
type ResultRecorder interface {
	Record(ctx context.Context, result *workflow.Result) error
}

// ExecutionRepository stores finished executions for later lookup.
type ExecutionRepository interface {
	ResultRecorder
	GetByID(ctx context.Context, id string) (*workflow.Result, error)
	ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*workflow.Result, error)
}
