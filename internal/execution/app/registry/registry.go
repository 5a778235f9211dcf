package registry

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/flowgraph-go/internal/domain/workflow"
	"github.com/flowgraph-go/pkg/logger"
)

var ErrExecutionNotFound = errors.New("execution not found")

type entry struct {
	execution *workflow.Execution
	cancel    context.CancelFunc
}

// Registry tracks in-flight executions by id. An entry exists exactly while its execution is active.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  logger.Logger
}

func New(log logger.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  log,
	}
}

// Register adds an active execution. cancel, when set, aborts the context handed to its nodes.
func (r *Registry) Register(exec *workflow.Execution, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[exec.ID] = &entry{execution: exec, cancel: cancel}
}

func (r *Registry) Get(executionID string) (*workflow.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[executionID]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return e.execution, nil
}

func (r *Registry) Unregister(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, executionID)
}

// Stop marks the execution stopped, stamps its completion time and removes it. In-flight node
// work observes the cancelled context. It returns false for an unknown id.
func (r *Registry) Stop(executionID string) bool {
	r.mu.Lock()
	e, ok := r.entries[executionID]
	if ok {
		delete(r.entries, executionID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	e.execution.Stop()
	if e.cancel != nil {
		e.cancel()
	}

	r.logger.Info("Execution stopped", "executionId", executionID, "workflowId", e.execution.WorkflowID)
	return true
}

// Active returns the number of registered executions.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// List returns the active execution ids in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
