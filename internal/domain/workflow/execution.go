package workflow

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus represents the status of an execution
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionStopped   ExecutionStatus = "stopped"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionStopped
}

// NodeResultStatus is the outcome of one node in one execution.
type NodeResultStatus string

const (
	NodeSuccess NodeResultStatus = "success"
	NodeError   NodeResultStatus = "error"
)

// NodeResult is created once per node per execution and never mutated.
type NodeResult struct {
	Status NodeResultStatus `json:"status"`
	Result interface{}      `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// Execution is one run of a workflow. The runtime that created it is its only writer, except for
// Stop which may be requested from another goroutine.
type Execution struct {
	ID         string
	WorkflowID string

	mu          sync.RWMutex
	startedAt   time.Time
	completedAt *time.Time
	status      ExecutionStatus
	context     map[string]interface{}
	nodeResults map[string]NodeResult
	errors      []string
	output      interface{}
}

// NewExecution creates a pending execution with a generated id.
func NewExecution(workflowID string) *Execution {
	return &Execution{
		ID:          uuid.New().String(),
		WorkflowID:  workflowID,
		status:      ExecutionPending,
		context:     make(map[string]interface{}),
		nodeResults: make(map[string]NodeResult),
		errors:      []string{},
	}
}

func (e *Execution) Status() ExecutionStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// StartedAt returns when the execution entered running.
func (e *Execution) StartedAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.startedAt
}

// Start moves a pending execution to running.
func (e *Execution) Start() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != ExecutionPending {
		return false
	}
	e.status = ExecutionRunning
	e.startedAt = time.Now()
	return true
}

// Finish moves the execution to a terminal status. It returns false when the execution had already
// terminated, e.g. because it was stopped.
func (e *Execution) Finish(status ExecutionStatus) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.IsTerminal() {
		return false
	}
	e.status = status
	now := time.Now()
	e.completedAt = &now
	return true
}

// Stop marks the execution stopped unless it already terminated.
func (e *Execution) Stop() bool {
	return e.Finish(ExecutionStopped)
}

// SetContext writes one context entry. Writes after termination are dropped.
func (e *Execution) SetContext(key string, value interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.IsTerminal() {
		return
	}
	e.context[key] = value
}

// MergeContext overwrites context entries with the given fields.
func (e *Execution) MergeContext(fields map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.IsTerminal() {
		return
	}
	for k, v := range fields {
		e.context[k] = v
	}
}

// ContextSnapshot returns a shallow copy of the shared context.
func (e *Execution) ContextSnapshot() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snapshot := make(map[string]interface{}, len(e.context))
	for k, v := range e.context {
		snapshot[k] = v
	}
	return snapshot
}

// ContextValue returns one entry of the shared context.
func (e *Execution) ContextValue(key string) (interface{}, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.context[key]
	return v, ok
}

// RecordNodeResult stores the outcome of a node. A node result is written at most once.
func (e *Execution) RecordNodeResult(nodeID string, result NodeResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.IsTerminal() {
		return
	}
	if _, exists := e.nodeResults[nodeID]; exists {
		return
	}
	e.nodeResults[nodeID] = result
}

// AddError appends to the ordered error list.
func (e *Execution) AddError(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.IsTerminal() {
		return
	}
	e.errors = append(e.errors, msg)
}

func (e *Execution) SetOutput(output interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.IsTerminal() {
		return
	}
	e.output = output
}

// Result renders the execution in the external result format.
func (e *Execution) Result() *Result {
	e.mu.RLock()
	defer e.mu.RUnlock()

	nodeResults := make(map[string]NodeResult, len(e.nodeResults))
	for k, v := range e.nodeResults {
		nodeResults[k] = v
	}
	ctx := make(map[string]interface{}, len(e.context))
	for k, v := range e.context {
		ctx[k] = v
	}

	return &Result{
		ExecutionID: e.ID,
		WorkflowID:  e.WorkflowID,
		Status:      e.status,
		Output:      e.output,
		NodeResults: nodeResults,
		Errors:      append([]string{}, e.errors...),
		Context:     ctx,
		StartedAt:   e.startedAt,
		CompletedAt: e.completedAt,
	}
}

// Result is the externally visible outcome of an execution.
type Result struct {
	ExecutionID string                 `json:"execution_id"`
	WorkflowID  string                 `json:"workflow_id"`
	Status      ExecutionStatus        `json:"status"`
	Output      interface{}            `json:"output"`
	NodeResults map[string]NodeResult  `json:"node_results"`
	Errors      []string               `json:"errors"`
	Context     map[string]interface{} `json:"context"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// Succeeded reports whether the run completed.
func (r *Result) Succeeded() bool {
	return r != nil && r.Status == ExecutionCompleted
}
