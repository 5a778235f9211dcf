package subflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flowgraph-go/internal/domain/workflow"
	"github.com/flowgraph-go/pkg/logger"
	"github.com/flowgraph-go/pkg/mapping"
	"github.com/flowgraph-go/pkg/metrics"
)

var ErrMissingWorkflowID = errors.New("subflow workflow_id is required")

// Launcher starts a stored workflow without waiting for it. The returned channel yields the final
// result exactly once.
type Launcher interface {
	Launch(ctx context.Context, workflowID string, input, seed map[string]interface{}) (*workflow.Execution, <-chan *workflow.Result, error)
}

// Stopper stops a running execution by id.
type Stopper interface {
	Stop(executionID string) bool
}

// Spec describes one subflow invocation.
type Spec struct {
	WorkflowID        string
	InputMapping      map[string]string
	OutputMapping     map[string]string
	Timeout           time.Duration
	AsyncMode         bool
	InheritContext    bool
	ParentWorkflowID  string
	ParentExecutionID string
	ParentContext     map[string]interface{}
}

// Outcome of an invocation. In async mode only ExecutionID is meaningful.
type Outcome struct {
	Success     bool                     `json:"success"`
	Async       bool                     `json:"async"`
	ExecutionID string                   `json:"execution_id,omitempty"`
	Status      workflow.ExecutionStatus `json:"status,omitempty"`
	Output      interface{}              `json:"output,omitempty"`
	Error       string                   `json:"error,omitempty"`
}

// Invocator runs another workflow as a single step of a parent.
type Invocator struct {
	launcher       Launcher
	stopper        Stopper
	defaultTimeout time.Duration
	logger         logger.Logger
}

func NewInvocator(launcher Launcher, stopper Stopper, defaultTimeout time.Duration, log logger.Logger) *Invocator {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Minute
	}
	return &Invocator{
		launcher:       launcher,
		stopper:        stopper,
		defaultTimeout: defaultTimeout,
		logger:         log,
	}
}

// Invoke starts the child workflow. Failures of the child, including timeouts, are reported in the
// outcome and never returned as errors.
func (i *Invocator) Invoke(ctx context.Context, spec Spec) *Outcome {
	mode := "sync"
	if spec.AsyncMode {
		mode = "async"
	}

	if spec.WorkflowID == "" {
		metrics.RecordSubflow(mode, "failure")
		return &Outcome{Async: spec.AsyncMode, Error: ErrMissingWorkflowID.Error()}
	}

	log := i.logger.With("workflowId", spec.WorkflowID, "parentExecutionId", spec.ParentExecutionID, "mode", mode)

	input := mapping.Apply(mapping.WithoutReserved(spec.ParentContext), spec.InputMapping)
	var seed map[string]interface{}
	if spec.InheritContext {
		seed = map[string]interface{}{
			workflow.ContextParentKey:            mapping.CloneMap(spec.ParentContext),
			workflow.ContextParentWorkflowIDKey:  spec.ParentWorkflowID,
			workflow.ContextParentExecutionIDKey: spec.ParentExecutionID,
		}
	}

	if spec.AsyncMode {
		// the child must outlive the node that started it
		child, _, err := i.launcher.Launch(context.WithoutCancel(ctx), spec.WorkflowID, input, seed)
		if err != nil {
			metrics.RecordSubflow(mode, "failure")
			log.Warn("Failed to start async subflow", "error", err)
			return &Outcome{Async: true, Error: err.Error()}
		}
		metrics.RecordSubflow(mode, "success")
		log.Info("Started async subflow", "childExecutionId", child.ID)
		return &Outcome{Success: true, Async: true, ExecutionID: child.ID, Status: workflow.ExecutionRunning}
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = i.defaultTimeout
	}
	childCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	child, done, err := i.launcher.Launch(childCtx, spec.WorkflowID, input, seed)
	if err != nil {
		metrics.RecordSubflow(mode, "failure")
		log.Warn("Failed to start subflow", "error", err)
		return &Outcome{Error: err.Error()}
	}

	select {
	case result := <-done:
		// a child that gave up because its deadline passed still counts as timed out
		if result.Succeeded() || childCtx.Err() == nil {
			return i.complete(log, spec, result)
		}
	case <-childCtx.Done():
	}

	i.stopper.Stop(child.ID)
	outcome := &Outcome{ExecutionID: child.ID, Status: workflow.ExecutionStopped}
	if ctx.Err() == nil {
		outcome.Error = fmt.Sprintf("subflow %s timeout after %s", spec.WorkflowID, timeout)
		metrics.RecordSubflow(mode, "timeout")
	} else {
		outcome.Error = fmt.Sprintf("subflow %s cancelled: %v", spec.WorkflowID, ctx.Err())
		metrics.RecordSubflow(mode, "failure")
	}
	log.Warn("Subflow did not complete", "childExecutionId", child.ID, "error", outcome.Error)
	return outcome
}

func (i *Invocator) complete(log logger.Logger, spec Spec, result *workflow.Result) *Outcome {
	outcome := &Outcome{
		ExecutionID: result.ExecutionID,
		Status:      result.Status,
		Success:     result.Succeeded(),
	}

	if !outcome.Success {
		msg := strings.Join(result.Errors, "; ")
		if msg == "" {
			msg = fmt.Sprintf("child execution ended with status %s", result.Status)
		}
		outcome.Error = msg
		metrics.RecordSubflow("sync", "failure")
		log.Warn("Subflow failed", "childExecutionId", result.ExecutionID, "error", msg)
		return outcome
	}

	output := result.Output
	if out, ok := output.(map[string]interface{}); ok && len(spec.OutputMapping) > 0 {
		output = mapping.Apply(out, spec.OutputMapping)
	}
	outcome.Output = output

	metrics.RecordSubflow("sync", "success")
	log.Debug("Subflow completed", "childExecutionId", result.ExecutionID)
	return outcome
}
