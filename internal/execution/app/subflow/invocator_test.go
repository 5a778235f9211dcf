package subflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flowgraph-go/internal/domain/workflow"
	"github.com/flowgraph-go/internal/executor/domain/types"
	"github.com/flowgraph-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type launch struct {
	workflowID string
	input      map[string]interface{}
	seed       map[string]interface{}
	ctx        context.Context
}

// fakeLauncher completes children according to behaviour keyed by workflow id.
type fakeLauncher struct {
	mu       sync.Mutex
	launches []launch
	stopped  []string
}

func (f *fakeLauncher) Launch(ctx context.Context, workflowID string, input, seed map[string]interface{}) (*workflow.Execution, <-chan *workflow.Result, error) {
	f.mu.Lock()
	f.launches = append(f.launches, launch{workflowID, input, seed, ctx})
	f.mu.Unlock()

	if workflowID == "missing" {
		return nil, nil, errors.New("workflow not found: missing")
	}

	exec := workflow.NewExecution(workflowID)
	exec.Start()
	done := make(chan *workflow.Result, 1)

	go func() {
		switch workflowID {
		case "never":
			<-ctx.Done()
		case "failing":
			exec.AddError("node boom: exploded")
			exec.Finish(workflow.ExecutionFailed)
		default:
			exec.SetOutput(map[string]interface{}{"answer": input["question"], "raw": 1})
			exec.Finish(workflow.ExecutionCompleted)
		}
		done <- exec.Result()
	}()

	return exec, done, nil
}

func (f *fakeLauncher) Stop(executionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, executionID)
	return true
}

func (f *fakeLauncher) last() launch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches[len(f.launches)-1]
}

func newInvocator(f *fakeLauncher) *Invocator {
	return NewInvocator(f, f, time.Minute, logger.NewNop())
}

func TestInvocator_SyncSuccessWithMappings(t *testing.T) {
	f := &fakeLauncher{}

	outcome := newInvocator(f).Invoke(context.Background(), Spec{
		WorkflowID:        "child",
		InputMapping:      map[string]string{"question": "user.query"},
		OutputMapping:     map[string]string{"result": "answer"},
		ParentWorkflowID:  "parent",
		ParentExecutionID: "exec-1",
		ParentContext: map[string]interface{}{
			workflow.ContextInputKey: map[string]interface{}{"ignored": true},
			"user":                   map[string]interface{}{"query": "why?"},
			"other":                  "passes through",
		},
	})

	require.True(t, outcome.Success, outcome.Error)
	assert.False(t, outcome.Async)
	assert.Equal(t, workflow.ExecutionCompleted, outcome.Status)
	assert.Equal(t, "why?", outcome.Output.(map[string]interface{})["result"])
	assert.Equal(t, 1, outcome.Output.(map[string]interface{})["raw"])

	l := f.last()
	assert.Equal(t, "why?", l.input["question"])
	assert.Equal(t, "passes through", l.input["other"])
	assert.NotContains(t, l.input, workflow.ContextInputKey)
	assert.Nil(t, l.seed)
}

func TestInvocator_InheritContext(t *testing.T) {
	f := &fakeLauncher{}

	newInvocator(f).Invoke(context.Background(), Spec{
		WorkflowID:        "child",
		InheritContext:    true,
		ParentWorkflowID:  "parent",
		ParentExecutionID: "exec-1",
		ParentContext:     map[string]interface{}{"a": 1},
	})

	seed := f.last().seed
	require.NotNil(t, seed)
	assert.Equal(t, map[string]interface{}{"a": 1}, seed[workflow.ContextParentKey])
	assert.Equal(t, "parent", seed[workflow.ContextParentWorkflowIDKey])
	assert.Equal(t, "exec-1", seed[workflow.ContextParentExecutionIDKey])
}

func TestInvocator_SyncTimeout(t *testing.T) {
	f := &fakeLauncher{}
	start := time.Now()

	outcome := newInvocator(f).Invoke(context.Background(), Spec{WorkflowID: "never", Timeout: time.Second})

	elapsed := time.Since(start)
	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "timeout")
	assert.GreaterOrEqual(t, elapsed, time.Second)
	assert.Less(t, elapsed, 2*time.Second)
	assert.Equal(t, []string{outcome.ExecutionID}, f.stopped)
}

func TestInvocator_ChildFailure(t *testing.T) {
	outcome := newInvocator(&fakeLauncher{}).Invoke(context.Background(), Spec{WorkflowID: "failing"})

	assert.False(t, outcome.Success)
	assert.Equal(t, workflow.ExecutionFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "exploded")
}

func TestInvocator_LaunchError(t *testing.T) {
	outcome := newInvocator(&fakeLauncher{}).Invoke(context.Background(), Spec{WorkflowID: "missing"})

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "not found")
}

func TestInvocator_MissingWorkflowID(t *testing.T) {
	f := &fakeLauncher{}
	outcome := newInvocator(f).Invoke(context.Background(), Spec{})

	assert.False(t, outcome.Success)
	assert.Equal(t, ErrMissingWorkflowID.Error(), outcome.Error)
	assert.Empty(t, f.launches, "no child is started")
}

func TestInvocator_Async(t *testing.T) {
	f := &fakeLauncher{}
	ctx, cancel := context.WithCancel(context.Background())

	outcome := newInvocator(f).Invoke(ctx, Spec{WorkflowID: "never", AsyncMode: true})
	cancel()

	require.True(t, outcome.Success)
	assert.True(t, outcome.Async)
	assert.NotEmpty(t, outcome.ExecutionID)
	assert.NoError(t, f.last().ctx.Err(), "async child is detached from the parent context")
}

func TestNodeExecutor(t *testing.T) {
	f := &fakeLauncher{}
	exec := NewNodeExecutor(newInvocator(f))

	req := &types.Request{
		ExecutionID: "exec-1",
		WorkflowID:  "parent",
		Node: workflow.NodeSpec{ID: "sub", Type: workflow.NodeTypeSubflow, Config: map[string]interface{}{
			"workflow_id":   "child",
			"input_mapping": map[string]interface{}{"question": "q"},
		}},
		Context: map[string]interface{}{"q": "hello"},
	}

	out, err := exec.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "hello", out["output"].(map[string]interface{})["answer"])

	req.Node.Config = map[string]interface{}{"workflow_id": "never", "timeout": 0.1}
	_, err = exec.Execute(context.Background(), req)
	var nodeErr *types.NodeError
	require.True(t, errors.As(err, &nodeErr))
	assert.Contains(t, nodeErr.Message, "timeout")

	req.Node.Config = map[string]interface{}{}
	launches := len(f.launches)
	_, err = exec.Execute(context.Background(), req)
	assert.ErrorIs(t, err, ErrMissingWorkflowID)
	assert.Len(t, f.launches, launches)
}
