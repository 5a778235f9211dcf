package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecution_Lifecycle(t *testing.T) {
	exec := NewExecution("wf-1")
	require.NotEmpty(t, exec.ID)
	assert.Equal(t, ExecutionPending, exec.Status())

	require.True(t, exec.Start())
	assert.False(t, exec.Start(), "start is only valid from pending")
	assert.Equal(t, ExecutionRunning, exec.Status())
	assert.False(t, exec.StartedAt().IsZero())

	exec.SetContext(ContextInputKey, map[string]interface{}{"x": 1})
	exec.MergeContext(map[string]interface{}{"y": 2})
	exec.RecordNodeResult("n1", NodeResult{Status: NodeSuccess, Result: "first"})
	exec.RecordNodeResult("n1", NodeResult{Status: NodeError, Error: "second"})
	exec.SetOutput("done")

	require.True(t, exec.Finish(ExecutionCompleted))
	assert.False(t, exec.Finish(ExecutionFailed))

	result := exec.Result()
	assert.True(t, result.Succeeded())
	assert.Equal(t, "wf-1", result.WorkflowID)
	assert.Equal(t, "done", result.Output)
	assert.Equal(t, NodeSuccess, result.NodeResults["n1"].Status, "node results are write-once")
	assert.Equal(t, 2, result.Context["y"])
	require.NotNil(t, result.CompletedAt)
	assert.Empty(t, result.Errors)
}

func TestExecution_ImmutableAfterStop(t *testing.T) {
	exec := NewExecution("wf-1")
	exec.Start()
	exec.SetContext("before", true)

	require.True(t, exec.Stop())
	assert.False(t, exec.Stop())

	exec.SetContext("after", true)
	exec.AddError("late failure")
	exec.RecordNodeResult("late", NodeResult{Status: NodeSuccess})
	exec.SetOutput("late")

	result := exec.Result()
	assert.Equal(t, ExecutionStopped, result.Status)
	assert.Contains(t, result.Context, "before")
	assert.NotContains(t, result.Context, "after")
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.NodeResults)
	assert.Nil(t, result.Output)
	assert.False(t, result.Succeeded())
}

func TestExecution_SnapshotIsCopy(t *testing.T) {
	exec := NewExecution("wf-1")
	exec.Start()
	exec.SetContext("k", "v")

	snapshot := exec.ContextSnapshot()
	snapshot["k"] = "changed"

	v, ok := exec.ContextValue("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}
