package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/flowgraph-go/internal/domain/workflow"
	"github.com/flowgraph-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterGetUnregister(t *testing.T) {
	r := New(logger.NewNop())
	exec := workflow.NewExecution("wf-1")

	r.Register(exec, nil)
	got, err := r.Get(exec.ID)
	require.NoError(t, err)
	assert.Same(t, exec, got)
	assert.Equal(t, 1, r.Active())
	assert.Equal(t, []string{exec.ID}, r.List())

	r.Unregister(exec.ID)
	_, err = r.Get(exec.ID)
	assert.ErrorIs(t, err, ErrExecutionNotFound)
	assert.Equal(t, 0, r.Active())
}

func TestRegistry_Stop(t *testing.T) {
	r := New(logger.NewNop())
	exec := workflow.NewExecution("wf-1")
	exec.Start()

	ctx, cancel := context.WithCancel(context.Background())
	r.Register(exec, cancel)

	assert.True(t, r.Stop(exec.ID))
	assert.Equal(t, workflow.ExecutionStopped, exec.Status())
	assert.NotNil(t, exec.Result().CompletedAt)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	_, err := r.Get(exec.ID)
	assert.ErrorIs(t, err, ErrExecutionNotFound)
	assert.False(t, r.Stop(exec.ID))
}

func TestRegistry_StopUnknown(t *testing.T) {
	r := New(logger.NewNop())
	assert.False(t, r.Stop("missing"))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New(logger.NewNop())
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			exec := workflow.NewExecution(fmt.Sprintf("wf-%d", i))
			exec.Start()
			r.Register(exec, nil)
			_, _ = r.Get(exec.ID)
			if i%2 == 0 {
				r.Stop(exec.ID)
			} else {
				r.Unregister(exec.ID)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Active())
}
