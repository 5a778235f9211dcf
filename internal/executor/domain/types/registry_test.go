package types

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowgraph-go/internal/domain/workflow"
	"github.com/flowgraph-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequest(nodeType string, config map[string]interface{}, ctx map[string]interface{}, preds ...string) *Request {
	if ctx == nil {
		ctx = map[string]interface{}{}
	}
	return &Request{
		ExecutionID:  "exec-1",
		WorkflowID:   "wf-1",
		Node:         workflow.NodeSpec{ID: "node", Type: nodeType, Config: config},
		Context:      ctx,
		Predecessors: preds,
	}
}

func TestNodeRegistry_Builtins(t *testing.T) {
	r := NewNodeRegistry(logger.NewNop())
	r.RegisterBuiltinNodes()

	for _, nodeType := range []string{
		workflow.NodeTypeInput, workflow.NodeTypeOutput, workflow.NodeTypeSet, workflow.NodeTypeTransform,
		workflow.NodeTypeMerge, workflow.NodeTypeCondition, workflow.NodeTypeDelay, workflow.NodeTypeNoOp,
		workflow.NodeTypeFail,
	} {
		_, err := r.Get(nodeType)
		assert.NoError(t, err, nodeType)
	}

	_, err := r.Get("retriever")
	assert.True(t, errors.Is(err, ErrUnknownNodeType))
	assert.Contains(t, err.Error(), "retriever")
}

func TestNodeRegistry_Extension(t *testing.T) {
	r := NewNodeRegistry(nil)
	r.Register("echo", ExecutorFunc(func(ctx context.Context, req *Request) (map[string]interface{}, error) {
		return req.Input(), nil
	}))

	exec, err := r.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, []string{"echo"}, r.List())

	out, err := exec.Execute(context.Background(), newRequest("echo", nil, map[string]interface{}{
		workflow.ContextInputKey: map[string]interface{}{"q": "hi"},
	}))
	require.NoError(t, err)
	assert.Equal(t, "hi", out["q"])
}

func TestInputAndOutputNodes(t *testing.T) {
	ctx := map[string]interface{}{
		workflow.ContextInputKey: map[string]interface{}{"x": 1},
		"in":                     map[string]interface{}{"x": 1},
		"a":                      map[string]interface{}{"y": 2},
		"b":                      "plain",
	}

	out, err := NewInputNodeExecutor().Execute(context.Background(), newRequest(workflow.NodeTypeInput, nil, ctx))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"x": 1}, out)

	tests := []struct {
		name   string
		config map[string]interface{}
		preds  []string
		want   map[string]interface{}
	}{
		{"single predecessor", nil, []string{"in"}, map[string]interface{}{"x": 1}},
		{"merge predecessors", nil, []string{"in", "a"}, map[string]interface{}{"x": 1, "y": 2}},
		{"explicit source", map[string]interface{}{"source": "a"}, []string{"in"}, map[string]interface{}{"y": 2}},
		{"nested source", map[string]interface{}{"source": "a.y"}, nil, map[string]interface{}{"value": 2}},
		{"scalar entry", nil, []string{"b"}, map[string]interface{}{"value": "plain"}},
		{"missing source", map[string]interface{}{"source": "zzz"}, nil, map[string]interface{}{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewOutputNodeExecutor().Execute(context.Background(), newRequest(workflow.NodeTypeOutput, tt.config, ctx, tt.preds...))
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestSetTransformMergeNodes(t *testing.T) {
	ctx := map[string]interface{}{
		"a": map[string]interface{}{"user": map[string]interface{}{"name": "ana"}},
		"b": map[string]interface{}{"score": 7},
	}

	out, err := NewSetNodeExecutor().Execute(context.Background(), newRequest(workflow.NodeTypeSet, map[string]interface{}{
		"values":        map[string]interface{}{"greeting": "hello"},
		"keep_existing": true,
	}, ctx, "b"))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"greeting": "hello", "score": 7}, out)

	out, err = NewTransformNodeExecutor().Execute(context.Background(), newRequest(workflow.NodeTypeTransform, map[string]interface{}{
		"mapping": map[string]interface{}{"name": "a.user.name", "score": "b.score"},
	}, ctx))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"name": "ana", "score": 7}, out)

	_, err = NewTransformNodeExecutor().Execute(context.Background(), newRequest(workflow.NodeTypeTransform, nil, ctx))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	out, err = NewMergeNodeExecutor().Execute(context.Background(), newRequest(workflow.NodeTypeMerge, nil, ctx, "a", "b"))
	require.NoError(t, err)
	assert.Equal(t, 7, out["score"])
	assert.Len(t, out["items"], 2)
}

func TestDelayNode(t *testing.T) {
	start := time.Now()
	out, err := NewDelayNodeExecutor().Execute(context.Background(), newRequest(workflow.NodeTypeDelay, map[string]interface{}{
		"duration": 20, "unit": "ms",
	}, nil))
	require.NoError(t, err)
	assert.Equal(t, true, out["waited"])
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewDelayNodeExecutor().Execute(ctx, newRequest(workflow.NodeTypeDelay, map[string]interface{}{"duration": 10}, nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFailNode(t *testing.T) {
	_, err := NewFailNodeExecutor().Execute(context.Background(), newRequest(workflow.NodeTypeFail, map[string]interface{}{"message": "bad input"}, nil))
	assert.EqualError(t, err, "bad input")

	_, err = NewFailNodeExecutor().Execute(context.Background(), newRequest(workflow.NodeTypeFail, nil, nil))
	assert.EqualError(t, err, "node failed")
}

func TestConditionNode(t *testing.T) {
	ctx := map[string]interface{}{
		"order": map[string]interface{}{"total": 120.0, "status": "paid", "tags": []interface{}{}},
	}

	tests := []struct {
		name   string
		config map[string]interface{}
		want   bool
	}{
		{
			name: "greater than",
			config: map[string]interface{}{"conditions": []interface{}{
				map[string]interface{}{"field": "order.total", "operator": "gt", "value": 100},
			}},
			want: true,
		},
		{
			name: "and with one false",
			config: map[string]interface{}{"conditions": []interface{}{
				map[string]interface{}{"field": "order.total", "operator": "gt", "value": 100},
				map[string]interface{}{"field": "order.status", "operator": "equals", "value": "refunded"},
			}},
			want: false,
		},
		{
			name: "or with one true",
			config: map[string]interface{}{"combine_mode": "or", "conditions": []interface{}{
				map[string]interface{}{"field": "order.status", "operator": "in", "value": []interface{}{"paid", "shipped"}},
				map[string]interface{}{"field": "order.total", "operator": "lt", "value": 10},
			}},
			want: true,
		},
		{
			name: "is empty",
			config: map[string]interface{}{"conditions": []interface{}{
				map[string]interface{}{"field": "order.tags", "operator": "isEmpty"},
			}},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewConditionNodeExecutor().Execute(context.Background(), newRequest(workflow.NodeTypeCondition, tt.config, ctx))
			require.NoError(t, err)
			assert.Equal(t, tt.want, out["result"])
		})
	}

	_, err := NewConditionNodeExecutor().Execute(context.Background(), newRequest(workflow.NodeTypeCondition, map[string]interface{}{
		"conditions": []interface{}{map[string]interface{}{"field": "x", "operator": "bogus"}},
	}, ctx))
	assert.Error(t, err)
}
