package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/flowgraph-go/internal/domain/workflow"
	"github.com/flowgraph-go/internal/execution/app/parallel"
	"github.com/flowgraph-go/internal/execution/app/runtime"
	"github.com/flowgraph-go/internal/execution/app/subflow"
)

// Ids of the nodes added around an inline branch.
const (
	BranchInputNodeID  = "__branch_input__"
	BranchOutputNodeID = "__branch_output__"
)

// branchRunner dispatches workflow references to the subflow invocator and inline node lists to
// the runtime. Literal branches never reach it.
type branchRunner struct {
	runtime   *runtime.Runtime
	invocator *subflow.Invocator
}

func (b *branchRunner) RunBranch(ctx context.Context, branch parallel.Branch, input map[string]interface{}) (interface{}, error) {
	if branch.WorkflowID != "" {
		outcome := b.invocator.Invoke(ctx, subflow.Spec{
			WorkflowID:    branch.WorkflowID,
			InputMapping:  branch.InputMapping,
			OutputMapping: branch.OutputMapping,
			Timeout:       branch.Timeout,
			ParentContext: input,
		})
		if !outcome.Success {
			return nil, errors.New(outcome.Error)
		}
		return outcome.Output, nil
	}

	runCtx := ctx
	if branch.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, branch.Timeout)
		defer cancel()
	}

	result := b.runtime.Execute(runCtx, "branch:"+branch.ID, BranchDefinition(branch.Nodes, branch.Edges), input)
	if !result.Succeeded() {
		return nil, fmt.Errorf("branch %s %s: %s", branch.ID, result.Status, strings.Join(result.Errors, "; "))
	}
	return result.Output, nil
}

// BranchDefinition turns an inline node list into a runnable definition. Without an input node one
// is added in front of every node that has no incoming edge; without edges the nodes run in list
// order; without an output node one is added after every sink.
func BranchDefinition(nodes []workflow.NodeSpec, edges []workflow.Edge) *workflow.Definition {
	def := &workflow.Definition{Version: workflow.SchemaVersion}

	hasInput, hasOutput := false, false
	for _, n := range nodes {
		switch n.Type {
		case workflow.NodeTypeInput:
			hasInput = true
		case workflow.NodeTypeOutput:
			hasOutput = true
		}
	}

	if !hasInput {
		def.Nodes = append(def.Nodes, workflow.NodeSpec{ID: BranchInputNodeID, Type: workflow.NodeTypeInput})
	}
	def.Nodes = append(def.Nodes, nodes...)

	if len(edges) == 0 {
		for i := 1; i < len(def.Nodes); i++ {
			def.Edges = append(def.Edges, workflow.Edge{Source: def.Nodes[i-1].ID, Target: def.Nodes[i].ID})
		}
	} else {
		def.Edges = append(def.Edges, edges...)
		if !hasInput {
			targets := make(map[string]bool, len(edges))
			for _, e := range edges {
				targets[e.Target] = true
			}
			for _, n := range nodes {
				if !targets[n.ID] {
					def.Edges = append(def.Edges, workflow.Edge{Source: BranchInputNodeID, Target: n.ID})
				}
			}
		}
	}

	if !hasOutput {
		sources := make(map[string]bool, len(def.Edges))
		for _, e := range def.Edges {
			sources[e.Source] = true
		}
		sinks := []string{}
		for _, n := range def.Nodes {
			if !sources[n.ID] {
				sinks = append(sinks, n.ID)
			}
		}
		def.Nodes = append(def.Nodes, workflow.NodeSpec{ID: BranchOutputNodeID, Type: workflow.NodeTypeOutput})
		for _, id := range sinks {
			def.Edges = append(def.Edges, workflow.Edge{Source: id, Target: BranchOutputNodeID})
		}
	}

	return def
}
