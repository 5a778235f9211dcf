package workflow

import (
	"encoding/json"
	"fmt"
)

// SchemaVersion is the only workflow definition version the engine accepts.
const SchemaVersion = "1.0"

// Node types
const (
	NodeTypeInput     = "input"
	NodeTypeOutput    = "output"
	NodeTypeSet       = "set"
	NodeTypeTransform = "transform"
	NodeTypeDelay     = "delay"
	NodeTypeNoOp      = "noop"
	NodeTypeFail      = "fail"
	NodeTypeCondition = "condition"
	NodeTypeMerge     = "merge"
	NodeTypeParallel  = "parallel"
	NodeTypeSubflow   = "subflow"
	NodeTypeWebhook   = "webhook"
	NodeTypeLLM       = "llm"
)

// Reserved context keys
const (
	ContextInputKey             = "__input__"
	ContextParentKey            = "__parent__"
	ContextParentWorkflowIDKey  = "parent_workflow_id"
	ContextParentExecutionIDKey = "parent_execution_id"
)

// Definition is a parsed workflow graph. It is read once per execution and never mutated.
type Definition struct {
	Version string     `json:"version"`
	Nodes   []NodeSpec `json:"nodes"`
	Edges   []Edge     `json:"edges"`
}

type NodeSpec struct {
	ID     string                 `json:"id"`
	Type   string                 `json:"type"`
	Config map[string]interface{} `json:"config,omitempty"`
}

type Edge struct {
	Source    string `json:"source"`
	Target    string `json:"target"`
	Condition string `json:"condition,omitempty"`
}

// ParseDefinition decodes the JSON workflow format. Structural checks are left to Validate.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse workflow definition: %w", err)
	}
	return &def, nil
}

// ContinueOnError reports whether a failure of this node lets the run proceed.
func (n NodeSpec) ContinueOnError() bool {
	if n.Config == nil {
		return false
	}
	switch v := n.Config["continue_on_error"].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}

// Node returns the node with the given id.
func (d *Definition) Node(id string) (NodeSpec, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeSpec{}, false
}

// NodesOfType returns ids of nodes with the given type in definition order.
func (d *Definition) NodesOfType(nodeType string) []string {
	var ids []string
	for _, n := range d.Nodes {
		if n.Type == nodeType {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// ToJSON converts the definition to JSON
func (d *Definition) ToJSON() ([]byte, error) {
	return json.Marshal(d)
}
