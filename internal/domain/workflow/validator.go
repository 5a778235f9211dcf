package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedVersion = errors.New("unsupported workflow version")
	ErrEmptyWorkflow      = errors.New("workflow must contain at least one node")
	ErrNoInputNode        = errors.New("workflow must contain at least one input node")
	ErrInvalidConnection  = errors.New("invalid connection: node not found")
	ErrOrphanedNode       = errors.New("node is not connected to any edge")
	ErrDuplicateNodeID    = errors.New("duplicate node ID found")
	ErrInvalidNode        = errors.New("invalid node")
)

// ValidationError carries every structural problem found in a definition.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow validation failed: %s", strings.Join(e.Errors, "; "))
}

// Validator checks a workflow definition for structural soundness
type Validator struct {
	definition *Definition
	nodeMap    map[string]*NodeSpec
	errors     []string
}

// NewValidator creates a new workflow validator
func NewValidator(definition *Definition) *Validator {
	return &Validator{
		definition: definition,
	}
}

// Validate runs every rule and returns the ordered list of problems. An empty list means the
// definition is runnable. The validator holds no state between calls.
func (v *Validator) Validate() []string {
	v.errors = []string{}
	v.nodeMap = make(map[string]*NodeSpec)

	if v.definition == nil {
		return []string{ErrEmptyWorkflow.Error()}
	}

	v.validateVersion()

	if len(v.definition.Nodes) == 0 {
		v.addError(ErrEmptyWorkflow.Error())
		return v.errors
	}

	v.buildNodeMap()
	v.validateInputExists()
	v.validateConnections()
	v.validateNoOrphanedNodes()

	return v.errors
}

func (v *Validator) addError(msg string) {
	v.errors = append(v.errors, msg)
}

func (v *Validator) validateVersion() {
	if v.definition.Version != SchemaVersion {
		v.addError(fmt.Sprintf("%s: %q (expected %q)", ErrUnsupportedVersion, v.definition.Version, SchemaVersion))
	}
}

func (v *Validator) buildNodeMap() {
	for i := range v.definition.Nodes {
		node := &v.definition.Nodes[i]
		if node.ID == "" {
			v.addError(fmt.Sprintf("%s: node at position %d has an empty id", ErrInvalidNode, i))
			continue
		}
		if node.Type == "" {
			v.addError(fmt.Sprintf("%s: node %q has an empty type", ErrInvalidNode, node.ID))
		}
		if _, exists := v.nodeMap[node.ID]; exists {
			v.addError(fmt.Sprintf("%s: %s", ErrDuplicateNodeID, node.ID))
			continue
		}
		v.nodeMap[node.ID] = node
	}
}

func (v *Validator) validateInputExists() {
	for _, node := range v.definition.Nodes {
		if node.Type == NodeTypeInput {
			return
		}
	}
	v.addError(ErrNoInputNode.Error())
}

func (v *Validator) validateConnections() {
	for i, edge := range v.definition.Edges {
		if _, ok := v.nodeMap[edge.Source]; !ok {
			v.addError(fmt.Sprintf("%s: edge %d source node %q not found", ErrInvalidConnection, i, edge.Source))
		}
		if _, ok := v.nodeMap[edge.Target]; !ok {
			v.addError(fmt.Sprintf("%s: edge %d target node %q not found", ErrInvalidConnection, i, edge.Target))
		}
	}
}

func (v *Validator) validateNoOrphanedNodes() {
	connected := make(map[string]bool)
	for _, edge := range v.definition.Edges {
		connected[edge.Source] = true
		connected[edge.Target] = true
	}

	for _, node := range v.definition.Nodes {
		if node.Type == NodeTypeInput || node.ID == "" {
			continue
		}
		if !connected[node.ID] {
			v.addError(fmt.Sprintf("%s: %s", ErrOrphanedNode, node.ID))
		}
	}
}

// Validate is a shorthand for NewValidator(def).Validate().
func Validate(def *Definition) []string {
	return NewValidator(def).Validate()
}
