package workflow

import (
	"errors"
	"fmt"
	"sort"
)

var ErrCircularDependency = errors.New("circular dependency detected")

// CycleError reports the nodes that could not be scheduled.
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s among nodes %v", ErrCircularDependency, e.Nodes)
}

func (e *CycleError) Unwrap() error {
	return ErrCircularDependency
}

// Graph is the adjacency view of a validated definition. It is read-only once built.
type Graph struct {
	Nodes            map[string]*NodeSpec
	Adjacency        map[string][]string
	ReverseAdjacency map[string][]string

	order []string
	index map[string]int
}

// BuildGraph validates the definition and derives its adjacency lists.
func BuildGraph(def *Definition) (*Graph, error) {
	if errs := Validate(def); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	g := &Graph{
		Nodes:            make(map[string]*NodeSpec, len(def.Nodes)),
		Adjacency:        make(map[string][]string, len(def.Nodes)),
		ReverseAdjacency: make(map[string][]string, len(def.Nodes)),
		order:            make([]string, 0, len(def.Nodes)),
		index:            make(map[string]int, len(def.Nodes)),
	}

	for i := range def.Nodes {
		node := &def.Nodes[i]
		g.Nodes[node.ID] = node
		g.index[node.ID] = i
		g.order = append(g.order, node.ID)
	}

	for _, edge := range def.Edges {
		g.Adjacency[edge.Source] = append(g.Adjacency[edge.Source], edge.Target)
		g.ReverseAdjacency[edge.Target] = append(g.ReverseAdjacency[edge.Target], edge.Source)
	}

	return g, nil
}

// Predecessors returns the direct upstream nodes of id in edge order.
func (g *Graph) Predecessors(id string) []string {
	return g.ReverseAdjacency[id]
}

// NodeIDs returns node ids in definition order.
func (g *Graph) NodeIDs() []string {
	return append([]string(nil), g.order...)
}

// TopologicalOrder computes a linear execution order with Kahn's algorithm. Nodes that become
// ready at the same time are emitted in definition order.
func (g *Graph) TopologicalOrder() ([]string, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	for id := range g.Nodes {
		inDegree[id] = 0
	}
	for _, targets := range g.Adjacency {
		for _, target := range targets {
			inDegree[target]++
		}
	}

	ready := []string{}
	for _, id := range g.order {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	result := make([]string, 0, len(g.Nodes))
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		result = append(result, current)

		for _, neighbor := range g.Adjacency[current] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				ready = g.insertReady(ready, neighbor)
			}
		}
	}

	if len(result) < len(g.Nodes) {
		var stuck []string
		for _, id := range g.order {
			if inDegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		return nil, &CycleError{Nodes: stuck}
	}

	return result, nil
}

// insertReady keeps the ready queue sorted by definition index.
func (g *Graph) insertReady(ready []string, id string) []string {
	pos := sort.Search(len(ready), func(i int) bool {
		return g.index[ready[i]] > g.index[id]
	})
	ready = append(ready, "")
	copy(ready[pos+1:], ready[pos:])
	ready[pos] = id
	return ready
}

// GetAncestors returns all ancestor nodes of a given node
func (g *Graph) GetAncestors(nodeID string) []string {
	ancestors := []string{}
	visited := make(map[string]bool)

	var dfs func(current string)
	dfs = func(current string) {
		for _, ancestor := range g.ReverseAdjacency[current] {
			if !visited[ancestor] {
				visited[ancestor] = true
				ancestors = append(ancestors, ancestor)
				dfs(ancestor)
			}
		}
	}

	dfs(nodeID)
	return ancestors
}
