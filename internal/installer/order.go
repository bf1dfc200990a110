// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"errors"
	"fmt"
	"strings"

	"rtpi-cli/pkg/types"
)

// ErrInvalidPlan is matched by errors from Order.
var ErrInvalidPlan = errors.New("invalid installer plan")

type (
	// CycleError reports steps whose dependencies form a cycle.
	CycleError struct {
		// Cycle lists the steps left unordered, which include the cycle.
		Cycle []types.StepName
	}

	// graph is a directed graph of steps. An edge from A to B means A must
	// complete before B starts.
	graph struct {
		adjacency map[types.StepName][]types.StepName
		nodes     []types.StepName
		nodeSet   map[types.StepName]bool
	}
)

// Order validates steps and returns them so that every step follows its
// dependencies. Independent steps keep their declared order.
func Order(steps []Step) ([]Step, error) {
	byName := make(map[types.StepName]Step, len(steps))
	g := newGraph()
	for _, s := range steps {
		if ok, errs := s.Name.IsValid(); !ok {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPlan, errs[0])
		}
		if _, dup := byName[s.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate step %q", ErrInvalidPlan, s.Name)
		}
		if s.Run == nil {
			return nil, fmt.Errorf("%w: step %q has no action", ErrInvalidPlan, s.Name)
		}
		byName[s.Name] = s
		g.addNode(s.Name)
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("%w: step %q depends on unknown step %q", ErrInvalidPlan, s.Name, dep)
			}
			g.addEdge(dep, s.Name)
		}
	}

	names, err := g.topologicalSort()
	if err != nil {
		return nil, err
	}
	ordered := make([]Step, len(names))
	for i, name := range names {
		ordered[i] = byName[name]
	}
	return ordered, nil
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Cycle))
	for i, n := range e.Cycle {
		parts[i] = string(n)
	}
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(parts, " -> "))
}

// Is reports ErrInvalidPlan.
func (e *CycleError) Is(target error) bool { return target == ErrInvalidPlan }

func newGraph() *graph {
	return &graph{
		adjacency: make(map[types.StepName][]types.StepName),
		nodeSet:   make(map[types.StepName]bool),
	}
}

func (g *graph) addNode(name types.StepName) {
	if g.nodeSet[name] {
		return
	}
	g.nodeSet[name] = true
	g.nodes = append(g.nodes, name)
}

func (g *graph) addEdge(from, to types.StepName) {
	g.addNode(from)
	g.addNode(to)
	g.adjacency[from] = append(g.adjacency[from], to)
}

// topologicalSort orders the graph with Kahn's algorithm. Nodes at the same
// level appear in insertion order.
func (g *graph) topologicalSort() ([]types.StepName, error) {
	if len(g.nodes) == 0 {
		return nil, nil
	}

	inDegree := make(map[types.StepName]int, len(g.nodes))
	for _, neighbors := range g.adjacency {
		for _, neighbor := range neighbors {
			inDegree[neighbor]++
		}
	}

	var queue []types.StepName
	for _, node := range g.nodes {
		if inDegree[node] == 0 {
			queue = append(queue, node)
		}
	}

	var result []types.StepName
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		for _, neighbor := range g.adjacency[node] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				queue = append(queue, neighbor)
			}
		}
	}

	if len(result) != len(g.nodes) {
		var cycle []types.StepName
		for _, node := range g.nodes {
			if inDegree[node] > 0 {
				cycle = append(cycle, node)
			}
		}
		return nil, &CycleError{Cycle: cycle}
	}
	return result, nil
}
