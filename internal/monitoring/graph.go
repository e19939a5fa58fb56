package monitoring

import (
	"sort"

	"github.com/John-MustangGT/sentinel/internal/database"
)

// Graph is a read-only view over the dependency edge table. An edge
// dependent -> dependency means the dependent fails when the dependency fails.
type Graph struct {
	dependencies map[string][]string // dependent -> services it depends on
	dependents   map[string][]string // dependency -> services depending on it
}

func NewGraph(edges []database.ServiceDependency) *Graph {
	g := &Graph{
		dependencies: make(map[string][]string),
		dependents:   make(map[string][]string),
	}
	for _, e := range edges {
		g.dependencies[e.DependentServiceID] = append(g.dependencies[e.DependentServiceID], e.DependencyServiceID)
		g.dependents[e.DependencyServiceID] = append(g.dependents[e.DependencyServiceID], e.DependentServiceID)
	}
	return g
}

// WouldCreateCycle reports whether adding dependentID -> dependencyID would
// make the graph cyclic: either a self edge, or dependentID is already
// reachable from dependencyID by following dependency edges.
func (g *Graph) WouldCreateCycle(dependentID, dependencyID string) bool {
	if dependentID == dependencyID {
		return true
	}

	visited := make(map[string]bool)
	stack := []string{dependencyID}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if current == dependentID {
			return true
		}
		if visited[current] {
			continue
		}
		visited[current] = true
		stack = append(stack, g.dependencies[current]...)
	}
	return false
}

// TransitiveDependentIDs returns every service that directly or indirectly
// depends on serviceID, excluding serviceID itself.
func (g *Graph) TransitiveDependentIDs(serviceID string) []string {
	return g.reachable(serviceID, g.dependents)
}

// TransitiveDependencyIDs returns every service serviceID directly or
// indirectly depends on, excluding serviceID itself.
func (g *Graph) TransitiveDependencyIDs(serviceID string) []string {
	return g.reachable(serviceID, g.dependencies)
}

func (g *Graph) reachable(root string, adjacency map[string][]string) []string {
	visited := map[string]bool{root: true}
	queue := []string{root}
	var result []string

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[current] {
			if visited[next] {
				continue
			}
			visited[next] = true
			result = append(result, next)
			queue = append(queue, next)
		}
	}

	sort.Strings(result)
	return result
}
