// Package dag builds the task dependency graph and answers ordering and
// readiness questions about it. A Graph is immutable once built.
package dag

import "fmt"

// Spec is the input to Build: a task ID and the IDs it depends on.
type Spec struct {
	ID        string
	DependsOn []string
}

// Node holds the edges of one task. Dependents are derived by Build,
// never authored.
type Node struct {
	ID           string
	Dependencies []string
	Dependents   []string
}

// Graph is a validated, acyclic dependency graph.
type Graph struct {
	nodes map[string]*Node
	order []string // declaration order
}

// Build creates a graph from specs. It fails with a *DependencyNotFoundError
// for an unresolved reference and a *CycleError if the dependencies loop.
func Build(specs []Spec) (*Graph, error) {
	g := &Graph{
		nodes: make(map[string]*Node, len(specs)),
		order: make([]string, 0, len(specs)),
	}

	for _, s := range specs {
		if _, exists := g.nodes[s.ID]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateNode, s.ID)
		}
		g.nodes[s.ID] = &Node{ID: s.ID, Dependencies: dedupe(s.DependsOn)}
		g.order = append(g.order, s.ID)
	}

	for _, id := range g.order {
		node := g.nodes[id]
		for _, depID := range node.Dependencies {
			dep, ok := g.nodes[depID]
			if !ok {
				return nil, &DependencyNotFoundError{TaskID: id, MissingID: depID}
			}
			dep.Dependents = append(dep.Dependents, id)
		}
	}

	if path := g.findCycle(); path != nil {
		return nil, &CycleError{Path: path}
	}
	return g, nil
}

// findCycle walks dependencies depth-first with an explicit stack, visiting
// roots in declaration order. It returns the cycle path or nil.
func (g *Graph) findCycle() []string {
	type frame struct {
		id   string
		next int
	}

	visited := make(map[string]bool, len(g.order))
	onStack := make(map[string]bool)

	for _, root := range g.order {
		if visited[root] {
			continue
		}
		visited[root] = true
		onStack[root] = true
		stack := []frame{{id: root}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := g.nodes[top.id].Dependencies
			if top.next < len(deps) {
				dep := deps[top.next]
				top.next++
				if onStack[dep] {
					for i, f := range stack {
						if f.id == dep {
							path := make([]string, 0, len(stack)-i)
							for _, p := range stack[i:] {
								path = append(path, p.id)
							}
							return path
						}
					}
				}
				if !visited[dep] {
					visited[dep] = true
					onStack[dep] = true
					stack = append(stack, frame{id: dep})
				}
				continue
			}
			onStack[top.id] = false
			stack = stack[:len(stack)-1]
		}
	}
	return nil
}

// TopologicalSort returns task IDs so that every task follows all of its
// dependencies. Ties resolve in FIFO order seeded by declaration order.
func (g *Graph) TopologicalSort() []string {
	inDegree := make(map[string]int, len(g.nodes))
	queue := make([]string, 0, len(g.nodes))
	for _, id := range g.order {
		inDegree[id] = len(g.nodes[id].Dependencies)
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	result := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		result = append(result, id)
		for _, dependent := range g.nodes[id].Dependents {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}
	return result
}

// ReadyTasks returns, in declaration order, the tasks not in completed whose
// dependencies are all in completed. It only reads g and completed.
func ReadyTasks(g *Graph, completed map[string]bool) []string {
	var ready []string
	for _, id := range g.order {
		if completed[id] {
			continue
		}
		ok := true
		for _, dep := range g.nodes[id].Dependencies {
			if !completed[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	return ready
}

// Node returns a copy of the node for id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return Node{
		ID:           n.ID,
		Dependencies: append([]string(nil), n.Dependencies...),
		Dependents:   append([]string(nil), n.Dependents...),
	}, true
}

// IDs returns all task IDs in declaration order.
func (g *Graph) IDs() []string {
	return append([]string(nil), g.order...)
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
