package dag

import "strings"

// Mermaid renders the graph as a top-down Mermaid flowchart. Each edge is
// drawn from dependency to dependent; nodes without edges are listed alone.
func Mermaid(g *Graph) string {
	var b strings.Builder
	b.WriteString("graph TD\n")
	for _, id := range g.order {
		node := g.nodes[id]
		for _, dep := range node.Dependencies {
			b.WriteString("    " + dep + " --> " + id + "\n")
		}
		if len(node.Dependencies) == 0 && len(node.Dependents) == 0 {
			b.WriteString("    " + id + "\n")
		}
	}
	return b.String()
}
