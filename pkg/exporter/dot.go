package exporter

import (
	"fmt"
	"sort"
	"strings"
)

// ToDOT renders the task graph in Graphviz DOT format, grouped by
// topological level.
func (g *TaskGraph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph TaskGraph {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range g.Levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		sorted := append([]string(nil), ids...)
		sort.Strings(sorted)
		for _, id := range sorted {
			task := g.Nodes[id]
			sb.WriteString(fmt.Sprintf("    %q [label=%q];\n",
				id, task.Resource.Definition().Name+"\\n"+id))
		}
		sb.WriteString("  }\n\n")
	}

	edges := append([]Edge(nil), g.Edges...)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	for _, edge := range edges {
		sb.WriteString(fmt.Sprintf("  %q -> %q;\n", edge.From, edge.To))
	}

	sb.WriteString("}\n")
	return sb.String()
}
