package relationship

import (
	"fmt"
	"io"
	"strings"
)

// ExportDOT writes the graph in Graphviz DOT format. edgeColor picks the
// stroke of each edge by type; nil draws every edge black.
func (g Graph) ExportDOT(w io.Writer, edgeColor func(Type) string) error {
	if _, err := fmt.Fprintln(w, "digraph AttackPatterns {"); err != nil {
		return err
	}

	fmt.Fprintln(w, "  rankdir=LR;")
	fmt.Fprintln(w, "  node [shape=box, style=\"rounded,filled\", fillcolor=\"#e3f2fd\", fontname=\"Arial\"];")
	fmt.Fprintln(w, "  edge [fontname=\"Arial\", fontsize=10];")

	for _, node := range g.Nodes {
		label := escapeDOT(node.Name)
		if node.Phase != "" {
			label += "\\n" + escapeDOT(node.Phase)
		}
		fmt.Fprintf(w, "  \"%s\" [label=\"%s\", pos=\"%d,%d!\"];\n",
			escapeDOT(node.ID), label, node.X, -node.Y)
	}

	for _, edge := range g.Edges {
		color := "black"
		if edgeColor != nil {
			color = edgeColor(edge.Type)
		}
		fmt.Fprintf(w, "  \"%s\" -> \"%s\" [label=\"%s %.2f\", color=\"%s\", penwidth=%.1f];\n",
			escapeDOT(edge.Source), escapeDOT(edge.Target), edge.Type, edge.Strength, color, 1+edge.Strength*3)
	}

	if _, err := fmt.Fprintln(w, "}"); err != nil {
		return err
	}
	return nil
}

func escapeDOT(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	return strings.ReplaceAll(s, "\n", "\\n")
}
