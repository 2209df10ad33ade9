package relationship

import "sort"

// Related is one neighbour of a pattern in the graph.
type Related struct {
	Node     Node    `json:"node"`
	Type     Type    `json:"type"`
	Strength float64 `json:"strength"`
}

// Related returns the patterns linked to id in either direction, strongest
// first. When both directions exist, the stronger edge is reported.
func (g Graph) Related(id string) []Related {
	nodes := make(map[string]Node, len(g.Nodes))
	for _, n := range g.Nodes {
		nodes[n.ID] = n
	}

	best := make(map[string]Related)
	var order []string
	for _, e := range g.Edges {
		var other string
		switch id {
		case e.Source:
			other = e.Target
		case e.Target:
			other = e.Source
		default:
			continue
		}
		cur, seen := best[other]
		if !seen {
			order = append(order, other)
		}
		if !seen || e.Strength > cur.Strength {
			best[other] = Related{Node: nodes[other], Type: e.Type, Strength: e.Strength}
		}
	}

	out := make([]Related, 0, len(order))
	for _, other := range order {
		out = append(out, best[other])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Strength > out[j].Strength
	})
	return out
}

// Node looks up a node by pattern id.
func (g Graph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}
