package tree

// Delta lists element ids that appeared or disappeared between two
// projections of the same search. Callers use it to patch a rendered graph
// instead of re-diffing whole element arrays.
type Delta struct {
	AddedNodes   []string `json:"added_nodes"`
	RemovedNodes []string `json:"removed_nodes"`
	AddedEdges   []string `json:"added_edges"`
	RemovedEdges []string `json:"removed_edges"`
}

// Empty reports whether the two projections were identical by id.
func (d Delta) Empty() bool {
	return len(d.AddedNodes) == 0 && len(d.RemovedNodes) == 0 &&
		len(d.AddedEdges) == 0 && len(d.RemovedEdges) == 0
}

// Diff compares two projections by id-set. Added ids come out in the order
// of the next projection, removed ids in the order of the previous one.
func Diff(prevNodes, nextNodes []GraphNode, prevEdges, nextEdges []GraphEdge) Delta {
	var d Delta

	prevN := make(map[string]bool, len(prevNodes))
	for _, n := range prevNodes {
		prevN[n.ID] = true
	}
	nextN := make(map[string]bool, len(nextNodes))
	for _, n := range nextNodes {
		nextN[n.ID] = true
		if !prevN[n.ID] {
			d.AddedNodes = append(d.AddedNodes, n.ID)
		}
	}
	for _, n := range prevNodes {
		if !nextN[n.ID] {
			d.RemovedNodes = append(d.RemovedNodes, n.ID)
		}
	}

	prevE := make(map[string]bool, len(prevEdges))
	for _, e := range prevEdges {
		prevE[e.ID] = true
	}
	nextE := make(map[string]bool, len(nextEdges))
	for _, e := range nextEdges {
		nextE[e.ID] = true
		if !prevE[e.ID] {
			d.AddedEdges = append(d.AddedEdges, e.ID)
		}
	}
	for _, e := range prevEdges {
		if !nextE[e.ID] {
			d.RemovedEdges = append(d.RemovedEdges, e.ID)
		}
	}
	return d
}
