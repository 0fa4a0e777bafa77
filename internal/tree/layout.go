package tree

import "fmt"

// Direction selects the depth axis of the layered layout.
type Direction string

const (
	DirectionLR Direction = "LR"
	DirectionTB Direction = "TB"
)

// Node footprint used for spacing. Matches the card size rendered by the
// frontend, so positions line up without a second pass.
const (
	NodeWidth  = 320.0
	NodeHeight = 260.0
)

// rankSpacing stretches the depth axis so edges stay readable.
const rankSpacing = 1.5

// Position is a 2-D coordinate of a laid-out node (top-left anchored).
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PositionedNode is a GraphNode with its assigned position.
type PositionedNode struct {
	GraphNode
	Position Position `json:"position"`
}

// Layout assigns positions with a layered placement: each node gets a rank
// equal to its BFS distance from a root (in-degree zero), ranks advance
// along the direction axis, and nodes within a rank are spread evenly and
// centered on the perpendicular axis. Identical input always produces
// identical positions. Nodes untouched by any edge land at rank 0.
//
// An edge referencing an unknown element id is ErrConsistency.
func Layout(nodes []GraphNode, edges []GraphEdge, dir Direction) ([]PositionedNode, error) {
	if dir != DirectionLR && dir != DirectionTB {
		dir = DirectionLR
	}

	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		index[n.ID] = i
	}
	children := make(map[string][]string, len(nodes))
	indegree := make(map[string]int, len(nodes))
	for _, e := range edges {
		if _, ok := index[e.Source]; !ok {
			return nil, fmt.Errorf("edge %s references unknown node %s: %w", e.ID, e.Source, ErrConsistency)
		}
		if _, ok := index[e.Target]; !ok {
			return nil, fmt.Errorf("edge %s references unknown node %s: %w", e.ID, e.Target, ErrConsistency)
		}
		children[e.Source] = append(children[e.Source], e.Target)
		indegree[e.Target]++
	}

	// BFS from the roots in input order. Every unreached node keeps rank 0.
	rank := make(map[string]int, len(nodes))
	queue := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if indegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range children[id] {
			if r := rank[id] + 1; r > rank[child] {
				rank[child] = r
			}
			queue = append(queue, child)
		}
	}

	// Group per rank in input (pre-order) order so placement is stable.
	ranks := make(map[int][]int)
	maxRank := 0
	for i, n := range nodes {
		r := rank[n.ID]
		ranks[r] = append(ranks[r], i)
		if r > maxRank {
			maxRank = r
		}
	}

	out := make([]PositionedNode, len(nodes))
	for r := 0; r <= maxRank; r++ {
		members := ranks[r]
		for slot, i := range members {
			depth := float64(r)
			breadth := float64(slot) - float64(len(members)-1)/2
			var pos Position
			switch dir {
			case DirectionTB:
				pos = Position{X: breadth * NodeWidth, Y: depth * NodeHeight * rankSpacing}
			default:
				pos = Position{X: depth * NodeWidth * rankSpacing, Y: breadth * NodeHeight}
			}
			out[i] = PositionedNode{GraphNode: nodes[i], Position: pos}
		}
	}
	return out, nil
}
