package tree

import "fmt"

// GraphNode is the renderable projection of one tree node. Element ids are
// strings so they can be consumed directly by flow-graph frontends.
type GraphNode struct {
	ID           string `json:"id"`
	Label        string `json:"label"`
	SourceNodeID int64  `json:"node_id"`
	Selected     bool   `json:"selected"`
}

// GraphEdge connects a parent element to a child element.
type GraphEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// NodeElementID returns the element id for a node record id.
func NodeElementID(id int64) string { return fmt.Sprintf("node-%d", id) }

// EdgeElementID returns the element id for a parent→child relation. The id
// is a pure function of the two node ids, so re-projecting an unchanged
// subtree yields identical edge ids.
func EdgeElementID(parentID, childID int64) string {
	return fmt.Sprintf("edge-%s-%s", NodeElementID(parentID), NodeElementID(childID))
}

// Project flattens a nested tree into graph nodes and edges in pre-order.
// One node per tree node (root included), one edge per parent→child
// relation. Positions are assigned later by Layout.
func Project(root *NestedNode) ([]GraphNode, []GraphEdge) {
	if root == nil {
		return []GraphNode{}, []GraphEdge{}
	}
	nodes := []GraphNode{}
	edges := []GraphEdge{}

	var walk func(n *NestedNode)
	walk = func(n *NestedNode) {
		nodes = append(nodes, GraphNode{
			ID:           NodeElementID(n.ID),
			Label:        n.Question,
			SourceNodeID: n.ID,
			Selected:     n.Selected,
		})
		for _, child := range n.Children {
			edges = append(edges, GraphEdge{
				ID:     EdgeElementID(n.ID, child.ID),
				Source: NodeElementID(n.ID),
				Target: NodeElementID(child.ID),
			})
			walk(child)
		}
	}
	walk(root)
	return nodes, edges
}
