package tree

import (
	"errors"
	"reflect"
	"testing"
)

func projectSample(t *testing.T) ([]GraphNode, []GraphEdge) {
	t.Helper()
	root, err := Reconstruct(1, sampleFlat())
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	nodes, edges := Project(root)
	return nodes, edges
}

func positionsByID(out []PositionedNode) map[string]Position {
	m := make(map[string]Position, len(out))
	for _, p := range out {
		m[p.ID] = p.Position
	}
	return m
}

func TestLayoutRanksAdvanceAlongEdges(t *testing.T) {
	nodes, edges := projectSample(t)
	out, err := Layout(nodes, edges, DirectionLR)
	if err != nil {
		t.Fatalf("Layout: %v", err)
	}
	pos := positionsByID(out)
	for _, e := range edges {
		if pos[e.Target].X <= pos[e.Source].X {
			t.Fatalf("edge %s: child X %.0f not past parent X %.0f", e.ID, pos[e.Target].X, pos[e.Source].X)
		}
	}
	// Depth axis steps by the node footprint times spacing.
	if pos["node-2"].X != NodeWidth*rankSpacing {
		t.Fatalf("rank-1 X = %.0f, want %.0f", pos["node-2"].X, NodeWidth*rankSpacing)
	}
}

func TestLayoutTopBottomMirrorsAxes(t *testing.T) {
	nodes, edges := projectSample(t)
	out, err := Layout(nodes, edges, DirectionTB)
	if err != nil {
		t.Fatalf("Layout: %v", err)
	}
	pos := positionsByID(out)
	for _, e := range edges {
		if pos[e.Target].Y <= pos[e.Source].Y {
			t.Fatalf("edge %s: child Y %.0f not below parent Y %.0f", e.ID, pos[e.Target].Y, pos[e.Source].Y)
		}
	}
}

func TestLayoutCentersRanks(t *testing.T) {
	nodes, edges := projectSample(t)
	out, err := Layout(nodes, edges, DirectionLR)
	if err != nil {
		t.Fatalf("Layout: %v", err)
	}
	pos := positionsByID(out)
	// Root sits alone on rank 0, centered at the origin.
	if pos["node-1"] != (Position{X: 0, Y: 0}) {
		t.Fatalf("root position = %+v", pos["node-1"])
	}
	// Two siblings on rank 1 straddle the axis symmetrically.
	if pos["node-2"].Y != -pos["node-3"].Y {
		t.Fatalf("rank-1 Ys not symmetric: %.0f vs %.0f", pos["node-2"].Y, pos["node-3"].Y)
	}
}

func TestLayoutDeterministic(t *testing.T) {
	nodes, edges := projectSample(t)
	a, err := Layout(nodes, edges, DirectionLR)
	if err != nil {
		t.Fatalf("Layout: %v", err)
	}
	b, err := Layout(nodes, edges, DirectionLR)
	if err != nil {
		t.Fatalf("Layout: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same input produced different layouts")
	}
}

func TestLayoutUnknownEdgeEndpoint(t *testing.T) {
	nodes, edges := projectSample(t)
	edges = append(edges, GraphEdge{ID: "edge-node-1-node-99", Source: "node-1", Target: "node-99"})
	_, err := Layout(nodes, edges, DirectionLR)
	if !errors.Is(err, ErrConsistency) {
		t.Fatalf("err = %v, want ErrConsistency", err)
	}
}

func TestLayoutDefaultsToLeftRight(t *testing.T) {
	nodes, edges := projectSample(t)
	def, err := Layout(nodes, edges, Direction("sideways"))
	if err != nil {
		t.Fatalf("Layout: %v", err)
	}
	lr, err := Layout(nodes, edges, DirectionLR)
	if err != nil {
		t.Fatalf("Layout: %v", err)
	}
	if !reflect.DeepEqual(def, lr) {
		t.Fatalf("unknown direction should fall back to LR")
	}
}
