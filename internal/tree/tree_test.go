package tree

import (
	"errors"
	"reflect"
	"testing"
)

func strPtr(s string) *string { return &s }

func i64Ptr(v int64) *int64 { return &v }

func sampleFlat() []Node {
	return []Node{
		{ID: 1, SearchID: "s1", Question: "How did the Industrial Revolution transform society?", Selected: true},
		{ID: 2, SearchID: "s1", ParentID: i64Ptr(1), Question: "What innovations drove change?"},
		{ID: 3, SearchID: "s1", ParentID: i64Ptr(1), Question: "How did class structures shift?", Selected: true, Summary: strPtr("They shifted.")},
		{ID: 4, SearchID: "s1", ParentID: i64Ptr(3), Question: "What happened to artisans?"},
		{ID: 5, SearchID: "s1", ParentID: i64Ptr(3), Question: "How did cities grow?"},
	}
}

func countNodes(n *NestedNode) int {
	total := 1
	for _, c := range n.Children {
		total += countNodes(c)
	}
	return total
}

func TestReconstructShape(t *testing.T) {
	root, err := Reconstruct(1, sampleFlat())
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if root.ID != 1 {
		t.Fatalf("root id = %d, want 1", root.ID)
	}
	if len(root.Children) != 2 {
		t.Fatalf("root children = %d, want 2", len(root.Children))
	}
	if root.Children[0].ID != 2 || root.Children[1].ID != 3 {
		t.Fatalf("sibling order = [%d %d], want [2 3]", root.Children[0].ID, root.Children[1].ID)
	}
	if got := countNodes(root); got != len(sampleFlat()) {
		t.Fatalf("reconstructed %d nodes, want %d", got, len(sampleFlat()))
	}
	if root.Children[1].Summary == nil || *root.Children[1].Summary != "They shifted." {
		t.Fatalf("node 3 summary lost in reconstruction")
	}
}

func TestReconstructDeterministic(t *testing.T) {
	a, err := Reconstruct(1, sampleFlat())
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	b, err := Reconstruct(1, sampleFlat())
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same input produced different trees")
	}
}

func TestReconstructMissingRoot(t *testing.T) {
	_, err := Reconstruct(99, sampleFlat())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReconstructCycle(t *testing.T) {
	// Corrupted parent chain: the root is parented into its own subtree.
	flat := []Node{
		{ID: 1, SearchID: "s1", ParentID: i64Ptr(2), Question: "root"},
		{ID: 2, SearchID: "s1", ParentID: i64Ptr(1), Question: "a"},
	}
	_, err := Reconstruct(1, flat)
	if !errors.Is(err, ErrConsistency) {
		t.Fatalf("err = %v, want ErrConsistency", err)
	}
}

func TestReconstructEmptyInput(t *testing.T) {
	_, err := Reconstruct(1, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReconstructSingleNode(t *testing.T) {
	root, err := Reconstruct(7, []Node{{ID: 7, SearchID: "s1", Question: "only"}})
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if len(root.Children) != 0 {
		t.Fatalf("leaf root has %d children", len(root.Children))
	}
}
