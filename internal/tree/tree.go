package tree

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the engine. Store and HTTP layers translate these
// with errors.Is rather than matching strings.
var (
	// ErrNotFound indicates a referenced node or search does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConsistency indicates a violated structural invariant (cycle,
	// orphaned parent reference). It is fatal and never repaired in place.
	ErrConsistency = errors.New("tree consistency violation")
)

// Node is one question/answer unit of a research tree, as persisted by the
// store. ParentID is nil only for the root of a search.
type Node struct {
	ID        int64      `json:"id"`
	SearchID  string     `json:"search_id"`
	ParentID  *int64     `json:"parent_id,omitempty"`
	Question  string     `json:"question"`
	Summary   *string    `json:"summary,omitempty"`
	Selected  bool       `json:"selected"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NestedNode is a Node with its children resolved into a tree.
type NestedNode struct {
	Node
	Children []*NestedNode `json:"children"`
}

// Reconstruct builds the nested tree rooted at rootID from the flat node
// list of a single search. The input order of siblings is preserved; the
// result depends only on the inputs.
//
// A node whose id is revisited while descending (corrupted parent chain)
// yields ErrConsistency instead of infinite recursion.
func Reconstruct(rootID int64, flat []Node) (*NestedNode, error) {
	var root *Node
	byParent := make(map[int64][]int, len(flat))
	for i := range flat {
		n := &flat[i]
		if n.ID == rootID {
			root = n
		}
		if n.ParentID != nil {
			byParent[*n.ParentID] = append(byParent[*n.ParentID], i)
		}
	}
	if root == nil {
		return nil, fmt.Errorf("node %d: %w", rootID, ErrNotFound)
	}

	seen := make(map[int64]bool, len(flat))
	var build func(n Node) (*NestedNode, error)
	build = func(n Node) (*NestedNode, error) {
		if seen[n.ID] {
			return nil, fmt.Errorf("node %d is its own ancestor: %w", n.ID, ErrConsistency)
		}
		seen[n.ID] = true
		nested := &NestedNode{Node: n, Children: []*NestedNode{}}
		for _, idx := range byParent[n.ID] {
			child, err := build(flat[idx])
			if err != nil {
				return nil, err
			}
			nested.Children = append(nested.Children, child)
		}
		return nested, nil
	}
	return build(*root)
}
