package server

import (
	"kokoni/internal/store"
	"kokoni/internal/tree"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// CreateSearchRequest starts a new research session from a raw topic.
type CreateSearchRequest struct {
	Query string `json:"query"`
}

// RenameSearchRequest changes a search's query text.
type RenameSearchRequest struct {
	Query string `json:"query"`
}

// SearchResponse is a search with its reconstructed question tree.
type SearchResponse struct {
	store.Search
	Tree *tree.NestedNode `json:"tree,omitempty"`
}

// GraphResponse is the renderable projection of a search's tree.
type GraphResponse struct {
	Nodes []tree.PositionedNode `json:"nodes"`
	Edges []tree.GraphEdge      `json:"edges"`
}

// ExpandResponse carries the summary and children of an expanded node.
type ExpandResponse struct {
	NodeID   int64       `json:"node_id"`
	Summary  string      `json:"summary"`
	Children []tree.Node `json:"children"`
}

// ReportResponse is the full report of a search, one block per node in
// the tree's pre-order.
type ReportResponse struct {
	SearchID string              `json:"search_id"`
	Query    string              `json:"query"`
	Blocks   []store.ReportBlock `json:"blocks"`
}

// SynthesizeResponse reports the per-node outcome of a synthesis run.
type SynthesizeResponse struct {
	SearchID string                 `json:"search_id"`
	Results  []SynthesizeNodeResult `json:"results"`
}

// SynthesizeNodeResult is one node's synthesis outcome.
type SynthesizeNodeResult struct {
	NodeID  int64  `json:"node_id"`
	Heading string `json:"heading"`
	Failed  bool   `json:"failed"`
	Error   string `json:"error,omitempty"`
}

// CreateSourceRequest adds supporting material to a search. When Content
// is empty and URL is set, the page is fetched and its readable text used.
type CreateSourceRequest struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// UpdateSourceRequest patches a source; nil fields stay untouched.
type UpdateSourceRequest struct {
	Title   *string `json:"title"`
	URL     *string `json:"url"`
	Content *string `json:"content"`
}

// BlockSourcesRequest links or unlinks sources on a report block.
type BlockSourcesRequest struct {
	SourceIDs []int64 `json:"source_ids"`
}
