package models

// Result is one web search hit. Only Snippet/Content feed prompts; the
// rest is kept for attribution.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}
