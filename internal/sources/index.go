package sources

import (
	"strconv"
	"sync"

	"github.com/blevesearch/bleve"

	"kokoni/internal/store"
)

const snippetChars = 500

// Index is an in-memory full-text index over one search's Source records.
// The report pipeline builds it per run and queries it per node question
// for supporting snippets; results are advisory, like web search.
type Index struct {
	idx  bleve.Index
	meta map[string]store.Source
	mu   sync.RWMutex
}

type indexedSource struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// NewIndex creates an empty memory-only index.
func NewIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Index{idx: idx, meta: map[string]store.Source{}}, nil
}

// BuildIndex indexes a slice of sources in one pass.
func BuildIndex(srcs []store.Source) (*Index, error) {
	x, err := NewIndex()
	if err != nil {
		return nil, err
	}
	for _, src := range srcs {
		if err := x.Add(src); err != nil {
			return nil, err
		}
	}
	return x, nil
}

// Add indexes one source.
func (x *Index) Add(src store.Source) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	docID := strconv.FormatInt(src.ID, 10)
	x.meta[docID] = src
	return x.idx.Index(docID, indexedSource{Title: src.Title, Content: src.Content})
}

// Len reports the number of indexed sources.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.meta)
}

// Snippets returns up to k content snippets matching q, best match first.
func (x *Index) Snippets(q string, k int) ([]string, error) {
	if k <= 0 {
		k = 3
	}
	query := bleve.NewQueryStringQuery(q)
	req := bleve.NewSearchRequestOptions(query, k, 0, false)
	res, err := x.idx.Search(req)
	if err != nil {
		return nil, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []string
	for _, hit := range res.Hits {
		src, ok := x.meta[hit.ID]
		if !ok {
			continue
		}
		text := src.Content
		if len(text) > snippetChars {
			text = text[:snippetChars]
		}
		out = append(out, src.Title+": "+text)
	}
	return out, nil
}
