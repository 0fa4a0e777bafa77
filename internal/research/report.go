package research

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"kokoni/internal/sources"
	"kokoni/internal/store"
	"kokoni/provider"
	"kokoni/tools/web_search"
)

// failedBlockContent is what a report block holds when generation for its
// node failed. Regenerating the report overwrites it.
const failedBlockContent = "> ⚠️ Report generation failed for this question. Regenerate the report to retry."

// NodeResult is the outcome of synthesizing one node's report block.
type NodeResult struct {
	NodeID  int64  `json:"node_id"`
	Heading string `json:"heading"`
	Content string `json:"content"`
	Err     error  `json:"-"`
	Failed  bool   `json:"failed"`
}

// ReportPipeline synthesizes one report block per selected node of a
// search. Nodes are processed concurrently and in isolation: one node's
// failure is recorded as a placeholder block and never aborts the rest.
type ReportPipeline struct {
	Storage          Storage
	LLM              provider.Provider
	Searcher         web_search.WebSearcher // optional
	Logger           *log.Logger
	MaxConcurrency   int
	MaxSearchResults int
}

// Synthesize regenerates report blocks for every selected node of the
// search, root first. Results come back in the same order as the nodes.
func (p *ReportPipeline) Synthesize(ctx context.Context, searchID string) ([]NodeResult, error) {
	nodes, err := p.Storage.ListSelectedNodes(ctx, searchID)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}

	// A per-run index over the search's saved sources. Advisory only:
	// if it cannot be built the pipeline runs without it.
	var idx *sources.Index
	if srcs, err := p.Storage.ListSources(ctx, searchID); err != nil {
		p.logf("report %s: list sources: %v", searchID, err)
	} else if built, err := sources.BuildIndex(srcs); err != nil {
		p.logf("report %s: index sources: %v", searchID, err)
	} else {
		idx = built
	}

	maxc := p.MaxConcurrency
	if maxc <= 0 {
		maxc = 4
	}
	sem := make(chan struct{}, maxc)
	results := make([]NodeResult, len(nodes))
	var wg sync.WaitGroup
	for i, node := range nodes {
		wg.Add(1)
		go func(i int, node store.ReportNode) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = p.synthesizeNode(ctx, node, idx)
		}(i, node)
	}
	wg.Wait()
	return results, nil
}

func (p *ReportPipeline) synthesizeNode(ctx context.Context, node store.ReportNode, idx *sources.Index) NodeResult {
	supporting := p.gatherSupport(ctx, node, idx)

	content, err := p.LLM.Generate(ctx, reportBlockPrompt(node, supporting))
	if err == nil {
		content = strings.TrimSpace(stripFences(content))
		if content == "" {
			err = fmt.Errorf("empty report block")
		}
	}
	heading := node.Question
	if err != nil {
		p.logf("report node %d: %v", node.ID, err)
		// Persist a visible placeholder so the report renders complete;
		// the next synthesis run replaces it.
		if _, upErr := p.Storage.UpsertReportBlock(ctx, node.ID, failedBlockContent, &heading); upErr != nil {
			p.logf("report node %d: save placeholder: %v", node.ID, upErr)
		}
		return NodeResult{NodeID: node.ID, Heading: heading, Content: failedBlockContent, Err: err, Failed: true}
	}

	if _, err := p.Storage.UpsertReportBlock(ctx, node.ID, content, &heading); err != nil {
		p.logf("report node %d: save block: %v", node.ID, err)
		return NodeResult{NodeID: node.ID, Heading: heading, Content: content, Err: err, Failed: true}
	}
	return NodeResult{NodeID: node.ID, Heading: heading, Content: content}
}

// gatherSupport collects advisory snippets for a node from the live web
// and from the search's saved sources. Every failure here is logged and
// swallowed; a block can be written from the question alone.
func (p *ReportPipeline) gatherSupport(ctx context.Context, node store.ReportNode, idx *sources.Index) []string {
	var supporting []string
	if p.Searcher != nil {
		k := p.MaxSearchResults
		if k <= 0 {
			k = 3
		}
		results, err := p.Searcher.Search(ctx, node.Question, k)
		if err != nil {
			p.logf("report node %d: web search: %v", node.ID, err)
		}
		for _, r := range results {
			if r.Snippet != "" {
				supporting = append(supporting, r.Title+": "+r.Snippet)
			}
		}
	}
	if idx != nil && idx.Len() > 0 {
		snips, err := idx.Snippets(node.Question, 3)
		if err != nil {
			p.logf("report node %d: source snippets: %v", node.ID, err)
		}
		supporting = append(supporting, snips...)
	}
	return supporting
}

func (p *ReportPipeline) logf(format string, args ...any) {
	if p.Logger != nil {
		p.Logger.Printf(format, args...)
	}
}
