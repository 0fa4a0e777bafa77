package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"kokoni/internal/store"
	"kokoni/internal/tree"
	"kokoni/provider"
)

// ErrExpansion is the recoverable failure class of Expand: the synthesis
// call failed or returned garbage, nothing was persisted, and the node is
// still unselected so the caller may retry.
var ErrExpansion = errors.New("expansion failed")

// Storage is the slice of the tree store the research orchestrators use.
type Storage interface {
	GetNode(ctx context.Context, id int64) (tree.Node, error)
	ChildNodes(ctx context.Context, parentID int64) ([]tree.Node, error)
	ExpandNode(ctx context.Context, nodeID int64, summary string, questions []string) ([]tree.Node, bool, error)
	ListSelectedNodes(ctx context.Context, searchID string) ([]store.ReportNode, error)
	ListSources(ctx context.Context, searchID string) ([]store.Source, error)
	UpsertReportBlock(ctx context.Context, nodeID int64, content string, heading *string) (store.ReportBlock, error)
}

// Expansion is the result of expanding a node: its summary and its two
// persisted children. Children carry real database ids, so an optimistic
// UI can swap its placeholders for them in place.
type Expansion struct {
	Summary  string      `json:"summary"`
	Children []tree.Node `json:"children"`
}

// Expander turns an unselected node into a selected one with a summary
// and two follow-up children. Safe to call concurrently for the same
// node: the store commits exactly one expansion, everyone else gets the
// winner's result.
type Expander struct {
	Storage Storage
	LLM     provider.Provider
	Rdb     *redis.Client // optional; skips duplicate LLM spend on races
	Logger  *log.Logger
}

const (
	expandLockTTL  = time.Minute
	expandWaitStep = 500 * time.Millisecond
	expandWaitMax  = 6
)

// Expand generates a summary and two follow-up questions for the node and
// commits them atomically. Re-expanding an already-selected node is a
// no-op returning the existing summary and children.
func (e *Expander) Expand(ctx context.Context, nodeID int64) (Expansion, error) {
	node, err := e.Storage.GetNode(ctx, nodeID)
	if err != nil {
		return Expansion{}, err
	}
	if node.Selected {
		return e.existing(ctx, node)
	}

	// Best-effort lock so two racing requests don't both pay for an LLM
	// call. Correctness does not depend on it; the store's conditional
	// update is the real serialization point.
	if e.Rdb != nil {
		lockKey := fmt.Sprintf("expand:lock:%d", nodeID)
		ok, lockErr := e.Rdb.SetNX(ctx, lockKey, "1", expandLockTTL).Result()
		if lockErr == nil && !ok {
			return e.awaitWinner(ctx, nodeID)
		}
		if lockErr == nil {
			defer e.Rdb.Del(context.WithoutCancel(ctx), lockKey)
		}
	}

	raw, err := e.LLM.Generate(ctx, expandPrompt(node.Question))
	if err != nil {
		e.logf("expand node %d: llm: %v", nodeID, err)
		return Expansion{}, fmt.Errorf("%w: %v", ErrExpansion, err)
	}
	summary, questions, err := parseExpansion(raw)
	if err != nil {
		e.logf("expand node %d: %v", nodeID, err)
		return Expansion{}, fmt.Errorf("%w: %v", ErrExpansion, err)
	}

	children, won, err := e.Storage.ExpandNode(ctx, nodeID, summary, questions)
	if err != nil {
		return Expansion{}, err
	}
	if !won {
		// A racing expansion committed first; adopt its result.
		node, err := e.Storage.GetNode(ctx, nodeID)
		if err != nil {
			return Expansion{}, err
		}
		return e.existing(ctx, node)
	}
	return Expansion{Summary: summary, Children: children}, nil
}

func (e *Expander) existing(ctx context.Context, node tree.Node) (Expansion, error) {
	children, err := e.Storage.ChildNodes(ctx, node.ID)
	if err != nil {
		return Expansion{}, err
	}
	var summary string
	if node.Summary != nil {
		summary = *node.Summary
	}
	return Expansion{Summary: summary, Children: children}, nil
}

// awaitWinner polls for the holder of the expansion lock to commit. If it
// never does (crashed, LLM stuck), the node is still unselected and the
// caller may simply retry.
func (e *Expander) awaitWinner(ctx context.Context, nodeID int64) (Expansion, error) {
	for i := 0; i < expandWaitMax; i++ {
		select {
		case <-ctx.Done():
			return Expansion{}, ctx.Err()
		case <-time.After(expandWaitStep):
		}
		node, err := e.Storage.GetNode(ctx, nodeID)
		if err != nil {
			return Expansion{}, err
		}
		if node.Selected {
			return e.existing(ctx, node)
		}
	}
	return Expansion{}, fmt.Errorf("%w: another expansion is in flight", ErrExpansion)
}

func (e *Expander) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

type expansionPayload struct {
	Summary      string   `json:"summary"`
	SubQuestions []string `json:"subQuestions"`
}

// parseExpansion validates the strict-JSON contract of expandPrompt.
// Models occasionally wrap JSON in code fences despite instructions, so
// fences are stripped before decoding.
func parseExpansion(raw string) (string, []string, error) {
	var p expansionPayload
	if err := json.Unmarshal([]byte(stripFences(raw)), &p); err != nil {
		return "", nil, fmt.Errorf("malformed expansion response: %v", err)
	}
	p.Summary = strings.TrimSpace(p.Summary)
	if p.Summary == "" {
		return "", nil, errors.New("malformed expansion response: empty summary")
	}
	if len(p.SubQuestions) != 2 {
		return "", nil, fmt.Errorf("malformed expansion response: expected 2 sub-questions, got %d", len(p.SubQuestions))
	}
	for i := range p.SubQuestions {
		p.SubQuestions[i] = strings.TrimSpace(p.SubQuestions[i])
		if p.SubQuestions[i] == "" {
			return "", nil, errors.New("malformed expansion response: empty sub-question")
		}
	}
	return p.Summary, p.SubQuestions, nil
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
