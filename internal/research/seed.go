package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"kokoni/provider"
	"kokoni/tools/web_search"
)

// Seeder produces the initial question set for a brand new search: a main
// question for the root node plus two sub-questions for its children.
// Web search is advisory context only; its failure never fails seeding.
type Seeder struct {
	LLM        provider.Provider
	Searcher   web_search.WebSearcher // optional
	MaxResults int
	Logger     *log.Logger
}

type seedPayload struct {
	MainQuestion string   `json:"mainQuestion"`
	SubQuestions []string `json:"subQuestions"`
}

// InitialQuestions turns a raw topic into a main question and two
// sub-questions.
func (s *Seeder) InitialQuestions(ctx context.Context, topic string) (string, []string, error) {
	var keyPoints []string
	if s.Searcher != nil {
		k := s.MaxResults
		if k <= 0 {
			k = 3
		}
		results, err := s.Searcher.Search(ctx, topic, k)
		if err != nil {
			s.logf("seed %q: web search: %v", topic, err)
		}
		for _, r := range results {
			if r.Snippet != "" {
				keyPoints = append(keyPoints, r.Snippet)
			}
		}
	}

	raw, err := s.LLM.Generate(ctx, initialQuestionsPrompt(topic, keyPoints))
	if err != nil {
		return "", nil, fmt.Errorf("generate initial questions: %w", err)
	}
	var p seedPayload
	if err := json.Unmarshal([]byte(stripFences(raw)), &p); err != nil {
		return "", nil, fmt.Errorf("malformed initial questions response: %v", err)
	}
	p.MainQuestion = strings.TrimSpace(p.MainQuestion)
	if p.MainQuestion == "" {
		return "", nil, errors.New("malformed initial questions response: empty main question")
	}
	if len(p.SubQuestions) != 2 {
		return "", nil, fmt.Errorf("malformed initial questions response: expected 2 sub-questions, got %d", len(p.SubQuestions))
	}
	for i := range p.SubQuestions {
		p.SubQuestions[i] = strings.TrimSpace(p.SubQuestions[i])
		if p.SubQuestions[i] == "" {
			return "", nil, errors.New("malformed initial questions response: empty sub-question")
		}
	}
	return p.MainQuestion, p.SubQuestions, nil
}

func (s *Seeder) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}
