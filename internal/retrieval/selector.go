package retrieval

import (
	"context"

	"foodlabel-analyzer/internal/corpus"
	"foodlabel-analyzer/internal/errs"
)

// Selection is the evidence set chosen for one ingredient across all corpora.
// An empty selection means no domain-specific evidence was found.
type Selection struct {
	Ingredient string
	Candidates []Candidate
	Citations  []string
}

func (s *Selection) Empty() bool {
	return s == nil || len(s.Candidates) == 0
}

func (s *Selection) Paths() []string {
	if s == nil {
		return nil
	}
	paths := make([]string, len(s.Candidates))
	for i, c := range s.Candidates {
		paths[i] = c.Path
	}
	return paths
}

// Selector ranks every configured corpus with a single query embedding.
type Selector struct {
	ranker  *Ranker
	corpora []*corpus.Corpus
	opts    Options
}

func NewSelector(ranker *Ranker, corpora []*corpus.Corpus, opts Options) *Selector {
	return &Selector{ranker: ranker, corpora: corpora, opts: opts}
}

func (s *Selector) Select(ctx context.Context, ingredient string) (*Selection, error) {
	query, err := s.ranker.embedQuery(ctx, ingredient, s.corpora)
	if err != nil {
		return nil, err
	}

	sel := &Selection{Ingredient: ingredient}
	seen := make(map[string]struct{})
	for _, c := range s.corpora {
		ranking, err := RankVector(query, c, s.opts)
		if err != nil {
			return nil, errs.Wrap("retrieval.select", ingredient, err)
		}
		sel.Candidates = append(sel.Candidates, ranking.Candidates...)
		for _, ref := range ranking.Citations {
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			sel.Citations = append(sel.Citations, ref)
		}
	}
	return sel, nil
}
