// Package retrieval ranks reference-corpus titles against an ingredient name
// and picks the per-ingredient evidence set.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"foodlabel-analyzer/internal/corpus"
	"foodlabel-analyzer/internal/errs"
)

const (
	DefaultTopN      = 2
	DefaultThreshold = 0.7

	referencesMarker = "References:"
)

// Embedder turns text into a vector. ModelID must identify the model and version.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelID() string
}

type Options struct {
	TopN      int
	Threshold float64
}

func (o Options) withDefaults() Options {
	if o.TopN <= 0 {
		o.TopN = DefaultTopN
	}
	return o
}

// Candidate is a document whose title cleared the threshold.
type Candidate struct {
	Corpus string  `json:"corpus"`
	Index  int     `json:"index"`
	Title  string  `json:"title"`
	Path   string  `json:"path"`
	Score  float64 `json:"score"`
}

type Ranking struct {
	Candidates []Candidate
	Citations  []string
}

func (r *Ranking) Paths() []string {
	paths := make([]string, len(r.Candidates))
	for i, c := range r.Candidates {
		paths[i] = c.Path
	}
	return paths
}

func (r *Ranking) Titles() []string {
	titles := make([]string, len(r.Candidates))
	for i, c := range r.Candidates {
		titles[i] = c.Title
	}
	return titles
}

type Ranker struct {
	embedder Embedder
}

func NewRanker(embedder Embedder) *Ranker {
	return &Ranker{embedder: embedder}
}

// Rank embeds the ingredient and ranks one corpus against it.
func (r *Ranker) Rank(ctx context.Context, ingredient string, c *corpus.Corpus, opts Options) (*Ranking, error) {
	query, err := r.embedQuery(ctx, ingredient, []*corpus.Corpus{c})
	if err != nil {
		return nil, err
	}
	ranking, err := RankVector(query, c, opts)
	if err != nil {
		return nil, errs.Wrap("retrieval.rank", ingredient, err)
	}
	return ranking, nil
}

func (r *Ranker) embedQuery(ctx context.Context, ingredient string, corpora []*corpus.Corpus) ([]float32, error) {
	name := strings.TrimSpace(ingredient)
	if name == "" {
		return nil, fmt.Errorf("%w: ingredient name is empty", errs.ErrInputValidation)
	}
	for _, c := range corpora {
		if err := c.CheckModel(r.embedder.ModelID()); err != nil {
			return nil, errs.Wrap("retrieval.rank", name, err)
		}
	}
	vec, err := r.embedder.Embed(ctx, name)
	if err != nil {
		return nil, errs.Wrap("retrieval.embed", name, err)
	}
	return vec, nil
}

// RankVector scores every record, keeps the top N by score and then drops
// those not above the threshold. Equal scores keep corpus order.
func RankVector(query []float32, c *corpus.Corpus, opts Options) (*Ranking, error) {
	opts = opts.withDefaults()

	type scored struct {
		rec   *corpus.Record
		score float64
	}
	all := make([]scored, len(c.Records))
	for i := range c.Records {
		all[i] = scored{rec: &c.Records[i], score: CosineSimilarity(query, c.Records[i].Vector)}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })
	if len(all) > opts.TopN {
		all = all[:opts.TopN]
	}

	ranking := &Ranking{}
	var refs []string
	for _, s := range all {
		if s.score <= opts.Threshold {
			continue
		}
		ranking.Candidates = append(ranking.Candidates, Candidate{
			Corpus: c.Name,
			Index:  s.rec.Index,
			Title:  s.rec.Title,
			Path:   c.Path(s.rec.Index),
			Score:  s.score,
		})
		text, err := c.Text(s.rec.Index)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ExtractCitations(text, c.JournalFilter)...)
	}
	ranking.Citations = sortedUnique(refs)
	return ranking, nil
}

// ExtractCitations returns the non-blank lines after the first "References:" line,
// restricted to lines containing journalFilter when it is set.
func ExtractCitations(text, journalFilter string) []string {
	var refs []string
	started := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !started {
			started = line == referencesMarker
			continue
		}
		if line == "" {
			continue
		}
		if journalFilter != "" && !strings.Contains(line, journalFilter) {
			continue
		}
		refs = append(refs, line)
	}
	return refs
}

// CosineSimilarity is accumulated in float64 so identical vectors score 1 within 1e-6.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func sortedUnique(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	sort.Strings(out)
	return out
}
