package analysis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodlabel-analyzer/internal/errs"
	"foodlabel-analyzer/internal/knowledge"
	"foodlabel-analyzer/internal/rag"
	"foodlabel-analyzer/internal/retrieval"
)

type fakeSelector struct {
	evidence map[string][]string
	fail     map[string]bool
}

func (f *fakeSelector) Select(_ context.Context, name string) (*retrieval.Selection, error) {
	if f.fail[name] {
		return nil, fmt.Errorf("%w: embed %s", errs.ErrUpstreamService, name)
	}
	refs, ok := f.evidence[name]
	if !ok {
		return &retrieval.Selection{Ingredient: name}, nil
	}
	return &retrieval.Selection{
		Ingredient: name,
		Candidates: []retrieval.Candidate{{Path: name + ".txt"}},
		Citations:  refs,
	}, nil
}

type fakeKnowledge struct {
	mu            sync.Mutex
	fallbackErr   error
	released      []string
	releaseCtxErr []error
}

func (f *fakeKnowledge) Acquire(_ context.Context, name string, sel *retrieval.Selection) (*knowledge.Scope, error) {
	if sel.Empty() {
		if f.fallbackErr != nil {
			return nil, f.fallbackErr
		}
		return &knowledge.Scope{Ingredient: name, Handle: knowledge.Handle{AssistantID: "asst_fallback"}, UsedFallback: true}, nil
	}
	return &knowledge.Scope{Ingredient: name, Handle: knowledge.Handle{AssistantID: "asst_" + name}, Citations: sel.Citations}, nil
}

func (f *fakeKnowledge) Release(ctx context.Context, scope *knowledge.Scope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, scope.Ingredient)
	f.releaseCtxErr = append(f.releaseCtxErr, ctx.Err())
	return nil
}

type fakeAsker struct {
	delay    map[string]time.Duration
	notFound map[string]bool
	fail     map[string]bool
	inFlight int32
	peak     int32
}

func (f *fakeAsker) Ask(ctx context.Context, question string, _ knowledge.Handle, shape rag.Shape) (*rag.Answer, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}

	name := strings.TrimPrefix(question, "A food product has ingredient: ")
	name = name[:strings.Index(name, ". Is this")]
	if d := f.delay[name]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", errs.ErrPollingTimeout, ctx.Err())
		}
	}
	if f.fail[name] {
		return nil, fmt.Errorf("%w: run failed", errs.ErrUpstreamService)
	}
	return &rag.Answer{Items: []rag.Item{{Name: name, Explanation: "analysis of " + name, FoundInCorpus: !f.notFound[name]}}}, nil
}

func TestAnalyzeAllPartialFailure(t *testing.T) {
	sel := &fakeSelector{
		evidence: map[string][]string{
			"Sugar":    {"ref-a", "ref-b"},
			"Palm Oil": {"ref-b", "ref-c"},
			"Salt":     {"ref-d"},
		},
	}
	asker := &fakeAsker{fail: map[string]bool{"Salt": true}}
	ks := &fakeKnowledge{}
	o := NewOrchestrator(sel, ks, asker, Config{MaxConcurrency: 2})

	res, err := o.AnalyzeAll(context.Background(), []string{"Sugar", "Palm Oil", "Salt", "Water", "Fiber"})
	require.NoError(t, err)

	assert.Equal(t, []string{"Salt"}, res.Failed)
	assert.Len(t, res.Results, 5)
	for _, name := range []string{"Sugar", "Palm Oil", "Water", "Fiber"} {
		assert.Contains(t, res.Text, name+": analysis of "+name+"\n")
	}
	assert.NotContains(t, res.Text, "Salt")
	assert.Equal(t, 4, strings.Count(res.Text, "\n"))

	assert.ElementsMatch(t, []string{"ref-a", "ref-b", "ref-c"}, res.Citations)
	assert.Len(t, ks.released, 5)
	assert.LessOrEqual(t, atomic.LoadInt32(&asker.peak), int32(2))
}

func TestAnalyzeAllDropsCitationsWhenNotFound(t *testing.T) {
	sel := &fakeSelector{evidence: map[string][]string{"Sugar": {"ref-a"}}}
	asker := &fakeAsker{notFound: map[string]bool{"Sugar": true}}
	o := NewOrchestrator(sel, &fakeKnowledge{}, asker, Config{})

	res, err := o.AnalyzeAll(context.Background(), []string{"Sugar"})
	require.NoError(t, err)
	assert.Empty(t, res.Citations)
	assert.Equal(t, "Sugar: analysis of Sugar\n", res.Text)
	assert.True(t, res.Results[0].NotFoundInCorpus)
}

func TestAnalyzeAllFallbackCarriesNoCitations(t *testing.T) {
	o := NewOrchestrator(&fakeSelector{}, &fakeKnowledge{}, &fakeAsker{}, Config{})

	res, err := o.AnalyzeAll(context.Background(), []string{"Water"})
	require.NoError(t, err)
	assert.Empty(t, res.Citations)
	assert.True(t, res.Results[0].UsedFallback)
}

func TestAnalyzeAllFallbackUnavailableFailsBatch(t *testing.T) {
	fallbackErr := errs.Wrap("knowledge.fallback", "Water", fmt.Errorf("%w: %w", errs.ErrFallbackUnavailable, errs.ErrKnowledgeBaseProvisioning))
	sel := &fakeSelector{evidence: map[string][]string{"Sugar": {"ref-a"}}}
	o := NewOrchestrator(sel, &fakeKnowledge{fallbackErr: fallbackErr}, &fakeAsker{}, Config{})

	res, err := o.AnalyzeAll(context.Background(), []string{"Sugar", "Water"})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, errs.ErrFallbackUnavailable)
}

func TestAnalyzeAllAllFail(t *testing.T) {
	sel := &fakeSelector{fail: map[string]bool{"A": true, "B": true}}
	o := NewOrchestrator(sel, &fakeKnowledge{}, &fakeAsker{}, Config{})

	res, err := o.AnalyzeAll(context.Background(), []string{"A", "B"})
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.Empty(t, res.Citations)
	assert.ElementsMatch(t, []string{"A", "B"}, res.Failed)
}

func TestAnalyzeAllBatchTimeout(t *testing.T) {
	sel := &fakeSelector{evidence: map[string][]string{"Slow": {"ref-slow"}, "Fast": {"ref-fast"}}}
	asker := &fakeAsker{delay: map[string]time.Duration{"Slow": 5 * time.Second}}
	ks := &fakeKnowledge{}
	o := NewOrchestrator(sel, ks, asker, Config{BatchTimeout: 50 * time.Millisecond})

	start := time.Now()
	res, err := o.AnalyzeAll(context.Background(), []string{"Slow", "Fast"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, []string{"Slow"}, res.Failed)
	assert.Equal(t, []string{"ref-fast"}, res.Citations)

	// Release still ran with a live context for the cancelled task.
	require.Len(t, ks.released, 2)
	for _, e := range ks.releaseCtxErr {
		assert.NoError(t, e)
	}
}

// stallingFallback provisions ingredient bases at once but never finishes the
// fallback base before its context ends.
type stallingFallback struct{ fallbackDoc string }

func (p stallingFallback) Create(ctx context.Context, def knowledge.Definition) (knowledge.Handle, error) {
	if len(def.Files) == 1 && def.Files[0] == p.fallbackDoc {
		<-ctx.Done()
		return knowledge.Handle{}, ctx.Err()
	}
	return knowledge.Handle{AssistantID: "asst_" + def.Files[0]}, nil
}

func (stallingFallback) Delete(context.Context, knowledge.Handle) error { return nil }

func TestAnalyzeAllTimeoutDuringFallbackKeepsFinished(t *testing.T) {
	prov := stallingFallback{fallbackDoc: "docs/Ingredients.docx"}
	chunking := knowledge.ChunkingPolicy{MaxChunkTokens: 400, ChunkOverlapTokens: 200}
	fallback := knowledge.NewStaticBase(prov, knowledge.FallbackDefinition(prov.fallbackDoc, chunking))
	ks := knowledge.NewMaterializer(prov, fallback, chunking, nil)
	sel := &fakeSelector{evidence: map[string][]string{"Sugar": {"ref-a"}}}
	o := NewOrchestrator(sel, ks, &fakeAsker{}, Config{BatchTimeout: 100 * time.Millisecond})

	res, err := o.AnalyzeAll(context.Background(), []string{"Sugar", "Water"})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, []string{"Water"}, res.Failed)
	assert.Equal(t, "Sugar: analysis of Sugar\n", res.Text)
	assert.Equal(t, []string{"ref-a"}, res.Citations)
}

func TestAnalyzeAllValidation(t *testing.T) {
	o := NewOrchestrator(&fakeSelector{}, &fakeKnowledge{}, &fakeAsker{}, Config{})

	_, err := o.AnalyzeAll(context.Background(), nil)
	assert.ErrorIs(t, err, errs.ErrInputValidation)

	_, err = o.AnalyzeAll(context.Background(), []string{"Sugar", " "})
	assert.ErrorIs(t, err, errs.ErrInputValidation)
}

func TestIngredientQuestionNamesIngredient(t *testing.T) {
	q := IngredientQuestion("Sugar")
	assert.True(t, strings.HasPrefix(q, "A food product has ingredient: Sugar."))
	assert.Contains(t, q, "found_in_document")
}
