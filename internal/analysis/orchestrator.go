// Package analysis fans ingredient analyses out concurrently and merges the results.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"foodlabel-analyzer/internal/errs"
	"foodlabel-analyzer/internal/knowledge"
	"foodlabel-analyzer/internal/rag"
	"foodlabel-analyzer/internal/retrieval"
)

type Selector interface {
	Select(ctx context.Context, ingredient string) (*retrieval.Selection, error)
}

type KnowledgeSource interface {
	Acquire(ctx context.Context, ingredient string, sel *retrieval.Selection) (*knowledge.Scope, error)
	Release(ctx context.Context, scope *knowledge.Scope) error
}

type Asker interface {
	Ask(ctx context.Context, question string, h knowledge.Handle, shape rag.Shape) (*rag.Answer, error)
}

type Config struct {
	MaxConcurrency int
	BatchTimeout   time.Duration
	ReleaseTimeout time.Duration
}

// Result is the outcome for one ingredient. Err is set when it failed.
type Result struct {
	Ingredient       string
	Text             string
	Citations        []string
	UsedFallback     bool
	NotFoundInCorpus bool
	Err              error
}

// BatchResult merges successful results in completion order.
type BatchResult struct {
	Text      string
	Citations []string
	Results   []Result
	Failed    []string
}

type Orchestrator struct {
	selector  Selector
	knowledge KnowledgeSource
	asker     Asker
	cfg       Config
}

func NewOrchestrator(selector Selector, ks KnowledgeSource, asker Asker, cfg Config) *Orchestrator {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 120 * time.Second
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = 30 * time.Second
	}
	return &Orchestrator{selector: selector, knowledge: ks, asker: asker, cfg: cfg}
}

// IngredientQuestion is the prompt used for a single ingredient.
func IngredientQuestion(ingredient string) string {
	return "A food product has ingredient: " + ingredient + ". Is this ingredient safe to eat? " +
		`The output must be in JSON format: {"<ingredient_name>": {"analysis": "<information from the document about why the ingredient is harmful>", "found_in_document": <true|false>}}. ` +
		"If information about the ingredient is not found in the documents, set found_in_document to false and answer from your own knowledge."
}

// AnalyzeAll analyzes every ingredient concurrently. A failed ingredient is
// left out of the merged text; only an unavailable fallback knowledge base
// fails the whole batch, unless the batch had already timed out.
func (o *Orchestrator) AnalyzeAll(ctx context.Context, ingredients []string) (*BatchResult, error) {
	if len(ingredients) == 0 {
		return nil, fmt.Errorf("%w: ingredient list is empty", errs.ErrInputValidation)
	}
	for i, name := range ingredients {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: ingredient %d has an empty name", errs.ErrInputValidation, i)
		}
	}

	timeoutCtx, cancelTimeout := context.WithTimeout(ctx, o.cfg.BatchTimeout)
	defer cancelTimeout()
	batchCtx, cancel := context.WithCancelCause(timeoutCtx)
	defer cancel(nil)

	sem := semaphore.NewWeighted(int64(o.cfg.MaxConcurrency))
	results := make(chan Result, len(ingredients))
	for _, name := range ingredients {
		go func(name string) {
			if err := sem.Acquire(batchCtx, 1); err != nil {
				results <- Result{Ingredient: name, Err: err}
				return
			}
			defer sem.Release(1)
			results <- o.analyzeOne(batchCtx, name)
		}(strings.TrimSpace(name))
	}

	batch := &BatchResult{}
	var fatal error
	seen := make(map[string]struct{})
	var sb strings.Builder
	for range ingredients {
		r := <-results
		batch.Results = append(batch.Results, r)
		if r.Err != nil {
			batch.Failed = append(batch.Failed, r.Ingredient)
			log.Printf("analysis: ingredient %q failed: %v", r.Ingredient, r.Err)
			// The batch's own deadline surfacing through fallback creation is a
			// timeout of that ingredient, not an unavailable fallback.
			if fatal == nil && batchCtx.Err() == nil && errors.Is(r.Err, errs.ErrFallbackUnavailable) {
				fatal = r.Err
				cancel(r.Err)
			}
			continue
		}

		sb.WriteString(r.Text)
		if !strings.HasSuffix(r.Text, "\n") {
			sb.WriteString("\n")
		}
		for _, ref := range r.Citations {
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			batch.Citations = append(batch.Citations, ref)
		}
	}
	if fatal != nil {
		return nil, fatal
	}

	batch.Text = sb.String()
	log.Printf("analysis: batch done, %d ingredients, %d failed", len(ingredients), len(batch.Failed))
	return batch, nil
}

func (o *Orchestrator) analyzeOne(ctx context.Context, name string) Result {
	r := Result{Ingredient: name}

	sel, err := o.selector.Select(ctx, name)
	if err != nil {
		r.Err = err
		return r
	}
	scope, err := o.knowledge.Acquire(ctx, name, sel)
	if err != nil {
		r.Err = err
		return r
	}
	defer o.release(ctx, scope)

	answer, err := o.asker.Ask(ctx, IngredientQuestion(name), scope.Handle, rag.ShapeIngredientJSON)
	if err != nil {
		r.Err = errs.Wrap("analysis.ask", name, err)
		return r
	}

	r.Text = answer.Render()
	r.UsedFallback = scope.UsedFallback
	r.NotFoundInCorpus = answer.NotFoundInCorpus()
	if !r.UsedFallback && !r.NotFoundInCorpus {
		r.Citations = scope.Citations
	}
	return r
}

// release runs detached from the batch deadline so single-use bases are
// removed even for cancelled tasks.
func (o *Orchestrator) release(ctx context.Context, scope *knowledge.Scope) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ReleaseTimeout)
	defer cancel()
	if err := o.knowledge.Release(releaseCtx, scope); err != nil {
		log.Printf("analysis: release knowledge base for %q failed: %v", scope.Ingredient, err)
	}
}
