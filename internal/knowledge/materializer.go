package knowledge

import (
	"context"
	"fmt"
	"log"
	"time"

	"foodlabel-analyzer/internal/errs"
	"foodlabel-analyzer/internal/retrieval"
)

// Scope is the knowledge base an ingredient is asked against, with the
// citations that back it.
type Scope struct {
	Ingredient   string
	Handle       Handle
	Citations    []string
	UsedFallback bool
}

type Materializer struct {
	prov     Provisioner
	fallback *StaticBase
	chunking ChunkingPolicy
	tracker  Tracker
}

// NewMaterializer wires the provisioner and the shared fallback base. tracker may be nil.
func NewMaterializer(prov Provisioner, fallback *StaticBase, chunking ChunkingPolicy, tracker Tracker) *Materializer {
	return &Materializer{
		prov:     prov,
		fallback: fallback,
		chunking: chunking,
		tracker:  tracker,
	}
}

// Acquire returns the shared fallback when the selection is empty, otherwise a
// new single-use base over the selected documents.
func (m *Materializer) Acquire(ctx context.Context, ingredient string, sel *retrieval.Selection) (*Scope, error) {
	if sel.Empty() {
		h, err := m.fallback.Get(ctx)
		if err != nil {
			return nil, errs.Wrap("knowledge.fallback", ingredient, fmt.Errorf("%w: %w", errs.ErrFallbackUnavailable, err))
		}
		log.Printf("knowledge: using fallback base for ingredient %q", ingredient)
		return &Scope{Ingredient: ingredient, Handle: h, UsedFallback: true}, nil
	}

	h, err := m.prov.Create(ctx, IngredientDefinition(ingredient, sel.Paths(), m.chunking))
	if err != nil {
		return nil, errs.Wrap("knowledge.acquire", ingredient, err)
	}
	if m.tracker != nil {
		if err := m.tracker.Track(ctx, ingredient, h); err != nil {
			log.Printf("knowledge: track base %s failed: %v", h.AssistantID, err)
		}
	}
	return &Scope{
		Ingredient: ingredient,
		Handle:     h,
		Citations:  append([]string(nil), sel.Citations...),
	}, nil
}

// Release disposes of a single-use base. The fallback is kept.
func (m *Materializer) Release(ctx context.Context, scope *Scope) error {
	if scope == nil || scope.UsedFallback {
		return nil
	}
	if err := m.prov.Delete(ctx, scope.Handle); err != nil {
		return errs.Wrap("knowledge.release", scope.Ingredient, err)
	}
	if m.tracker != nil {
		if err := m.tracker.Untrack(ctx, scope.Handle); err != nil {
			log.Printf("knowledge: untrack base %s failed: %v", scope.Handle.AssistantID, err)
		}
	}
	return nil
}

// Sweep deletes tracked single-use bases created more than olderThan ago.
func (m *Materializer) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	if m.tracker == nil {
		return 0, nil
	}
	stale, err := m.tracker.ListBefore(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("list stale knowledge bases failed: %w", err)
	}

	removed := 0
	for _, h := range stale {
		if err := m.prov.Delete(ctx, h); err != nil {
			log.Printf("knowledge: sweep %s failed: %v", h.AssistantID, err)
			continue
		}
		if err := m.tracker.Untrack(ctx, h); err != nil {
			log.Printf("knowledge: untrack %s failed: %v", h.AssistantID, err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Close releases the fallback base.
func (m *Materializer) Close(ctx context.Context) error {
	return m.fallback.Close(ctx)
}
