package retrieval

import (
	"context"
	"log"
	"strings"
)

// EmbeddingStore caches vectors keyed by model and text.
type EmbeddingStore interface {
	Get(ctx context.Context, modelID, text string) ([]float32, bool, error)
	Set(ctx context.Context, modelID, text string, vec []float32) error
}

// CachedEmbedder serves repeated ingredient names from the cache. Cache errors
// are logged and fall through to the embedder.
type CachedEmbedder struct {
	inner Embedder
	store EmbeddingStore
}

func NewCachedEmbedder(inner Embedder, store EmbeddingStore) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, store: store}
}

func (e *CachedEmbedder) ModelID() string {
	return e.inner.ModelID()
}

func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := strings.ToLower(strings.TrimSpace(text))
	if e.store == nil || key == "" {
		return e.inner.Embed(ctx, text)
	}

	vec, hit, err := e.store.Get(ctx, e.inner.ModelID(), key)
	if err != nil {
		log.Printf("embedding cache get failed: %v", err)
	}
	if hit {
		return vec, nil
	}

	vec, err = e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := e.store.Set(ctx, e.inner.ModelID(), key, vec); err != nil {
		log.Printf("embedding cache set failed: %v", err)
	}
	return vec, nil
}
