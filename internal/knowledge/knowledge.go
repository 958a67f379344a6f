// Package knowledge materializes the hosted knowledge bases that ingredient
// questions are answered against.
package knowledge

import (
	"context"
	"fmt"
	"time"
)

// Handle identifies a hosted knowledge base. Only AssistantID is needed to ask;
// the rest is kept for disposal.
type Handle struct {
	AssistantID   string   `json:"assistant_id"`
	VectorStoreID string   `json:"vector_store_id"`
	FileIDs       []string `json:"file_ids"`
}

func (h Handle) IsZero() bool {
	return h.AssistantID == "" && h.VectorStoreID == "" && len(h.FileIDs) == 0
}

// ChunkingPolicy is the fixed-size chunking applied to uploaded documents.
// A zero policy lets the hosted service choose.
type ChunkingPolicy struct {
	MaxChunkTokens     int
	ChunkOverlapTokens int
}

func (p ChunkingPolicy) IsZero() bool {
	return p.MaxChunkTokens == 0 && p.ChunkOverlapTokens == 0
}

// Definition describes a knowledge base to create.
type Definition struct {
	Name         string
	Instructions string
	Files        []string
	Chunking     ChunkingPolicy
}

// Provisioner creates and deletes hosted knowledge bases.
type Provisioner interface {
	Create(ctx context.Context, def Definition) (Handle, error)
	Delete(ctx context.Context, h Handle) error
}

// Tracker records single-use knowledge bases so leftovers can be swept.
type Tracker interface {
	Track(ctx context.Context, ingredient string, h Handle) error
	Untrack(ctx context.Context, h Handle) error
	ListBefore(ctx context.Context, cutoff time.Time) ([]Handle, error)
}

const dietitianRole = "You are an expert dietician."

func IngredientDefinition(ingredient string, files []string, chunking ChunkingPolicy) Definition {
	return Definition{
		Name:         "Harmful Ingredients",
		Instructions: fmt.Sprintf("%s Use your knowledge base to answer questions about the ingredient %s in a food product.", dietitianRole, ingredient),
		Files:        files,
		Chunking:     chunking,
	}
}

func FallbackDefinition(document string, chunking ChunkingPolicy) Definition {
	return Definition{
		Name:         "Harmful Ingredients",
		Instructions: dietitianRole + " Use your knowledge base to answer questions about a given ingredient in a food product.",
		Files:        []string{document},
		Chunking:     chunking,
	}
}

func ClaimsDefinition(document string) Definition {
	return Definition{
		Name:         "Misleading Claims",
		Instructions: dietitianRole + " Use your knowledge base to answer questions about the misleading claims about food product.",
		Files:        []string{document},
	}
}
