package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"foodlabel-analyzer/internal/errs"
)

// EmbeddingConfig holds API settings for text-embedding (OpenAI-compatible).
type EmbeddingConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Embed returns the embedding vector for the given text.
func (c *OpenAICompatibleClient) Embed(ctx context.Context, cfg EmbeddingConfig, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: embedding input is empty", errs.ErrInputValidation)
	}

	vectors, err := c.embed(ctx, cfg, text)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("%w: empty embedding in response", errs.ErrUpstreamService)
	}
	return vectors[0], nil
}

// EmbedBatch returns embeddings for multiple texts, index-aligned with the input.
// Blank texts are rejected rather than skipped so the alignment holds.
func (c *OpenAICompatibleClient) EmbedBatch(ctx context.Context, cfg EmbeddingConfig, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	trimmed := make([]string, len(texts))
	for i, t := range texts {
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, fmt.Errorf("%w: embedding batch item %d is empty", errs.ErrInputValidation, i)
		}
		trimmed[i] = s
	}

	vectors, err := c.embed(ctx, cfg, trimmed)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(trimmed) {
		return nil, fmt.Errorf("%w: embedding count mismatch: got %d want %d", errs.ErrUpstreamService, len(vectors), len(trimmed))
	}
	return vectors, nil
}

func (c *OpenAICompatibleClient) embed(ctx context.Context, cfg EmbeddingConfig, input interface{}) ([][]float32, error) {
	reqBody := map[string]interface{}{
		"model": cfg.Model,
		"input": input,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request failed: %w", err)
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build embedding request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding request failed: %v", errs.ErrUpstreamService, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: embedding response status %d: %s", errs.ErrUpstreamService, resp.StatusCode, string(raw))
	}

	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: parse embedding json failed: %v", errs.ErrUpstreamService, err)
	}
	result := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		pos := i
		if d.Index >= 0 && d.Index < len(result) {
			pos = d.Index
		}
		result[pos] = d.Embedding
	}
	return result, nil
}

// Embedder binds the client to one embedding model so callers can treat it as a
// plain text -> vector function. The model name doubles as the index identity.
type Embedder struct {
	client *OpenAICompatibleClient
	cfg    EmbeddingConfig
}

func NewEmbedder(client *OpenAICompatibleClient, cfg EmbeddingConfig) *Embedder {
	return &Embedder{client: client, cfg: cfg}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.client.Embed(ctx, e.cfg, text)
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return e.client.EmbedBatch(ctx, e.cfg, texts)
}

func (e *Embedder) ModelID() string {
	return e.cfg.Model
}
