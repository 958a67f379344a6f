package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodlabel-analyzer/internal/errs"
)

func TestEmbedderEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "text-embedding-3-small", body["model"])
		assert.Equal(t, "Sugar", body["input"])
		_, _ = io.WriteString(w, `{"data":[{"index":0,"embedding":[0.1,0.2,0.3]}]}`)
	}))
	defer srv.Close()

	emb := NewEmbedder(NewOpenAICompatibleClient(5*time.Second), EmbeddingConfig{
		BaseURL: srv.URL + "/",
		APIKey:  "k",
		Model:   "text-embedding-3-small",
	})
	vec, err := emb.Embed(context.Background(), "  Sugar ")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "text-embedding-3-small", emb.ModelID())
}

func TestEmbedBatchKeepsOrderByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":[{"index":1,"embedding":[2]},{"index":0,"embedding":[1]}]}`)
	}))
	defer srv.Close()

	client := NewOpenAICompatibleClient(5 * time.Second)
	vecs, err := client.EmbedBatch(context.Background(), EmbeddingConfig{BaseURL: srv.URL}, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}}, vecs)
}

func TestEmbedErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewOpenAICompatibleClient(5 * time.Second)
	cfg := EmbeddingConfig{BaseURL: srv.URL}

	_, err := client.Embed(context.Background(), cfg, "   ")
	assert.ErrorIs(t, err, errs.ErrInputValidation)

	_, err = client.Embed(context.Background(), cfg, "salt")
	assert.ErrorIs(t, err, errs.ErrUpstreamService)

	_, err = client.EmbedBatch(context.Background(), cfg, []string{"ok", ""})
	assert.ErrorIs(t, err, errs.ErrInputValidation)
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"Not a good option"}}]}`)
	}))
	defer srv.Close()

	client := NewOpenAICompatibleClient(5 * time.Second)
	out, err := client.Complete(context.Background(), ChatConfig{BaseURL: srv.URL, Model: "gpt-4o"}, []ChatMessage{{Role: "user", Content: "x"}})
	require.NoError(t, err)
	assert.Equal(t, "Not a good option", out)
}
