package app

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

	"foodlabel-analyzer/internal/ai"
	"foodlabel-analyzer/internal/errs"
	"foodlabel-analyzer/internal/model"
)

type memProductStore struct {
	upserted []model.Product
	err      error
}

func (m *memProductStore) Upsert(p *model.Product) error {
	if m.err != nil {
		return m.err
	}
	m.upserted = append(m.upserted, *p)
	return nil
}

func (m *memProductStore) Search(string, int) ([]model.Product, error) { return nil, nil }

func (m *memProductStore) GetByName(string) (*model.Product, error) { return nil, nil }

func labelServer(t *testing.T, label string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model          string `json:"model"`
			ResponseFormat struct {
				Type string `json:"type"`
			} `json:"response_format"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o", body.Model)
		assert.Equal(t, "json_schema", body.ResponseFormat.Type)

		reply, err := json.Marshal(map[string]interface{}{
			"choices": []interface{}{map[string]interface{}{"message": map[string]string{"content": label}}},
		})
		require.NoError(t, err)
		_, _ = w.Write(reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExtractProductStoresLabel(t *testing.T) {
	srv := labelServer(t, `{"productName":" Choco Bar ","brandName":"Acme","ingredients":[{"name":"Sugar"},{"name":" "},{"name":"Palm Oil"}],"claims":["Low fat"]}`)
	store := &memProductStore{}
	svc := NewProductService(store, nil, ai.NewOpenAICompatibleClient(5*time.Second),
		ai.ChatConfig{BaseURL: srv.URL, APIKey: "k", Model: "gpt-4o"})

	p, err := svc.ExtractProduct(context.Background(), []string{"https://img.example/front.jpg", " "})
	require.NoError(t, err)

	assert.Equal(t, "Choco Bar", p.ProductName)
	assert.Equal(t, "Acme", p.BrandName)
	assert.Equal(t, []string{"Sugar", "Palm Oil"}, p.IngredientNames())
	assert.Equal(t, []string{"Low fat"}, p.Claims)
	require.Len(t, store.upserted, 1)
	assert.Equal(t, "Choco Bar", store.upserted[0].ProductName)
}

func TestExtractProductRejectsBadLabel(t *testing.T) {
	srv := labelServer(t, `{"productName":"","brandName":"Acme","ingredients":[],"claims":[]}`)
	store := &memProductStore{}
	svc := NewProductService(store, nil, ai.NewOpenAICompatibleClient(5*time.Second),
		ai.ChatConfig{BaseURL: srv.URL, Model: "gpt-4o"})

	_, err := svc.ExtractProduct(context.Background(), []string{"https://img.example/front.jpg"})
	assert.ErrorIs(t, err, errs.ErrResponseFormat)
	assert.Empty(t, store.upserted)
}

type unreachableReader struct{ called bool }

func (r *unreachableReader) CompleteWithImages(context.Context, ai.ChatConfig, string, []string, ai.JSONSchema) (string, error) {
	r.called = true
	return "", io.EOF
}

func TestExtractProductValidatesImages(t *testing.T) {
	reader := &unreachableReader{}
	svc := NewProductService(&memProductStore{}, nil, reader, ai.ChatConfig{})

	for _, urls := range [][]string{
		nil,
		{" "},
		{"ftp://img.example/a.jpg"},
		{"not a url"},
	} {
		_, err := svc.ExtractProduct(context.Background(), urls)
		assert.True(t, IsClientError(err), "%v", urls)
	}
	assert.False(t, reader.called)

	_, err := svc.ExtractProduct(context.Background(), []string{"data:image/png;base64,iVBORw0KGgo="})
	assert.Error(t, err)
	assert.False(t, IsClientError(err))
	assert.True(t, reader.called)
}

func TestExtractProductWithoutReader(t *testing.T) {
	svc := NewProductService(&memProductStore{}, nil, nil, ai.ChatConfig{})
	_, err := svc.ExtractProduct(context.Background(), []string{"https://img.example/a.jpg"})
	assert.ErrorIs(t, err, errs.ErrUpstreamService)
}
