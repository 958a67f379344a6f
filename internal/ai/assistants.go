package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"foodlabel-analyzer/internal/errs"
)

// Run statuses reported by the hosted assistants API.
const (
	RunQueued         = "queued"
	RunInProgress     = "in_progress"
	RunRequiresAction = "requires_action"
	RunCancelling     = "cancelling"
	RunCancelled      = "cancelled"
	RunFailed         = "failed"
	RunCompleted      = "completed"
	RunIncomplete     = "incomplete"
	RunExpired        = "expired"
)

// File batch statuses.
const (
	BatchInProgress = "in_progress"
	BatchCompleted  = "completed"
	BatchCancelled  = "cancelled"
	BatchFailed     = "failed"
)

type AssistantsConfig struct {
	BaseURL            string
	APIKey             string
	Timeout            time.Duration
	RequestsPerSecond  float64
	Burst              int
	BreakerMaxFailures int
	BreakerOpenTimeout time.Duration
}

// AssistantsClient talks to the hosted file-search assistants API:
// files, vector stores, assistants, threads and runs.
type AssistantsClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
}

// APIError is a non-2xx answer from the hosted service.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("assistants %s %s status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	return errs.ErrUpstreamService
}

func NewAssistantsClient(cfg AssistantsConfig) *AssistantsClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.BreakerMaxFailures <= 0 {
		cfg.BreakerMaxFailures = 5
	}
	if cfg.BreakerOpenTimeout <= 0 {
		cfg.BreakerOpenTimeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	maxFailures := uint32(cfg.BreakerMaxFailures)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "assistants-api",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("circuit breaker %s: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Client errors say nothing about service health.
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests
			}
			return false
		},
	})

	return &AssistantsClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		breaker:    breaker,
	}
}

type ChunkingStrategy struct {
	Type   string          `json:"type"`
	Static *StaticChunking `json:"static,omitempty"`
}

type StaticChunking struct {
	MaxChunkSizeTokens int `json:"max_chunk_size_tokens"`
	ChunkOverlapTokens int `json:"chunk_overlap_tokens"`
}

// StaticChunkingStrategy builds the fixed-size chunking policy.
func StaticChunkingStrategy(maxTokens, overlapTokens int) *ChunkingStrategy {
	return &ChunkingStrategy{
		Type: "static",
		Static: &StaticChunking{
			MaxChunkSizeTokens: maxTokens,
			ChunkOverlapTokens: overlapTokens,
		},
	}
}

type FileCounts struct {
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
}

type FileBatch struct {
	ID            string     `json:"id"`
	VectorStoreID string     `json:"vector_store_id"`
	Status        string     `json:"status"`
	FileCounts    FileCounts `json:"file_counts"`
}

type Tool struct {
	Type       string            `json:"type"`
	FileSearch *FileSearchConfig `json:"file_search,omitempty"`
}

type FileSearchConfig struct {
	MaxNumResults int `json:"max_num_results,omitempty"`
}

type AssistantRequest struct {
	Name          string         `json:"name"`
	Instructions  string         `json:"instructions"`
	Model         string         `json:"model"`
	Tools         []Tool         `json:"tools"`
	ToolResources *ToolResources `json:"tool_resources,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	TopP          *float64       `json:"top_p,omitempty"`
}

type ToolResources struct {
	FileSearch *FileSearchResources `json:"file_search,omitempty"`
}

type FileSearchResources struct {
	VectorStoreIDs []string `json:"vector_store_ids"`
}

type RunRequest struct {
	AssistantID string   `json:"assistant_id"`
	Tools       []Tool   `json:"tools,omitempty"`
	Include     []string `json:"-"`
}

type Run struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Status    string    `json:"status"`
	LastError *RunError `json:"last_error,omitempty"`
}

type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ThreadMessage struct {
	ID      string           `json:"id"`
	Role    string           `json:"role"`
	RunID   string           `json:"run_id"`
	Content []MessageContent `json:"content"`
}

type MessageContent struct {
	Type string       `json:"type"`
	Text *MessageText `json:"text,omitempty"`
}

type MessageText struct {
	Value       string       `json:"value"`
	Annotations []Annotation `json:"annotations"`
}

// Annotation is an inline citation span inside a message text.
type Annotation struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	StartIndex   int           `json:"start_index"`
	EndIndex     int           `json:"end_index"`
	FileCitation *FileCitation `json:"file_citation,omitempty"`
}

type FileCitation struct {
	FileID string `json:"file_id"`
}

// UploadFile uploads a local document for use by file search.
func (c *AssistantsClient) UploadFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open upload file failed: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("purpose", "assistants"); err != nil {
		return "", fmt.Errorf("write purpose field failed: %w", err)
	}
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("create form file failed: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("copy upload file failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer failed: %w", err)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.send(ctx, http.MethodPost, "/files", writer.FormDataContentType(), body.Bytes(), &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *AssistantsClient) DeleteFile(ctx context.Context, fileID string) error {
	return c.do(ctx, http.MethodDelete, "/files/"+url.PathEscape(fileID), nil, nil)
}

func (c *AssistantsClient) CreateVectorStore(ctx context.Context, name string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/vector_stores", map[string]interface{}{"name": name}, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *AssistantsClient) DeleteVectorStore(ctx context.Context, vectorStoreID string) error {
	return c.do(ctx, http.MethodDelete, "/vector_stores/"+url.PathEscape(vectorStoreID), nil, nil)
}

func (c *AssistantsClient) CreateFileBatch(ctx context.Context, vectorStoreID string, fileIDs []string, chunking *ChunkingStrategy) (*FileBatch, error) {
	reqBody := map[string]interface{}{
		"file_ids": fileIDs,
	}
	if chunking != nil {
		reqBody["chunking_strategy"] = chunking
	}
	var out FileBatch
	path := "/vector_stores/" + url.PathEscape(vectorStoreID) + "/file_batches"
	if err := c.do(ctx, http.MethodPost, path, reqBody, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *AssistantsClient) GetFileBatch(ctx context.Context, vectorStoreID, batchID string) (*FileBatch, error) {
	var out FileBatch
	path := "/vector_stores/" + url.PathEscape(vectorStoreID) + "/file_batches/" + url.PathEscape(batchID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *AssistantsClient) CreateAssistant(ctx context.Context, req AssistantRequest) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/assistants", req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *AssistantsClient) DeleteAssistant(ctx context.Context, assistantID string) error {
	return c.do(ctx, http.MethodDelete, "/assistants/"+url.PathEscape(assistantID), nil, nil)
}

// CreateThread opens a conversation seeded with one user message.
func (c *AssistantsClient) CreateThread(ctx context.Context, userMessage string) (string, error) {
	reqBody := map[string]interface{}{
		"messages": []ChatMessage{{Role: "user", Content: userMessage}},
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/threads", reqBody, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *AssistantsClient) CreateRun(ctx context.Context, threadID string, req RunRequest) (*Run, error) {
	path := "/threads/" + url.PathEscape(threadID) + "/runs"
	if len(req.Include) > 0 {
		q := url.Values{}
		for _, inc := range req.Include {
			q.Add("include[]", inc)
		}
		path += "?" + q.Encode()
	}
	var out Run
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *AssistantsClient) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	var out Run
	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRunMessages returns the messages a run produced, newest first.
func (c *AssistantsClient) ListRunMessages(ctx context.Context, threadID, runID string) ([]ThreadMessage, error) {
	q := url.Values{}
	q.Set("run_id", runID)
	q.Set("order", "desc")
	path := "/threads/" + url.PathEscape(threadID) + "/messages?" + q.Encode()

	var out struct {
		Data []ThreadMessage `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *AssistantsClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal assistants request failed: %w", err)
		}
		payload = b
	}
	return c.send(ctx, method, path, "application/json", payload, out)
}

func (c *AssistantsClient) send(ctx context.Context, method, path, contentType string, payload []byte, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("assistants rate limiter: %w", err)
	}

	raw, err := c.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("build assistants request failed: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("OpenAI-Beta", "assistants=v2")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: assistants %s %s: %v", errs.ErrUpstreamService, method, path, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: read assistants response failed: %v", errs.ErrUpstreamService, err)
		}
		if resp.StatusCode >= 300 {
			return nil, &APIError{StatusCode: resp.StatusCode, Method: method, Path: path, Body: string(data)}
		}
		return data, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %v", errs.ErrUpstreamService, err)
		}
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw.([]byte), out); err != nil {
		return fmt.Errorf("%w: parse assistants response failed: %v", errs.ErrUpstreamService, err)
	}
	return nil
}
