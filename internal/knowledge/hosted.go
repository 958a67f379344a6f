package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"foodlabel-analyzer/internal/ai"
	"foodlabel-analyzer/internal/errs"
)

// AssistantsAPI is the part of the hosted assistants API used to build knowledge bases.
type AssistantsAPI interface {
	UploadFile(ctx context.Context, path string) (string, error)
	DeleteFile(ctx context.Context, fileID string) error
	CreateVectorStore(ctx context.Context, name string) (string, error)
	DeleteVectorStore(ctx context.Context, vectorStoreID string) error
	CreateFileBatch(ctx context.Context, vectorStoreID string, fileIDs []string, chunking *ai.ChunkingStrategy) (*ai.FileBatch, error)
	GetFileBatch(ctx context.Context, vectorStoreID, batchID string) (*ai.FileBatch, error)
	CreateAssistant(ctx context.Context, req ai.AssistantRequest) (string, error)
	DeleteAssistant(ctx context.Context, assistantID string) error
}

type HostedConfig struct {
	Model         string
	Temperature   float64
	TopP          float64
	MaxNumResults int

	BatchPollInitial    time.Duration
	BatchPollMax        time.Duration
	BatchPollMaxElapsed time.Duration
}

type HostedProvisioner struct {
	api AssistantsAPI
	cfg HostedConfig
}

var errBatchPending = errors.New("file batch still in progress")

const cleanupTimeout = 30 * time.Second

func NewHostedProvisioner(api AssistantsAPI, cfg HostedConfig) *HostedProvisioner {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.MaxNumResults <= 0 {
		cfg.MaxNumResults = 5
	}
	if cfg.BatchPollInitial <= 0 {
		cfg.BatchPollInitial = 500 * time.Millisecond
	}
	if cfg.BatchPollMax <= 0 {
		cfg.BatchPollMax = 5 * time.Second
	}
	if cfg.BatchPollMaxElapsed <= 0 {
		cfg.BatchPollMaxElapsed = 2 * time.Minute
	}
	return &HostedProvisioner{api: api, cfg: cfg}
}

// Create uploads the files, indexes them into a new vector store and binds an
// assistant to it. Anything created before a failure is deleted again.
func (p *HostedProvisioner) Create(ctx context.Context, def Definition) (Handle, error) {
	if len(def.Files) == 0 {
		return Handle{}, fmt.Errorf("%w: no files to index", errs.ErrKnowledgeBaseProvisioning)
	}

	var h Handle
	fail := func(step string, err error) (Handle, error) {
		p.cleanup(ctx, h)
		return Handle{}, fmt.Errorf("%w: %s: %w", errs.ErrKnowledgeBaseProvisioning, step, err)
	}

	for _, path := range def.Files {
		fileID, err := p.api.UploadFile(ctx, path)
		if err != nil {
			return fail("upload "+path, err)
		}
		h.FileIDs = append(h.FileIDs, fileID)
	}

	vsID, err := p.api.CreateVectorStore(ctx, def.Name+" Vec")
	if err != nil {
		return fail("create vector store", err)
	}
	h.VectorStoreID = vsID

	var chunking *ai.ChunkingStrategy
	if !def.Chunking.IsZero() {
		chunking = ai.StaticChunkingStrategy(def.Chunking.MaxChunkTokens, def.Chunking.ChunkOverlapTokens)
	}
	batch, err := p.api.CreateFileBatch(ctx, vsID, h.FileIDs, chunking)
	if err != nil {
		return fail("create file batch", err)
	}
	if err := p.waitForBatch(ctx, batch); err != nil {
		return fail("index files", err)
	}

	temperature, topP := p.cfg.Temperature, p.cfg.TopP
	assistantID, err := p.api.CreateAssistant(ctx, ai.AssistantRequest{
		Name:         def.Name,
		Instructions: def.Instructions,
		Model:        p.cfg.Model,
		Tools: []ai.Tool{{
			Type:       "file_search",
			FileSearch: &ai.FileSearchConfig{MaxNumResults: p.cfg.MaxNumResults},
		}},
		ToolResources: &ai.ToolResources{
			FileSearch: &ai.FileSearchResources{VectorStoreIDs: []string{vsID}},
		},
		Temperature: &temperature,
		TopP:        &topP,
	})
	if err != nil {
		return fail("create assistant", err)
	}
	h.AssistantID = assistantID

	log.Printf("knowledge base created: assistant=%s vector_store=%s files=%d", h.AssistantID, h.VectorStoreID, len(h.FileIDs))
	return h, nil
}

func (p *HostedProvisioner) waitForBatch(ctx context.Context, batch *ai.FileBatch) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.cfg.BatchPollInitial
	exp.MaxInterval = p.cfg.BatchPollMax
	exp.MaxElapsedTime = p.cfg.BatchPollMaxElapsed

	current := batch
	op := func() error {
		if current == nil {
			next, err := p.api.GetFileBatch(ctx, batch.VectorStoreID, batch.ID)
			if err != nil {
				return backoff.Permanent(err)
			}
			current = next
		}
		status, counts := current.Status, current.FileCounts
		current = nil

		switch status {
		case ai.BatchCompleted:
			if counts.Failed > 0 {
				return backoff.Permanent(fmt.Errorf("%d of %d files failed to index", counts.Failed, counts.Total))
			}
			return nil
		case ai.BatchFailed, ai.BatchCancelled:
			return backoff.Permanent(fmt.Errorf("file batch %s", status))
		default:
			return errBatchPending
		}
	}

	if err := backoff.Retry(op, backoff.WithContext(exp, ctx)); err != nil {
		if errors.Is(err, errBatchPending) {
			return fmt.Errorf("file batch %s not ready after %s", batch.ID, p.cfg.BatchPollMaxElapsed)
		}
		return err
	}
	return nil
}

// Delete removes the assistant, the vector store and the uploaded files.
func (p *HostedProvisioner) Delete(ctx context.Context, h Handle) error {
	var errList []error
	if h.AssistantID != "" {
		if err := p.api.DeleteAssistant(ctx, h.AssistantID); err != nil {
			errList = append(errList, err)
		}
	}
	if h.VectorStoreID != "" {
		if err := p.api.DeleteVectorStore(ctx, h.VectorStoreID); err != nil {
			errList = append(errList, err)
		}
	}
	for _, fileID := range h.FileIDs {
		if err := p.api.DeleteFile(ctx, fileID); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

func (p *HostedProvisioner) cleanup(ctx context.Context, h Handle) {
	if h.IsZero() {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := p.Delete(cleanupCtx, h); err != nil {
		log.Printf("knowledge base cleanup failed: vector_store=%s err=%v", h.VectorStoreID, err)
	}
}
