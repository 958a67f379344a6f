package bootstrap

import (
	"fmt"
	"log"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"foodlabel-analyzer/internal/ai"
	"foodlabel-analyzer/internal/analysis"
	"foodlabel-analyzer/internal/cache"
	"foodlabel-analyzer/internal/config"
	"foodlabel-analyzer/internal/corpus"
	"foodlabel-analyzer/internal/knowledge"
	"foodlabel-analyzer/internal/rag"
	"foodlabel-analyzer/internal/retrieval"
)

// Pipeline holds the ingredient analysis stages built from configuration.
type Pipeline struct {
	Chat         *ai.OpenAICompatibleClient
	Assistants   *ai.AssistantsClient
	Embedder     retrieval.Embedder
	Corpora      []*corpus.Corpus
	Selector     *retrieval.Selector
	Materializer *knowledge.Materializer
	Fallback     *knowledge.StaticBase
	ClaimsBase   *knowledge.StaticBase
	Engine       *rag.Engine
	Orchestrator *analysis.Orchestrator
}

// NewEmbedder builds the query embedder, cached when a cache is given.
func NewEmbedder(cfg *config.Config, chat *ai.OpenAICompatibleClient, embCache *cache.EmbeddingCache) retrieval.Embedder {
	base := ai.NewEmbedder(chat, ai.EmbeddingConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.EmbeddingModel,
	})
	if embCache == nil {
		return base
	}
	return retrieval.NewCachedEmbedder(base, embCache)
}

func LoadCorpora(cfg *config.Config) ([]*corpus.Corpus, error) {
	corpora := make([]*corpus.Corpus, 0, len(cfg.Corpora))
	for _, cc := range cfg.Corpora {
		c, err := corpus.Load(corpus.Source{
			Name:           cc.Name,
			TitlesPath:     cc.TitlesPath,
			ArticlesDir:    cc.ArticlesDir,
			EmbeddingsPath: cc.EmbeddingsPath,
			JournalFilter:  cc.JournalFilter,
		})
		if err != nil {
			return nil, err
		}
		if err := c.CheckModel(cfg.LLM.EmbeddingModel); err != nil {
			return nil, fmt.Errorf("corpus %s needs re-indexing: %w", c.Name, err)
		}
		log.Printf("corpus %s loaded: %d documents, model %s", c.Name, len(c.Records), c.ModelID)
		corpora = append(corpora, c)
	}
	return corpora, nil
}

// NewPipeline wires the analysis stages. redisCli and tracker may be nil.
func NewPipeline(cfg *config.Config, redisCli *redisv9.Client, tracker knowledge.Tracker) (*Pipeline, error) {
	timeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
	chat := ai.NewOpenAICompatibleClient(timeout)
	assistants := ai.NewAssistantsClient(ai.AssistantsConfig{
		BaseURL:            cfg.LLM.BaseURL,
		APIKey:             cfg.LLM.APIKey,
		Timeout:            timeout,
		RequestsPerSecond:  cfg.Assistants.RequestsPerSecond,
		Burst:              cfg.Assistants.Burst,
		BreakerMaxFailures: cfg.Assistants.BreakerMaxFailures,
		BreakerOpenTimeout: time.Duration(cfg.Assistants.BreakerOpenSeconds) * time.Second,
	})

	embCache, err := cache.NewEmbeddingCache(redisCli, cfg.Redis.EmbeddingL1Size, time.Duration(cfg.Redis.EmbeddingTTLSeconds)*time.Second)
	if err != nil {
		return nil, err
	}
	embedder := NewEmbedder(cfg, chat, embCache)

	corpora, err := LoadCorpora(cfg)
	if err != nil {
		return nil, err
	}
	selector := retrieval.NewSelector(retrieval.NewRanker(embedder), corpora, retrieval.Options{
		TopN:      cfg.Retrieval.TopN,
		Threshold: cfg.Retrieval.Threshold,
	})

	prov := knowledge.NewHostedProvisioner(assistants, knowledge.HostedConfig{
		Model:         cfg.Assistants.Model,
		Temperature:   cfg.Assistants.Temperature,
		TopP:          cfg.Assistants.TopP,
		MaxNumResults: cfg.Assistants.MaxNumResults,
	})
	chunking := knowledge.ChunkingPolicy{
		MaxChunkTokens:     cfg.Knowledge.MaxChunkTokens,
		ChunkOverlapTokens: cfg.Knowledge.ChunkOverlapTokens,
	}
	fallback := knowledge.NewStaticBase(prov, knowledge.FallbackDefinition(cfg.Knowledge.FallbackDocument, chunking))
	claims := knowledge.NewStaticBase(prov, knowledge.ClaimsDefinition(cfg.Knowledge.ClaimsDocument))
	materializer := knowledge.NewMaterializer(prov, fallback, chunking, tracker)

	engine := rag.NewEngine(assistants, rag.PollConfig{
		MaxAttempts:         cfg.Polling.MaxAttempts,
		InitialInterval:     time.Duration(cfg.Polling.InitialIntervalMS) * time.Millisecond,
		MaxInterval:         time.Duration(cfg.Polling.MaxIntervalMS) * time.Millisecond,
		Multiplier:          cfg.Polling.Multiplier,
		RandomizationFactor: cfg.Polling.RandomizationFactor,
	}, cfg.Assistants.MaxNumResults)

	orchestrator := analysis.NewOrchestrator(selector, materializer, engine, analysis.Config{
		MaxConcurrency: cfg.Orchestrator.MaxConcurrency,
		BatchTimeout:   cfg.BatchTimeout(),
	})

	return &Pipeline{
		Chat:         chat,
		Assistants:   assistants,
		Embedder:     embedder,
		Corpora:      corpora,
		Selector:     selector,
		Materializer: materializer,
		Fallback:     fallback,
		ClaimsBase:   claims,
		Engine:       engine,
		Orchestrator: orchestrator,
	}, nil
}
