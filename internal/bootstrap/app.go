package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"foodlabel-analyzer/internal/ai"
	appsvc "foodlabel-analyzer/internal/app"
	"foodlabel-analyzer/internal/config"
	"foodlabel-analyzer/internal/corpus"
	"foodlabel-analyzer/internal/knowledge"
	mysqlClient "foodlabel-analyzer/internal/platform/mysql"
	rabbitmqClient "foodlabel-analyzer/internal/platform/rabbitmq"
	redisClient "foodlabel-analyzer/internal/platform/redis"
	"foodlabel-analyzer/internal/repository"
	"foodlabel-analyzer/internal/worker"
)

const releaseTimeout = 30 * time.Second

type App struct {
	Config         *config.Config
	MySQL          *gorm.DB
	Redis          *redis.Client
	MQConn         *amqp.Connection
	AnalysisWorker *worker.AnalysisPersistWorker
	Sweeper        *worker.KnowledgeSweeper

	Corpora      []*corpus.Corpus
	Materializer *knowledge.Materializer
	Fallback     *knowledge.StaticBase
	ClaimsBase   *knowledge.StaticBase

	AnalysisService *appsvc.AnalysisService
	ProductService  *appsvc.ProductService

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := mysqlClient.Migrate(mysqlDB); err != nil {
		return nil, err
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	kbRepo := repository.NewKnowledgeBaseRepository(mysqlDB)
	pipeline, err := NewPipeline(cfg, redisCli, kbRepo)
	if err != nil {
		return nil, err
	}

	analysisRepo := repository.NewAnalysisRepository(mysqlDB)
	analysisWorker := worker.NewAnalysisPersistWorker(mqConn, analysisRepo, cfg.RabbitMQ.AnalysisQueue)
	if err := analysisWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start analysis worker failed: %w", err)
	}

	sweeper := worker.NewKnowledgeSweeper(pipeline.Materializer, time.Duration(cfg.Knowledge.SweepAfterMinutes)*time.Minute)
	sweeper.Start(ctx)

	analysisService := appsvc.NewAnalysisService(
		pipeline.Orchestrator,
		pipeline.Engine,
		pipeline.ClaimsBase,
		pipeline.Chat,
		rabbitmqClient.NewAnalysisPublisher(mqConn, cfg.RabbitMQ.AnalysisQueue),
		appsvc.AnalysisServiceConfig{
			ProcessingAssistantID: cfg.Knowledge.ProcessingAssistantID,
			Chat: ai.ChatConfig{
				BaseURL: cfg.LLM.BaseURL,
				APIKey:  cfg.LLM.APIKey,
				Model:   cfg.LLM.Model,
			},
		},
	)
	productService := appsvc.NewProductService(
		repository.NewProductRepository(mysqlDB),
		analysisRepo,
		pipeline.Chat,
		ai.ChatConfig{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.VisionModel,
		},
	)

	return &App{
		Config:          cfg,
		MySQL:           mysqlDB,
		Redis:           redisCli,
		MQConn:          mqConn,
		AnalysisWorker:  analysisWorker,
		Sweeper:         sweeper,
		Corpora:         pipeline.Corpora,
		Materializer:    pipeline.Materializer,
		Fallback:        pipeline.Fallback,
		ClaimsBase:      pipeline.ClaimsBase,
		AnalysisService: analysisService,
		ProductService:  productService,
		StartedAt:       time.Now(),
	}, nil
}

// Close deletes the shared knowledge bases and releases connections.
func (a *App) Close() error {
	var errList []error

	if a.Sweeper != nil {
		a.Sweeper.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if a.Materializer != nil {
		if err := a.Materializer.Close(ctx); err != nil {
			errList = append(errList, fmt.Errorf("delete fallback knowledge base failed: %w", err))
		}
	}
	if a.ClaimsBase != nil {
		if err := a.ClaimsBase.Close(ctx); err != nil {
			errList = append(errList, fmt.Errorf("delete claims knowledge base failed: %w", err))
		}
	}

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errList = append(errList, err)
		}
	}
	if a.AnalysisWorker != nil {
		a.AnalysisWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			errList = append(errList, err)
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				errList = append(errList, err)
			}
		}
	}
	return errors.Join(errList...)
}
