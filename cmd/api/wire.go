package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/policy-graphrag/backend/internal/analyzer"
	"github.com/policy-graphrag/backend/internal/api/handlers"
	"github.com/policy-graphrag/backend/internal/cache/memory"
	rediscache "github.com/policy-graphrag/backend/internal/cache/redis"
	kgneo4j "github.com/policy-graphrag/backend/internal/kg/neo4j"
	"github.com/policy-graphrag/backend/internal/kg/query"
	"github.com/policy-graphrag/backend/internal/llm"
	"github.com/policy-graphrag/backend/internal/orchestrator"
	"github.com/policy-graphrag/backend/internal/response"
	"github.com/policy-graphrag/backend/internal/search"
	"github.com/policy-graphrag/backend/internal/vector/zilliz"
	"github.com/policy-graphrag/backend/pkg/config"
	appLogger "github.com/policy-graphrag/backend/pkg/logger"
)

// pipeline is the wired query engine plus what the server needs around it.
type pipeline struct {
	orchestrator *orchestrator.Orchestrator
	checks       map[string]handlers.HealthCheck
	closers      []func()
	// budget is the longest total stage budget across strategies.
	budget time.Duration
}

func (p *pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

// buildPipeline connects every dependency it can. An unreachable graph store,
// vector index or cache is logged and left out; the pipeline then degrades per
// request instead of refusing to start.
func buildPipeline(ctx context.Context, cfg *config.Config) *pipeline {
	p := &pipeline{checks: map[string]handlers.HealthCheck{}}

	var graph search.GraphSearcher
	var neo4jClient *kgneo4j.Client
	client, err := newNeo4jClient(cfg)
	if err != nil {
		appLogger.Warn("Neo4j unavailable, graph search disabled", zap.Error(err))
	} else {
		neo4jClient = client
		graph = query.NewExecutor(client, query.Config{Limit: cfg.Search.GraphLimit})
		p.checks["neo4j"] = client.Ping
		p.closers = append(p.closers, func() { _ = client.Close(context.Background()) })
	}

	var redisClient *rediscache.Client
	if cfg.Cache.Backend == config.CacheBackendRedis || cfg.Embedding.UseRedis {
		rc, err := rediscache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, cfg.Cache.TTL)
		if err != nil {
			appLogger.Warn("Redis unavailable", zap.Error(err))
		} else {
			redisClient = rc
			p.checks["redis"] = rc.Ping
			p.closers = append(p.closers, func() { _ = rc.Close() })
		}
	}

	vector := buildVectorSearch(ctx, cfg, neo4jClient, redisClient, p)

	var cache orchestrator.ResponseCache
	switch cfg.Cache.Backend {
	case config.CacheBackendMemory:
		cache = memory.NewLRU(cfg.Cache.Capacity, cfg.Cache.TTL)
	case config.CacheBackendRedis:
		if redisClient != nil {
			cache = redisClient
		} else {
			appLogger.Warn("Falling back to in-memory response cache")
			cache = memory.NewLRU(cfg.Cache.Capacity, cfg.Cache.TTL)
		}
	}

	hybrid := search.NewHybridSearchEngine(graph, vector, search.Config{
		Fusion:       search.FusionMethod(cfg.Search.Fusion),
		RRFK:         cfg.Search.RRFK,
		GraphWeight:  cfg.Search.GraphWeight,
		VectorWeight: cfg.Search.VectorWeight,
		Rerank:       search.DefaultRerankConfig(),
	})

	a := analyzer.NewAnalyzer(analyzer.Config{
		FuzzyThreshold: cfg.Analyzer.FuzzyThreshold,
		MinFuzzyRunes:  cfg.Analyzer.MinFuzzyRunes,
		HistoryDecay:   cfg.Analyzer.HistoryDecay,
		ExtraDiseases:  cfg.Analyzer.ExtraDiseases,
		ExtraCoverages: cfg.Analyzer.ExtraCoverages,
		ExtraProducts:  cfg.Analyzer.ExtraProducts,
	})

	ocfg := orchestratorConfig(cfg.Orchestrator)
	for _, sc := range ocfg.Strategies {
		if total := sc.AnalysisTimeout + sc.SearchTimeout + sc.GenerationTimeout; total > p.budget {
			p.budget = total
		}
	}
	p.orchestrator = orchestrator.New(a, hybrid, response.NewGenerator(nil), cache, ocfg)

	appLogger.Info("Query pipeline ready",
		zap.Bool("graph", graph != nil),
		zap.Bool("vector", vector != nil),
		zap.String("vector_backend", cfg.Search.VectorBackend),
		zap.String("cache_backend", cfg.Cache.Backend),
	)
	return p
}

func newNeo4jClient(cfg *config.Config) (*kgneo4j.Client, error) {
	return kgneo4j.NewClient(kgneo4j.Config{
		URI:          cfg.Neo4j.URI,
		Username:     cfg.Neo4j.Username,
		Password:     cfg.Neo4j.Password,
		Database:     cfg.Neo4j.Database,
		QueryTimeout: time.Duration(cfg.Neo4j.QueryTimeoutSec) * time.Second,
		VectorIndex:  cfg.Neo4j.VectorIndex,
	})
}

func buildVectorSearch(ctx context.Context, cfg *config.Config, neo4jClient *kgneo4j.Client, redisClient *rediscache.Client, p *pipeline) search.VectorSearcher {
	var index search.VectorIndex
	switch cfg.Search.VectorBackend {
	case config.VectorBackendNone:
		return nil
	case config.VectorBackendZilliz:
		zc, err := zilliz.NewClient(ctx, zilliz.Config{
			Endpoint:       cfg.Zilliz.Endpoint,
			APIKey:         cfg.Zilliz.APIKey,
			CollectionName: cfg.Zilliz.CollectionName,
			VectorDim:      cfg.Zilliz.VectorDim,
			NProbe:         cfg.Zilliz.NProbe,
		})
		if err != nil {
			appLogger.Warn("Zilliz unavailable, vector search disabled", zap.Error(err))
			return nil
		}
		if err := zc.EnsureCollection(ctx); err != nil {
			appLogger.Warn("Zilliz collection not ready", zap.Error(err))
		}
		p.closers = append(p.closers, func() { _ = zc.Close() })
		index = zc
	default:
		if neo4jClient == nil {
			return nil
		}
		index = neo4jClient
	}

	embedClient := llm.NewClient(llm.Config{
		APIKey:            cfg.Embedding.APIKey,
		BaseURL:           cfg.Embedding.BaseURL,
		Model:             cfg.Embedding.Model,
		Dimensions:        cfg.Embedding.Dimensions,
		Timeout:           time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Burst:             cfg.Embedding.Burst,
	})

	var store search.EmbeddingStore
	if cfg.Embedding.UseRedis && redisClient != nil {
		store = redisClient
	}
	embedder := search.NewQueryEmbedder(embedClient, embedClient.Model(), store)
	return search.NewVectorSearchEngine(embedder, index, cfg.Search.MinScore)
}

func orchestratorConfig(c config.OrchestratorConfig) orchestrator.Config {
	strategies := orchestrator.DefaultStrategies()
	apply := func(st orchestrator.Strategy, b config.StageBudgets) {
		sc := strategies[st]
		sc.AnalysisTimeout = b.AnalysisTimeout
		sc.SearchTimeout = b.SearchTimeout
		sc.GenerationTimeout = b.GenerationTimeout
		strategies[st] = sc
	}
	apply(orchestrator.StrategyStandard, c.Standard)
	apply(orchestrator.StrategyFast, c.Fast)
	apply(orchestrator.StrategyComprehensive, c.Comprehensive)

	def, ok := orchestrator.ParseStrategy(c.DefaultStrategy)
	if !ok {
		def = orchestrator.StrategyStandard
	}
	return orchestrator.Config{
		Strategies:      strategies,
		DefaultStrategy: def,
		FallbackText:    c.FallbackText,
	}
}
