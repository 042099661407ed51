package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/policy-graphrag/backend/internal/metrics"
	"github.com/policy-graphrag/backend/internal/models"
	"github.com/policy-graphrag/backend/pkg/logger"
)

// GraphSearcher runs the graph query for an analysed question.
type GraphSearcher interface {
	Query(ctx context.Context, analysis models.QueryAnalysisResult) *models.GraphQueryResult
}

// VectorSearcher finds clauses semantically close to a question.
type VectorSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]models.VectorSearchResult, error)
}

type Config struct {
	Fusion       FusionMethod
	RRFK         int
	GraphWeight  float64
	VectorWeight float64
	Rerank       RerankConfig
}

func DefaultConfig() Config {
	return Config{
		Fusion:       FusionRRF,
		RRFK:         DefaultRRFK,
		GraphWeight:  0.6,
		VectorWeight: 0.4,
		Rerank:       DefaultRerankConfig(),
	}
}

var (
	errGraphNotConfigured  = errors.New("graph search not configured")
	errVectorNotConfigured = errors.New("vector search not configured")
)

// HybridSearchEngine combines graph traversal with clause vector search.
type HybridSearchEngine struct {
	graph  GraphSearcher
	vector VectorSearcher
	cfg    Config
}

// NewHybridSearchEngine wires both retrieval paths. Either may be nil, in
// which case strategies using it report it as failed.
func NewHybridSearchEngine(graph GraphSearcher, vector VectorSearcher, cfg Config) *HybridSearchEngine {
	if cfg.RRFK <= 0 {
		cfg.RRFK = DefaultRRFK
	}
	if cfg.Fusion == "" {
		cfg.Fusion = FusionRRF
	}
	return &HybridSearchEngine{graph: graph, vector: vector, cfg: cfg}
}

// Search runs the sub-searches the strategy calls for concurrently and fuses
// whatever succeeded. Sub-search failures are listed in the response's
// Errors; the call itself never fails.
func (h *HybridSearchEngine) Search(ctx context.Context, query string, analysis models.QueryAnalysisResult, topK int, strategy models.SearchStrategy) models.SearchResponse {
	start := time.Now()
	if !strategy.Valid() {
		strategy = models.StrategyHybrid
	}
	resp := models.EmptySearchResponse(query, strategy)
	if topK <= 0 {
		resp.Took = time.Since(start)
		return resp
	}

	var (
		graphRes  *models.GraphQueryResult
		graphErr  error
		vectorRes []models.VectorSearchResult
		vectorErr error
	)

	var g errgroup.Group
	if strategy.UsesGraph() {
		g.Go(func() error {
			graphRes, graphErr = h.searchGraph(ctx, analysis)
			return graphErr
		})
	}
	if strategy.UsesVector() {
		g.Go(func() error {
			vectorRes, vectorErr = h.searchVector(ctx, query, topK)
			return vectorErr
		})
	}
	_ = g.Wait()

	var lists []RankedList
	if strategy.UsesGraph() {
		if graphErr != nil {
			resp.Errors = append(resp.Errors, "graph: "+graphErr.Error())
			logger.Warn("Graph sub-search failed", zap.Error(graphErr))
		} else {
			lists = append(lists, RankedList{Source: models.SourceGraph, Weight: h.cfg.GraphWeight, Results: FromGraph(graphRes)})
		}
		resp.Graph = graphRes
	}
	if strategy.UsesVector() {
		if vectorErr != nil {
			resp.Errors = append(resp.Errors, "vector: "+vectorErr.Error())
			logger.Warn("Vector sub-search failed", zap.Error(vectorErr))
		} else {
			lists = append(lists, RankedList{Source: models.SourceVector, Weight: h.cfg.VectorWeight, Results: FromVector(vectorRes)})
		}
	}

	for _, l := range lists {
		metrics.SearchResultsCount.WithLabelValues(string(l.Source)).Observe(float64(len(l.Results)))
	}

	results := h.fuse(strategy, lists)
	if strategy == models.StrategyReranked {
		results = Rerank(results, query, analysis.Entities, h.cfg.Rerank)
		resp.Reranked = true
	}
	metrics.SearchResultsCount.WithLabelValues(string(models.SourceHybrid)).Observe(float64(len(results)))

	resp.TotalCount = len(results)
	if len(results) > topK {
		results = results[:topK]
	}
	resp.Results = results
	resp.Took = time.Since(start)

	logger.Debug("Search completed",
		zap.String("strategy", string(strategy)),
		zap.Int("results", len(resp.Results)),
		zap.Int("total", resp.TotalCount),
		zap.Strings("errors", resp.Errors),
		zap.Duration("took", resp.Took),
	)
	return resp
}

func (h *HybridSearchEngine) searchGraph(ctx context.Context, analysis models.QueryAnalysisResult) (*models.GraphQueryResult, error) {
	if h.graph == nil {
		return nil, errGraphNotConfigured
	}
	res := h.graph.Query(ctx, analysis)
	if res == nil {
		return nil, errGraphNotConfigured
	}
	if !res.Success {
		if res.Error != nil {
			return res, res.Error
		}
		return res, fmt.Errorf("%w: query failed", models.ErrGraphUnavailable)
	}
	return res, nil
}

func (h *HybridSearchEngine) searchVector(ctx context.Context, query string, topK int) ([]models.VectorSearchResult, error) {
	if h.vector == nil {
		return nil, errVectorNotConfigured
	}
	return h.vector.Search(ctx, query, topK)
}

func (h *HybridSearchEngine) fuse(strategy models.SearchStrategy, lists []RankedList) []models.SearchResult {
	if len(lists) == 0 {
		return []models.SearchResult{}
	}
	if strategy == models.StrategyGraphOnly || strategy == models.StrategyVectorOnly {
		return lists[0].Results
	}
	if h.cfg.Fusion == FusionWeighted {
		return WeightedFusion(lists...)
	}
	return ReciprocalRankFusion(h.cfg.RRFK, lists...)
}
