package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/policy-graphrag/backend/internal/metrics"
	"github.com/policy-graphrag/backend/internal/models"
	"github.com/policy-graphrag/backend/internal/response"
	"github.com/policy-graphrag/backend/pkg/logger"
	"github.com/policy-graphrag/backend/pkg/utils"
)

const (
	DefaultMaxResults    = 10
	DefaultFallbackText  = "죄송합니다. 지금은 답변을 생성할 수 없습니다. 잠시 후 다시 시도해 주세요."
	fallbackAnalysisConf = 0.3
)

type Analyzer interface {
	AnalyzeWithHistory(ctx context.Context, query string, history []models.ConversationTurn) models.QueryAnalysisResult
}

type Searcher interface {
	Search(ctx context.Context, query string, analysis models.QueryAnalysisResult, topK int, strategy models.SearchStrategy) models.SearchResponse
}

type Generator interface {
	Generate(query string, intent models.Intent, results []models.SearchResult, opts response.Options) (*models.GeneratedResponse, error)
}

// ResponseCache stores whole pipeline answers. Implementations must be safe
// for concurrent use.
type ResponseCache interface {
	Get(ctx context.Context, key string) (*models.CacheEntry, bool)
	Set(ctx context.Context, entry *models.CacheEntry)
	Stats(ctx context.Context) models.CacheStats
}

type Config struct {
	Strategies      map[Strategy]StrategyConfig
	DefaultStrategy Strategy
	FallbackText    string
}

func DefaultConfig() Config {
	return Config{
		Strategies:      DefaultStrategies(),
		DefaultStrategy: StrategyStandard,
		FallbackText:    DefaultFallbackText,
	}
}

// Request is one question. SearchStrategy, when set, overrides the search
// mode of Strategy.
type Request struct {
	Query               string                    `json:"query"`
	UserID              string                    `json:"user_id,omitempty"`
	SessionID           string                    `json:"session_id,omitempty"`
	Strategy            Strategy                  `json:"strategy,omitempty"`
	SearchStrategy      models.SearchStrategy     `json:"search_strategy,omitempty"`
	UseCache            bool                      `json:"use_cache"`
	IncludeCitations    bool                      `json:"include_citations"`
	IncludeFollowUps    bool                      `json:"include_follow_ups"`
	IncludeIntermediate bool                      `json:"include_intermediate"`
	MaxSearchResults    int                       `json:"max_search_results"`
	History             []models.ConversationTurn `json:"history,omitempty"`
}

// NewRequest returns a request with the default options.
func NewRequest(query string) Request {
	return Request{
		Query:            query,
		Strategy:         StrategyStandard,
		UseCache:         true,
		IncludeCitations: true,
		IncludeFollowUps: true,
		MaxSearchResults: DefaultMaxResults,
	}
}

// Response always carries a non-empty answer, even when Success is false.
type Response struct {
	RequestID string                      `json:"request_id"`
	Query     string                      `json:"query"`
	Response  *models.GeneratedResponse   `json:"response"`
	Analysis  *models.QueryAnalysisResult `json:"analysis,omitempty"`
	Search    *models.SearchResponse      `json:"search,omitempty"`
	Strategy  Strategy                    `json:"strategy"`
	State     State                       `json:"state"`
	Success   bool                        `json:"success"`
	Errors    []string                    `json:"errors"`
	Metrics   OrchestrationMetrics        `json:"metrics"`
	CacheHit  bool                        `json:"cache_hit"`
	// FailedStage is the last stage that entered FAILED before its fallback
	// was substituted.
	FailedStage Stage `json:"failed_stage,omitempty"`
}

type Orchestrator struct {
	analyzer  Analyzer
	searcher  Searcher
	generator Generator
	cache     ResponseCache
	cfg       Config
}

// New wires the pipeline. cache may be nil to disable caching.
func New(analyzer Analyzer, searcher Searcher, generator Generator, cache ResponseCache, cfg Config) *Orchestrator {
	if cfg.Strategies == nil {
		cfg.Strategies = DefaultStrategies()
	}
	if _, ok := cfg.Strategies[cfg.DefaultStrategy]; !ok {
		cfg.DefaultStrategy = StrategyStandard
	}
	if strings.TrimSpace(cfg.FallbackText) == "" {
		cfg.FallbackText = DefaultFallbackText
	}
	return &Orchestrator{
		analyzer:  analyzer,
		searcher:  searcher,
		generator: generator,
		cache:     cache,
		cfg:       cfg,
	}
}

func (o *Orchestrator) CacheStats(ctx context.Context) (models.CacheStats, bool) {
	if o.cache == nil {
		return models.CacheStats{}, false
	}
	return o.cache.Stats(ctx), true
}

// Process runs the pipeline for one request. It never fails: every stage
// error is replaced by that stage's fallback and reported in Errors.
func (o *Orchestrator) Process(ctx context.Context, req Request) *Response {
	start := time.Now()
	strategy := req.Strategy
	if strategy == "" {
		strategy = o.cfg.DefaultStrategy
	}
	if req.MaxSearchResults <= 0 {
		req.MaxSearchResults = DefaultMaxResults
	}

	resp := &Response{
		RequestID: uuid.New().String(),
		Query:     req.Query,
		Strategy:  strategy,
		State:     StateStarted,
		Success:   true,
		Errors:    []string{},
		Metrics:   OrchestrationMetrics{Stages: []StageMetrics{}},
	}
	log := logger.GetLogger().With(zap.String("request_id", resp.RequestID))
	log.Info("Processing query",
		zap.String("query", req.Query),
		zap.String("strategy", string(strategy)),
		zap.String("user_id", req.UserID),
	)

	sc, known := o.cfg.Strategies[strategy]
	if strategy == StrategyFallback || !known {
		if !known && strategy != StrategyFallback {
			resp.Errors = append(resp.Errors, fmt.Sprintf("unknown strategy %q", strategy))
			resp.Success = false
		}
		resp.Response = models.FallbackResponse(o.cfg.FallbackText)
		return o.finish(resp, req, start, log)
	}

	searchStrategy := sc.SearchStrategy
	if req.SearchStrategy.Valid() {
		searchStrategy = req.SearchStrategy
	}

	// History can change intent and entities, so it is analysed before the
	// lookup and the carried-over parts become part of the key.
	var analysis models.QueryAnalysisResult
	analyzed := len(req.History) > 0
	scope := cacheScope(strategy, searchStrategy, nil)
	if analyzed {
		analysis = o.analysisStage(ctx, resp, req, sc)
		scope = cacheScope(strategy, searchStrategy, &analysis)
	}

	cacheKey := utils.ResponseCacheKey(req.Query, scope, req.MaxSearchResults)
	if req.UseCache && o.cache != nil && resp.Success {
		lookupStart := time.Now()
		entry, ok := o.cache.Get(ctx, cacheKey)
		lookup := StageMetrics{Stage: StageCacheLookup, StartTime: lookupStart, EndTime: time.Now(), Success: true}
		lookup.Duration = lookup.EndTime.Sub(lookupStart)
		resp.Metrics.Stages = append(resp.Metrics.Stages, lookup)
		if ok && entry.Response != nil {
			metrics.CacheHits.WithLabelValues("response").Inc()
			resp.CacheHit = true
			resp.Response = entry.Response.Clone()
			log.Debug("Response cache hit", zap.Int64("hits", entry.HitCount))
			return o.finish(resp, req, start, log)
		}
		metrics.CacheMisses.WithLabelValues("response").Inc()
	}

	if !analyzed {
		analysis = o.analysisStage(ctx, resp, req, sc)
	}
	searchResp := o.searchStage(ctx, resp, req, sc, analysis, searchStrategy)
	generated := o.generationStage(ctx, resp, req, sc, analysis, searchResp)
	resp.Response = generated

	if req.IncludeIntermediate {
		resp.Analysis = &analysis
		resp.Search = &searchResp
	}

	if resp.Success && req.UseCache && o.cache != nil {
		now := time.Now()
		o.cache.Set(ctx, &models.CacheEntry{
			Key:          cacheKey,
			Intent:       analysis.Intent,
			Response:     generated.Clone(),
			CreatedAt:    now,
			LastAccessed: now,
		})
	}
	return o.finish(resp, req, start, log)
}

// cacheScope folds every request input other than the query text that
// changes the answer into one key component. analysis is nil when no
// history was supplied.
func cacheScope(strategy Strategy, searchStrategy models.SearchStrategy, analysis *models.QueryAnalysisResult) string {
	scope := string(strategy) + "/" + string(searchStrategy)
	if analysis == nil {
		return scope
	}
	var inherited []string
	for _, e := range analysis.Entities {
		if e.Inherited {
			inherited = append(inherited, string(e.Kind)+":"+e.Name())
		}
	}
	sort.Strings(inherited)
	return scope + "/" + string(analysis.Intent) + "/" + strings.Join(inherited, ",")
}

func (o *Orchestrator) fail(resp *Response, stage Stage, err error, fellBack bool) {
	logger.Debug("Stage failed",
		zap.String("request_id", resp.RequestID),
		zap.String("stage", string(stage)),
		zap.String("state", string(StateFailed)),
		zap.Bool("fallback", fellBack),
	)
	resp.Success = false
	resp.FailedStage = stage
	resp.Errors = append(resp.Errors, fmt.Sprintf("%s: %v", strings.ToLower(string(stage)), err))
	if fellBack {
		metrics.FallbackTotal.WithLabelValues(string(stage)).Inc()
		last := &resp.Metrics.Stages[len(resp.Metrics.Stages)-1]
		last.FellBack = true
	}
}

func (o *Orchestrator) analysisStage(ctx context.Context, resp *Response, req Request, sc StrategyConfig) models.QueryAnalysisResult {
	analysis, m, err := runStage(ctx, resp.RequestID, StageAnalysis, sc.AnalysisTimeout,
		func(ctx context.Context) (models.QueryAnalysisResult, error) {
			return o.analyzer.AnalyzeWithHistory(ctx, req.Query, req.History), nil
		})
	resp.Metrics.Stages = append(resp.Metrics.Stages, m)
	if err != nil {
		logger.Warn("Analysis failed, using fallback", zap.String("request_id", resp.RequestID), zap.Error(err))
		o.fail(resp, StageAnalysis, err, true)
		return models.FallbackAnalysis(req.Query, fallbackAnalysisConf)
	}
	return analysis
}

func (o *Orchestrator) searchStage(ctx context.Context, resp *Response, req Request, sc StrategyConfig, analysis models.QueryAnalysisResult, searchStrategy models.SearchStrategy) models.SearchResponse {
	topK := sc.ResultCount(req.MaxSearchResults)

	result, m, err := runStage(ctx, resp.RequestID, StageSearch, sc.SearchTimeout,
		func(ctx context.Context) (models.SearchResponse, error) {
			if strings.TrimSpace(req.Query) == "" {
				return models.EmptySearchResponse(req.Query, searchStrategy), nil
			}
			return o.searcher.Search(ctx, req.Query, analysis, topK, searchStrategy), nil
		})
	if err == nil && len(result.Errors) > 0 {
		m.Success = false
		m.Error = strings.Join(result.Errors, "; ")
	}
	resp.Metrics.Stages = append(resp.Metrics.Stages, m)

	if err != nil {
		logger.Warn("Search failed, using fallback", zap.String("request_id", resp.RequestID), zap.Error(err))
		o.fail(resp, StageSearch, err, true)
		return models.EmptySearchResponse(req.Query, searchStrategy)
	}
	for _, e := range result.Errors {
		o.fail(resp, StageSearch, fmt.Errorf("%s", e), false)
	}
	if result.Results == nil {
		result.Results = []models.SearchResult{}
	}
	return result
}

func (o *Orchestrator) generationStage(ctx context.Context, resp *Response, req Request, sc StrategyConfig, analysis models.QueryAnalysisResult, searchResp models.SearchResponse) *models.GeneratedResponse {
	generated, m, err := runStage(ctx, resp.RequestID, StageGeneration, sc.GenerationTimeout,
		func(ctx context.Context) (*models.GeneratedResponse, error) {
			return o.generator.Generate(req.Query, analysis.Intent, searchResp.Results, response.Options{
				Entities: analysis.Entities,
				MaxItems: req.MaxSearchResults,
			})
		})
	if err == nil && (generated == nil || strings.TrimSpace(generated.Answer) == "") {
		err = fmt.Errorf("generator returned an empty answer")
		m.Success = false
		m.Error = err.Error()
	}
	resp.Metrics.Stages = append(resp.Metrics.Stages, m)

	if err != nil {
		logger.Warn("Generation failed, using fallback", zap.String("request_id", resp.RequestID), zap.Error(err))
		o.fail(resp, StageGeneration, err, true)
		return models.FallbackResponse(o.cfg.FallbackText)
	}
	return generated
}

// finish applies output options and records request metrics.
func (o *Orchestrator) finish(resp *Response, req Request, start time.Time, log *zap.Logger) *Response {
	if resp.Response == nil || strings.TrimSpace(resp.Response.Answer) == "" {
		resp.Response = models.FallbackResponse(o.cfg.FallbackText)
	}
	out := resp.Response.Clone()
	if !req.IncludeCitations {
		out.Citations = []models.Citation{}
	}
	if !req.IncludeFollowUps {
		out.FollowUpSuggestions = []string{}
	}
	resp.Response = out

	resp.State = StateCompleted
	resp.Metrics.TotalDuration = time.Since(start)

	status := "success"
	switch {
	case resp.CacheHit:
		status = "cache_hit"
	case !resp.Success:
		status = "degraded"
	}
	metrics.QueryTotal.WithLabelValues(string(resp.Strategy), status).Inc()
	metrics.QueryDuration.WithLabelValues(string(resp.Strategy)).Observe(resp.Metrics.TotalDuration.Seconds())
	metrics.ConfidenceScore.Observe(resp.Response.ConfidenceScore)

	log.Info("Query processed",
		zap.String("status", status),
		zap.Bool("cache_hit", resp.CacheHit),
		zap.String("format", string(resp.Response.Format)),
		zap.Float64("confidence", resp.Response.ConfidenceScore),
		zap.Strings("errors", resp.Errors),
		zap.Duration("duration", resp.Metrics.TotalDuration),
	)
	return resp
}
