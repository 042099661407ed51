package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policy-graphrag/backend/internal/analyzer"
	"github.com/policy-graphrag/backend/internal/cache/memory"
	"github.com/policy-graphrag/backend/internal/kg/query"
	"github.com/policy-graphrag/backend/internal/models"
	"github.com/policy-graphrag/backend/internal/response"
	"github.com/policy-graphrag/backend/internal/search"
)

type fakeStore struct {
	mu    sync.Mutex
	rows  []map[string]any
	err   error
	calls int
}

func (f *fakeStore) Run(_ context.Context, _ string, _ map[string]any) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

type fakeVector struct {
	hits []models.VectorSearchResult
	err  error
}

func (f *fakeVector) Search(_ context.Context, _ string, _ int) ([]models.VectorSearchResult, error) {
	return f.hits, f.err
}

type pipeline struct {
	orch  *Orchestrator
	store *fakeStore
	cache *memory.LRU
}

func newPipeline(store *fakeStore, vector search.VectorSearcher, cfg Config) pipeline {
	cache := memory.NewLRU(100, time.Hour)
	hybrid := search.NewHybridSearchEngine(query.NewExecutor(store, query.DefaultConfig()), vector, search.DefaultConfig())
	orch := New(analyzer.NewAnalyzer(analyzer.DefaultConfig()), hybrid, response.NewGenerator(nil), cache, cfg)
	return pipeline{orch: orch, store: store, cache: cache}
}

func coverageRows() []map[string]any {
	return []map[string]any{
		{"id": "cov-1", "coverage": "진단비", "amount": int64(50000000), "disease": "급성심근경색증"},
		{"id": "cov-2", "coverage": "입원비", "amount": int64(1000000), "disease": "급성심근경색증"},
	}
}

func TestProcess_CoverageAmountTable(t *testing.T) {
	p := newPipeline(&fakeStore{rows: coverageRows()}, &fakeVector{}, DefaultConfig())

	resp := p.orch.Process(context.Background(), NewRequest("급성심근경색증 보장 금액은?"))

	require.NotNil(t, resp.Response)
	assert.True(t, resp.Success, resp.Errors)
	assert.False(t, resp.CacheHit)
	assert.Equal(t, StateCompleted, resp.State)
	assert.Empty(t, resp.FailedStage)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, models.FormatTable, resp.Response.Format)
	assert.Contains(t, resp.Response.Answer, "진단비")
	assert.Contains(t, resp.Response.Answer, "입원비")
	assert.Contains(t, resp.Response.Answer, "51000000")
	assert.LessOrEqual(t, len(resp.Response.Citations), models.MaxCitations)
	assert.NotEmpty(t, resp.Response.Citations)

	stages := map[Stage]bool{}
	for _, m := range resp.Metrics.Stages {
		stages[m.Stage] = m.Success
	}
	assert.True(t, stages[StageAnalysis])
	assert.True(t, stages[StageSearch])
	assert.True(t, stages[StageGeneration])
}

func TestProcess_CacheHitIsIdempotent(t *testing.T) {
	store := &fakeStore{rows: coverageRows()}
	p := newPipeline(store, &fakeVector{}, DefaultConfig())
	req := NewRequest("급성심근경색증 보장 금액은?")

	first := p.orch.Process(context.Background(), req)
	second := p.orch.Process(context.Background(), req)

	assert.False(t, first.CacheHit)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Response.Answer, second.Response.Answer)
	assert.Equal(t, first.Response.Format, second.Response.Format)
	assert.Equal(t, first.Response.Citations, second.Response.Citations)
	assert.Equal(t, 1, store.calls)
	require.Len(t, second.Metrics.Stages, 1)
	assert.Equal(t, StageCacheLookup, second.Metrics.Stages[0].Stage)

	// Whitespace and case differences share the entry.
	third := p.orch.Process(context.Background(), NewRequest("  급성심근경색증   보장 금액은? "))
	assert.True(t, third.CacheHit)

	stats, ok := p.orch.CacheStats(context.Background())
	require.True(t, ok)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, int64(2), stats.Hits)
}

func TestProcess_SearchStrategyOverrideIsCachedSeparately(t *testing.T) {
	store := &fakeStore{rows: coverageRows()}
	vector := &fakeVector{hits: []models.VectorSearchResult{
		{NodeID: "cl-3", Similarity: 0.82, Text: "제3조 급성심근경색증으로 진단 확정된 경우 진단비를 지급합니다.", ArticleRef: "제3조"},
	}}
	p := newPipeline(store, vector, DefaultConfig())

	hybrid := p.orch.Process(context.Background(), NewRequest("급성심근경색증 보장 금액은?"))
	require.True(t, hybrid.Success, hybrid.Errors)
	assert.Equal(t, models.FormatTable, hybrid.Response.Format)

	req := NewRequest("급성심근경색증 보장 금액은?")
	req.SearchStrategy = models.StrategyVectorOnly
	req.IncludeIntermediate = true
	vectorOnly := p.orch.Process(context.Background(), req)
	assert.False(t, vectorOnly.CacheHit)
	assert.True(t, vectorOnly.Success, vectorOnly.Errors)
	assert.Equal(t, models.FormatText, vectorOnly.Response.Format)
	assert.Contains(t, vectorOnly.Response.Answer, "제3조")
	require.NotNil(t, vectorOnly.Search)
	assert.Equal(t, models.StrategyVectorOnly, vectorOnly.Search.Strategy)
	assert.Equal(t, 1, store.calls, "vector-only search skips the graph")

	again := p.orch.Process(context.Background(), req)
	assert.True(t, again.CacheHit)
	assert.Equal(t, vectorOnly.Response.Answer, again.Response.Answer)

	stats, _ := p.orch.CacheStats(context.Background())
	assert.Equal(t, 2, stats.Size)
}

func TestProcess_HistoryScopesCache(t *testing.T) {
	store := &fakeStore{rows: coverageRows()}
	p := newPipeline(store, &fakeVector{}, DefaultConfig())
	followUp := func(previous string) Request {
		req := NewRequest("보장 금액은?")
		req.History = []models.ConversationTurn{{Query: previous}}
		return req
	}

	stomach := p.orch.Process(context.Background(), followUp("위암 보장되나요?"))
	require.True(t, stomach.Success, stomach.Errors)
	assert.False(t, stomach.CacheHit)
	assert.Contains(t, stomach.Response.Answer, "위암")

	liver := p.orch.Process(context.Background(), followUp("간암 보장되나요?"))
	assert.False(t, liver.CacheHit)
	assert.Contains(t, liver.Response.Answer, "간암")
	assert.NotContains(t, liver.Response.Answer, "위암")
	assert.Equal(t, 2, store.calls)

	repeat := p.orch.Process(context.Background(), followUp("간암 보장되나요?"))
	assert.True(t, repeat.CacheHit)
	assert.Equal(t, liver.Response.Answer, repeat.Response.Answer)
	assert.Equal(t, 2, store.calls)

	bare := p.orch.Process(context.Background(), NewRequest("보장 금액은?"))
	assert.False(t, bare.CacheHit)
}

func TestCacheScope(t *testing.T) {
	plain := cacheScope(StrategyStandard, models.StrategyHybrid, nil)
	assert.NotEqual(t, plain, cacheScope(StrategyStandard, models.StrategyVectorOnly, nil))
	assert.NotEqual(t, plain, cacheScope(StrategyFast, models.StrategyHybrid, nil))

	inherited := func(names ...string) *models.QueryAnalysisResult {
		a := &models.QueryAnalysisResult{Intent: models.IntentCoverageAmount}
		for _, n := range names {
			a.Entities = append(a.Entities, models.ExtractedEntity{Kind: models.EntityDisease, Text: n, Normalized: n, Inherited: true})
		}
		return a
	}
	assert.NotEqual(t,
		cacheScope(StrategyStandard, models.StrategyHybrid, inherited("위암")),
		cacheScope(StrategyStandard, models.StrategyHybrid, inherited("간암")))
	assert.Equal(t,
		cacheScope(StrategyStandard, models.StrategyHybrid, inherited("위암", "간암")),
		cacheScope(StrategyStandard, models.StrategyHybrid, inherited("간암", "위암")))

	intentOnly := inherited()
	intentOnly.Intent = models.IntentExclusionCheck
	assert.NotEqual(t,
		cacheScope(StrategyStandard, models.StrategyHybrid, inherited()),
		cacheScope(StrategyStandard, models.StrategyHybrid, intentOnly))
}

func TestProcess_IncludeFlagsAppliedOnOutput(t *testing.T) {
	p := newPipeline(&fakeStore{rows: coverageRows()}, &fakeVector{}, DefaultConfig())
	req := NewRequest("급성심근경색증 보장 금액은?")
	req.IncludeCitations = false
	req.IncludeFollowUps = false

	bare := p.orch.Process(context.Background(), req)
	assert.Empty(t, bare.Response.Citations)
	assert.Empty(t, bare.Response.FollowUpSuggestions)

	full := p.orch.Process(context.Background(), NewRequest("급성심근경색증 보장 금액은?"))
	assert.True(t, full.CacheHit)
	assert.NotEmpty(t, full.Response.Citations)
	assert.NotEmpty(t, full.Response.FollowUpSuggestions)
}

func TestProcess_DiseaseComparison(t *testing.T) {
	store := &fakeStore{rows: []map[string]any{
		{"item": "폐암", "id": "d-b", "associated": []any{"X", "W"}},
		{"item": "위암", "id": "d-a", "associated": []any{"X", "Y", "Z"}},
	}}
	p := newPipeline(store, &fakeVector{}, DefaultConfig())
	req := NewRequest("위암과 폐암 보장 비교")
	req.IncludeIntermediate = true

	resp := p.orch.Process(context.Background(), req)
	require.NotNil(t, resp.Analysis)
	assert.Equal(t, models.IntentDiseaseComparison, resp.Analysis.Intent)
	assert.True(t, resp.Success, resp.Errors)
	assert.Equal(t, models.FormatComparison, resp.Response.Format)

	cmp := resp.Response.Comparison
	require.NotNil(t, cmp)
	assert.Equal(t, "위암", cmp.Item1)
	assert.Equal(t, "폐암", cmp.Item2)
	assert.Equal(t, []string{"X"}, cmp.Similarities)
	assert.Equal(t, []string{"Y", "Z"}, cmp.OnlyItem1)
	assert.Equal(t, []string{"W"}, cmp.OnlyItem2)

	require.NotNil(t, resp.Search)
	require.NotNil(t, resp.Search.Graph)
	assert.Equal(t, *cmp, *resp.Search.Graph.Comparison)
}

func TestProcess_GraphFailureFallsBackToVector(t *testing.T) {
	store := &fakeStore{err: errors.New("dial tcp 127.0.0.1:7687: connection refused")}
	vector := &fakeVector{hits: []models.VectorSearchResult{
		{NodeID: "cl-3", Similarity: 0.82, Text: "제3조 급성심근경색증으로 진단 확정된 경우 진단비를 지급합니다.", ArticleRef: "제3조"},
	}}
	p := newPipeline(store, vector, DefaultConfig())

	resp := p.orch.Process(context.Background(), NewRequest("급성심근경색증 보장 금액은?"))

	assert.False(t, resp.Success)
	require.NotEmpty(t, resp.Errors)
	assert.Contains(t, resp.Errors[0], "graph")
	assert.Equal(t, models.FormatText, resp.Response.Format)
	assert.Contains(t, resp.Response.Answer, "제3조")
	require.Len(t, resp.Response.Citations, 1)
	assert.Equal(t, "cl-3", resp.Response.Citations[0].SourceID)

	stats, _ := p.orch.CacheStats(context.Background())
	assert.Equal(t, 0, stats.Size, "degraded runs are not cached")
}

func TestProcess_AllDependenciesFail(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	p := newPipeline(store, &fakeVector{err: models.ErrVectorUnavailable}, DefaultConfig())

	resp := p.orch.Process(context.Background(), NewRequest("급성심근경색증 보장 금액은?"))
	assert.False(t, resp.Success)
	assert.Len(t, resp.Errors, 2)
	assert.Equal(t, models.FormatText, resp.Response.Format)
	assert.NotEmpty(t, resp.Response.Answer)
}

func TestProcess_EmptyQuery(t *testing.T) {
	store := &fakeStore{rows: coverageRows()}
	p := newPipeline(store, &fakeVector{err: errors.New("must not be called")}, DefaultConfig())
	req := NewRequest("")
	req.IncludeIntermediate = true

	resp := p.orch.Process(context.Background(), req)
	require.NotNil(t, resp.Analysis)
	assert.Equal(t, models.IntentGeneralInfo, resp.Analysis.Intent)
	assert.LessOrEqual(t, resp.Analysis.IntentConfidence, 0.3)
	assert.Empty(t, resp.Analysis.Entities)
	assert.NotEmpty(t, resp.Response.Answer)
	assert.Equal(t, StateCompleted, resp.State)
	assert.Equal(t, 0, store.calls)
}

func TestProcess_NeverEmptyAnswer(t *testing.T) {
	queries := []string{"", "   ", "!!!", "존재하지않는질병 보장?", "급성심근경색증 보장 금액은?"}
	p := newPipeline(&fakeStore{err: errors.New("boom")}, &fakeVector{err: errors.New("boom")}, DefaultConfig())
	for _, q := range queries {
		resp := p.orch.Process(context.Background(), NewRequest(q))
		assert.NotEmpty(t, resp.Response.Answer, q)
	}
}

type blockingSearcher struct{}

func (blockingSearcher) Search(ctx context.Context, query string, _ models.QueryAnalysisResult, _ int, strategy models.SearchStrategy) models.SearchResponse {
	<-ctx.Done()
	return models.EmptySearchResponse(query, strategy)
}

type panickingGenerator struct{}

func (panickingGenerator) Generate(string, models.Intent, []models.SearchResult, response.Options) (*models.GeneratedResponse, error) {
	panic("template exploded")
}

func fastConfig() Config {
	cfg := DefaultConfig()
	sc := cfg.Strategies[StrategyStandard]
	sc.SearchTimeout = 20 * time.Millisecond
	cfg.Strategies[StrategyStandard] = sc
	return cfg
}

func TestProcess_SearchTimeoutUsesFallback(t *testing.T) {
	orch := New(analyzer.NewAnalyzer(analyzer.DefaultConfig()), blockingSearcher{}, response.NewGenerator(nil), nil, fastConfig())

	resp := orch.Process(context.Background(), NewRequest("급성심근경색증 보장 금액은?"))
	assert.False(t, resp.Success)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0], "timeout")
	assert.NotEmpty(t, resp.Response.Answer)
	assert.Equal(t, response.TemplateNoResults, resp.Response.TemplateID)
	assert.Equal(t, StateCompleted, resp.State)
	assert.Equal(t, StageSearch, resp.FailedStage)

	var search StageMetrics
	for _, m := range resp.Metrics.Stages {
		if m.Stage == StageSearch {
			search = m
		}
	}
	assert.False(t, search.Success)
	assert.True(t, search.FellBack)
	assert.Less(t, search.Duration, time.Second)
}

func TestProcess_GenerationPanicUsesFallback(t *testing.T) {
	cfg := fastConfig()
	cfg.FallbackText = "fallback answer"
	cache := memory.NewLRU(10, time.Hour)
	orch := New(analyzer.NewAnalyzer(analyzer.DefaultConfig()), blockingSearcher{}, panickingGenerator{}, cache, cfg)

	resp := orch.Process(context.Background(), NewRequest("암 보장"))
	assert.False(t, resp.Success)
	assert.Equal(t, "fallback answer", resp.Response.Answer)
	assert.Equal(t, 0.0, resp.Response.ConfidenceScore)
	assert.Contains(t, resp.Errors[len(resp.Errors)-1], "panic")
	assert.Equal(t, StageGeneration, resp.FailedStage)
	assert.Equal(t, 0, cache.Len())
}

func TestProcess_FallbackStrategy(t *testing.T) {
	store := &fakeStore{rows: coverageRows()}
	p := newPipeline(store, &fakeVector{}, DefaultConfig())
	req := NewRequest("급성심근경색증 보장 금액은?")
	req.Strategy = StrategyFallback

	resp := p.orch.Process(context.Background(), req)
	assert.Equal(t, DefaultFallbackText, resp.Response.Answer)
	assert.Empty(t, resp.Metrics.Stages)
	assert.Equal(t, 0, store.calls)
}

func TestProcess_UnknownStrategy(t *testing.T) {
	p := newPipeline(&fakeStore{}, &fakeVector{}, DefaultConfig())
	req := NewRequest("q")
	req.Strategy = "TURBO"

	resp := p.orch.Process(context.Background(), req)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Response.Answer)
}

func TestProcess_ConcurrentRequests(t *testing.T) {
	p := newPipeline(&fakeStore{rows: coverageRows()}, &fakeVector{}, DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := p.orch.Process(context.Background(), NewRequest("급성심근경색증 보장 금액은?"))
			assert.Contains(t, resp.Response.Answer, "51000000")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, p.cache.Len())
}

func TestStrategyConfig_ResultCount(t *testing.T) {
	s := DefaultStrategies()
	assert.Equal(t, 10, s[StrategyStandard].ResultCount(10))
	assert.Equal(t, 5, s[StrategyFast].ResultCount(10))
	assert.Equal(t, 20, s[StrategyComprehensive].ResultCount(5))
	assert.Equal(t, 30, s[StrategyComprehensive].ResultCount(15))
	assert.Equal(t, 50, s[StrategyComprehensive].ResultCount(40))

	st, ok := ParseStrategy("fast")
	assert.True(t, ok)
	assert.Equal(t, StrategyFast, st)
	_, ok = ParseStrategy("turbo")
	assert.False(t, ok)
}
