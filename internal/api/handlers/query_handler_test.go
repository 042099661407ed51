package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policy-graphrag/backend/internal/middleware/validation"
	"github.com/policy-graphrag/backend/internal/models"
	"github.com/policy-graphrag/backend/internal/orchestrator"
)

type fakeProcessor struct {
	mu   sync.Mutex
	last orchestrator.Request
}

func (f *fakeProcessor) Process(_ context.Context, req orchestrator.Request) *orchestrator.Response {
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	return &orchestrator.Response{
		RequestID: "req-1",
		Query:     req.Query,
		Response:  &models.GeneratedResponse{Answer: "답변", Format: models.FormatText},
		Strategy:  req.Strategy,
		State:     orchestrator.StateCompleted,
		Success:   true,
		Errors:    []string{},
	}
}

func (f *fakeProcessor) CacheStats(context.Context) (models.CacheStats, bool) {
	return models.CacheStats{Size: 3, Capacity: 1000, Hits: 7}, true
}

func newApp(p Processor, checks map[string]HealthCheck) *fiber.App {
	h := NewQueryHandler(p, checks, 0)
	app := fiber.New()
	api := app.Group("/api/v1")
	api.Post("/query", validation.QueryMiddleware(validation.Config{MaxQueryLength: 20}), h.HandleQuery)
	api.Get("/cache/stats", h.CacheStats)
	api.Get("/health", h.Health)
	return app
}

func post(t *testing.T, app *fiber.App, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/v1/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return resp.StatusCode, out
}

func TestHandleQuery(t *testing.T) {
	p := &fakeProcessor{}
	app := newApp(p, nil)

	status, out := post(t, app, `{"query":"  위암 진단비 얼마? ","strategy":"fast","include_citations":false,"max_search_results":7}`)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "위암 진단비 얼마?", out["query"])
	assert.Equal(t, true, out["success"])

	assert.Equal(t, "위암 진단비 얼마?", p.last.Query)
	assert.Equal(t, orchestrator.StrategyFast, p.last.Strategy)
	assert.False(t, p.last.IncludeCitations)
	assert.True(t, p.last.IncludeFollowUps)
	assert.True(t, p.last.UseCache)
	assert.Equal(t, 7, p.last.MaxSearchResults)
}

func TestHandleQuery_Rejections(t *testing.T) {
	app := newApp(&fakeProcessor{}, nil)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{"query":`, "Invalid JSON format"},
		{"blank", `{"query":"   "}`, "Query is required and must be a string"},
		{"too long", `{"query":"` + strings.Repeat("암", 21) + `"}`, "Query exceeds maximum length"},
		{"script", `{"query":"<script>x"}`, "Invalid query content"},
		{"strategy", `{"query":"암","strategy":"turbo"}`, "Unknown strategy"},
		{"search strategy", `{"query":"암","search_strategy":"bm25"}`, "Unknown search strategy"},
		{"results", `{"query":"암","max_search_results":500}`, "max_search_results out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := post(t, app, tt.body)
			assert.Equal(t, fiber.StatusBadRequest, status)
			assert.Equal(t, tt.want, out["error"])
		})
	}
}

func TestCacheStatsAndHealth(t *testing.T) {
	app := newApp(&fakeProcessor{}, map[string]HealthCheck{
		"neo4j": func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/cache/stats", nil))
	require.NoError(t, err)
	var stats struct {
		Enabled bool              `json:"enabled"`
		Stats   models.CacheStats `json:"stats"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.True(t, stats.Enabled)
	assert.Equal(t, int64(7), stats.Stats.Hits)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/health", nil))
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "degraded", health["status"])
	deps := health["dependencies"].(map[string]any)
	assert.Equal(t, "ok", deps["neo4j"])
	assert.Equal(t, "connection refused", deps["redis"])
}
