package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "bolt://localhost:7687", cfg.Neo4j.URI)
	assert.Equal(t, VectorBackendNeo4j, cfg.Search.VectorBackend)
	assert.Equal(t, "rrf", cfg.Search.Fusion)
	assert.Equal(t, 60, cfg.Search.RRFK)
	assert.Equal(t, CacheBackendMemory, cfg.Cache.Backend)
	assert.Equal(t, 1000, cfg.Cache.Capacity)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 15*time.Second, cfg.Orchestrator.Standard.SearchTimeout)
	assert.Equal(t, 2*time.Second, cfg.Orchestrator.Fast.AnalysisTimeout)
	assert.Equal(t, 0.75, cfg.Analyzer.FuzzyThreshold)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
search:
  fusion: weighted
  graphWeight: 0.7
cache:
  backend: redis
  ttl: 10m
orchestrator:
  fast:
    searchTimeout: 1500ms
analyzer:
  extraDiseases:
    - 모야모야병
`)
	t.Setenv("GRAPHRAG_SERVER_PORT", "9090")
	t.Setenv("GRAPHRAG_NEO4J_PASSWORD", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Neo4j.Password)
	assert.Equal(t, "weighted", cfg.Search.Fusion)
	assert.Equal(t, 0.7, cfg.Search.GraphWeight)
	assert.Equal(t, CacheBackendRedis, cfg.Cache.Backend)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 1500*time.Millisecond, cfg.Orchestrator.Fast.SearchTimeout)
	assert.Equal(t, []string{"모야모야병"}, cfg.Analyzer.ExtraDiseases)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "cache:\n  backend: memcached\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.backend")
}

func TestValidate(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"vector backend", func(c *Config) { c.Search.VectorBackend = "faiss" }, "vectorBackend"},
		{"fusion", func(c *Config) { c.Search.Fusion = "borda" }, "search.fusion"},
		{"min score", func(c *Config) { c.Search.MinScore = 1.5 }, "minScore"},
		{"capacity", func(c *Config) { c.Cache.Capacity = 0 }, "cache.capacity"},
		{"ttl", func(c *Config) { c.Cache.TTL = 0 }, "cache.ttl"},
		{"budget", func(c *Config) { c.Orchestrator.Fast.SearchTimeout = 0 }, "orchestrator.fast"},
		{"dimensions", func(c *Config) {
			c.Search.VectorBackend = VectorBackendZilliz
			c.Zilliz.VectorDim = 768
		}, "zilliz.vectorDim"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *cfg
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	none := *cfg
	none.Cache.Backend = CacheBackendNone
	none.Cache.TTL = 0
	assert.NoError(t, none.Validate())
}
