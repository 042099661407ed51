package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig
	Neo4j        Neo4jConfig
	Zilliz       ZillizConfig
	Redis        RedisConfig
	Embedding    EmbeddingConfig
	Analyzer     AnalyzerConfig
	Search       SearchConfig
	Orchestrator OrchestratorConfig
	Cache        CacheConfig
	Logging      LoggingConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	ReadTimeout        int
	WriteTimeout       int
	BodyLimit          int
	MaxQueryLength     int
	RateLimitPerMinute int
	AllowedOrigins     []string
	Development        bool
}

type Neo4jConfig struct {
	URI             string
	Username        string
	Password        string
	Database        string
	QueryTimeoutSec int
	VectorIndex     string
}

type ZillizConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
	NProbe         int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type EmbeddingConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	Dimensions        int
	TimeoutSec        int
	RequestsPerSecond float64
	Burst             int
	// UseRedis keeps embeddings in Redis as a second-level cache.
	UseRedis bool
}

type AnalyzerConfig struct {
	FuzzyThreshold float64
	MinFuzzyRunes  int
	HistoryDecay   float64
	ExtraDiseases  []string
	ExtraCoverages []string
	ExtraProducts  []string
}

type SearchConfig struct {
	VectorBackend string
	Fusion        string
	RRFK          int
	GraphWeight   float64
	VectorWeight  float64
	MinScore      float64
	GraphLimit    int
}

type StageBudgets struct {
	AnalysisTimeout   time.Duration
	SearchTimeout     time.Duration
	GenerationTimeout time.Duration
}

type OrchestratorConfig struct {
	DefaultStrategy string
	FallbackText    string
	Standard        StageBudgets
	Fast            StageBudgets
	Comprehensive   StageBudgets
}

type CacheConfig struct {
	Backend  string
	Capacity int
	TTL      time.Duration
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

const (
	VectorBackendNeo4j  = "neo4j"
	VectorBackendZilliz = "zilliz"
	VectorBackendNone   = "none"

	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
	CacheBackendNone   = "none"
)

// Load reads config.yaml (or configFile when set), then GRAPHRAG_* environment
// variables, on top of the defaults.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/policy-graphrag")
	}

	v.SetEnvPrefix("GRAPHRAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}

	switch c.Search.VectorBackend {
	case VectorBackendNeo4j, VectorBackendZilliz, VectorBackendNone:
	default:
		errs = append(errs, fmt.Errorf("unknown search.vectorBackend %q", c.Search.VectorBackend))
	}
	switch c.Search.Fusion {
	case "rrf", "weighted":
	default:
		errs = append(errs, fmt.Errorf("unknown search.fusion %q", c.Search.Fusion))
	}
	if c.Search.RRFK <= 0 {
		errs = append(errs, errors.New("search.rrfK must be positive"))
	}
	if c.Search.GraphWeight < 0 || c.Search.VectorWeight < 0 {
		errs = append(errs, errors.New("search weights must not be negative"))
	}
	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		errs = append(errs, fmt.Errorf("search.minScore %.2f outside [0, 1]", c.Search.MinScore))
	}

	switch c.Cache.Backend {
	case CacheBackendMemory:
		if c.Cache.Capacity <= 0 {
			errs = append(errs, errors.New("cache.capacity must be positive"))
		}
	case CacheBackendRedis, CacheBackendNone:
	default:
		errs = append(errs, fmt.Errorf("unknown cache.backend %q", c.Cache.Backend))
	}
	if c.Cache.Backend != CacheBackendNone && c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}

	budgets := map[string]StageBudgets{
		"standard":      c.Orchestrator.Standard,
		"fast":          c.Orchestrator.Fast,
		"comprehensive": c.Orchestrator.Comprehensive,
	}
	for name, b := range budgets {
		if b.AnalysisTimeout <= 0 || b.SearchTimeout <= 0 || b.GenerationTimeout <= 0 {
			errs = append(errs, fmt.Errorf("orchestrator.%s timeouts must be positive", name))
		}
	}

	if c.Search.VectorBackend == VectorBackendZilliz && c.Zilliz.VectorDim != c.Embedding.Dimensions {
		errs = append(errs, fmt.Errorf("zilliz.vectorDim %d does not match embedding.dimensions %d",
			c.Zilliz.VectorDim, c.Embedding.Dimensions))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 60)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.maxQueryLength", 1000)
	v.SetDefault("server.rateLimitPerMinute", 120)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.development", false)

	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")
	v.SetDefault("neo4j.queryTimeoutSec", 10)
	v.SetDefault("neo4j.vectorIndex", "clause_embedding")

	v.SetDefault("zilliz.endpoint", "localhost:19530")
	v.SetDefault("zilliz.collectionName", "policy_clauses")
	v.SetDefault("zilliz.vectorDim", 1536)
	v.SetDefault("zilliz.nprobe", 16)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.timeoutSec", 15)
	v.SetDefault("embedding.requestsPerSecond", 20)
	v.SetDefault("embedding.burst", 5)
	v.SetDefault("embedding.useRedis", false)

	v.SetDefault("analyzer.fuzzyThreshold", 0.75)
	v.SetDefault("analyzer.minFuzzyRunes", 4)
	v.SetDefault("analyzer.historyDecay", 0.8)

	v.SetDefault("search.vectorBackend", VectorBackendNeo4j)
	v.SetDefault("search.fusion", "rrf")
	v.SetDefault("search.rrfK", 60)
	v.SetDefault("search.graphWeight", 0.6)
	v.SetDefault("search.vectorWeight", 0.4)
	v.SetDefault("search.minScore", 0.5)
	v.SetDefault("search.graphLimit", 25)

	v.SetDefault("orchestrator.defaultStrategy", "STANDARD")
	v.SetDefault("orchestrator.fallbackText", "")
	v.SetDefault("orchestrator.standard.analysisTimeout", 5*time.Second)
	v.SetDefault("orchestrator.standard.searchTimeout", 15*time.Second)
	v.SetDefault("orchestrator.standard.generationTimeout", 10*time.Second)
	v.SetDefault("orchestrator.fast.analysisTimeout", 2*time.Second)
	v.SetDefault("orchestrator.fast.searchTimeout", 5*time.Second)
	v.SetDefault("orchestrator.fast.generationTimeout", 3*time.Second)
	v.SetDefault("orchestrator.comprehensive.analysisTimeout", 10*time.Second)
	v.SetDefault("orchestrator.comprehensive.searchTimeout", 30*time.Second)
	v.SetDefault("orchestrator.comprehensive.generationTimeout", 15*time.Second)

	v.SetDefault("cache.backend", CacheBackendMemory)
	v.SetDefault("cache.capacity", 1000)
	v.SetDefault("cache.ttl", time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
