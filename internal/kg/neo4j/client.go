package neo4j

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/policy-graphrag/backend/internal/models"
	"github.com/policy-graphrag/backend/pkg/circuitbreaker"
	"github.com/policy-graphrag/backend/pkg/logger"
	"github.com/policy-graphrag/backend/pkg/retry"
)

type Config struct {
	URI          string
	Username     string
	Password     string
	Database     string
	QueryTimeout time.Duration
	// VectorIndex is the name of the vector index over Clause embeddings.
	VectorIndex string
}

type Client struct {
	driver      neo4j.DriverWithContext
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
	database    string
	timeout     time.Duration
	vectorIndex string
}

func NewClient(cfg Config) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(context.Background())
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	if cfg.Database == "" {
		cfg.Database = "neo4j"
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 10 * time.Second
	}
	if cfg.VectorIndex == "" {
		cfg.VectorIndex = "clause_embedding"
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
		IsFailure:        isInfrastructureError,
	})

	retryConfig := retry.Config{
		Name:           "neo4j",
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		RetryIf:        isTransient,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Neo4j client initialized",
		zap.String("uri", cfg.URI),
		zap.String("database", cfg.Database),
		zap.String("vector_index", cfg.VectorIndex),
	)

	return &Client{
		driver:      driver,
		cb:          cb,
		retryConfig: retryConfig,
		database:    cfg.Database,
		timeout:     cfg.QueryTimeout,
		vectorIndex: cfg.VectorIndex,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// Ping verifies the driver can reach the server.
func (c *Client) Ping(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

// isTransient reports whether a failed call is worth retrying. Syntax and
// constraint errors are returned immediately.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	return neo4j.IsRetryable(err) || neo4j.IsConnectivityError(err)
}

// isInfrastructureError keeps query mistakes from opening the breaker.
func isInfrastructureError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) && neoErr.Classification() == "ClientError" {
		return false
	}
	return true
}

func (c *Client) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{
				DatabaseName: c.database,
				AccessMode:   neo4j.AccessModeRead,
			})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

// Run executes a parameterised read query and returns every record keyed by
// its RETURN aliases. Nodes and paths are returned as driver values.
func (c *Client) Run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	var rows []map[string]any

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		rows = rows[:0]
		result, err := session.Run(ctx, cypher, params)
		if err != nil {
			return fmt.Errorf("failed to run query: %w", err)
		}
		for result.Next(ctx) {
			rows = append(rows, result.Record().AsMap())
		}
		if err := result.Err(); err != nil {
			return fmt.Errorf("error iterating results: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Graph query completed", zap.Int("rows", len(rows)))
	return rows, nil
}

const clauseVectorQuery = `
	CALL db.index.vector.queryNodes($index, $k, $embedding)
	YIELD node, score
	OPTIONAL MATCH (node)<-[:DEFINED_IN]-(owner)
	OPTIONAL MATCH (p:Product)-[:HAS_COVERAGE]->(owner)
	RETURN coalesce(node.id, elementId(node)) AS id,
	       node.text AS text,
	       node.article_ref AS article_ref,
	       node.clause_ref AS clause_ref,
	       head(collect(DISTINCT p.id)) AS product_id,
	       score
	ORDER BY score DESC
`

// SearchClauses runs a top-k nearest-neighbour lookup over Clause embeddings
// through the native vector index.
func (c *Client) SearchClauses(ctx context.Context, embedding []float32, topK int) ([]models.VectorSearchResult, error) {
	if topK <= 0 {
		return []models.VectorSearchResult{}, nil
	}

	vec := make([]float64, len(embedding))
	for i, v := range embedding {
		vec[i] = float64(v)
	}

	rows, err := c.Run(ctx, clauseVectorQuery, map[string]any{
		"index":     c.vectorIndex,
		"k":         topK,
		"embedding": vec,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrVectorUnavailable, err)
	}

	results := make([]models.VectorSearchResult, 0, len(rows))
	for i, row := range rows {
		score, _ := models.ToFloat(row["score"])
		results = append(results, models.VectorSearchResult{
			NodeID:     stringValue(row["id"]),
			Similarity: models.Clamp01(score),
			Text:       stringValue(row["text"]),
			ArticleRef: stringValue(row["article_ref"]),
			ClauseRef:  stringValue(row["clause_ref"]),
			ProductID:  stringValue(row["product_id"]),
			Rank:       i,
		})
	}
	return results, nil
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
