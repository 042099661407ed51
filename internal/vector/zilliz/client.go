package zilliz

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/policy-graphrag/backend/internal/models"
	"github.com/policy-graphrag/backend/pkg/circuitbreaker"
	"github.com/policy-graphrag/backend/pkg/logger"
	"github.com/policy-graphrag/backend/pkg/retry"
)

type Config struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
	// NProbe is the number of IVF clusters probed per search.
	NProbe int
}

// Client searches clause embeddings stored in a Milvus/Zilliz collection.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
	nprobe         int
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

var outputFields = []string{"clause_id", "text", "article_ref", "clause_ref", "product_id"}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: cfg.Endpoint,
		APIKey:  cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	if cfg.NProbe <= 0 {
		cfg.NProbe = 16
	}

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("collection", cfg.CollectionName),
		zap.Int("dim", cfg.VectorDim),
	)

	return &Client{
		client:         c,
		collectionName: cfg.CollectionName,
		vectorDim:      cfg.VectorDim,
		nprobe:         cfg.NProbe,
		cb: circuitbreaker.NewCircuitBreaker("zilliz", circuitbreaker.Config{
			MaxRequests:      3,
			Interval:         time.Minute,
			Timeout:          20 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Logger:           logger.GetLogger(),
		}),
		retryConfig: retry.Config{
			Name:           "zilliz",
			MaxAttempts:    2,
			InitialDelay:   100 * time.Millisecond,
			MaxDelay:       time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         logger.GetLogger(),
		},
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

// EnsureCollection creates the clause collection and its index when missing,
// then loads it so searches can run.
func (z *Client) EnsureCollection(ctx context.Context) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !has {
		if err := z.createCollection(ctx); err != nil {
			return err
		}
	}

	if err := z.client.LoadCollection(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection ready", zap.String("collection", z.collectionName), zap.Bool("created", !has))
	return nil
}

func (z *Client) createCollection(ctx context.Context) error {
	schema := &entity.Schema{
		CollectionName: z.collectionName,
		Description:    "Policy clause embeddings",
		Fields: []*entity.Field{
			{
				Name:       "clause_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", z.vectorDim),
				},
			},
			{
				Name:     "text",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "8192",
				},
			},
			{
				Name:     "article_ref",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "clause_ref",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "product_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
		},
	}

	if err := z.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// Inner product over L2-normalised vectors is cosine similarity.
	idx, err := entity.NewIndexIvfFlat(entity.IP, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := z.client.CreateIndex(ctx, z.collectionName, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// SearchClauses returns the topK clauses nearest to the embedding. Scores are
// inner products clamped to [0,1].
func (z *Client) SearchClauses(ctx context.Context, embedding []float32, topK int) ([]models.VectorSearchResult, error) {
	if topK <= 0 {
		return []models.VectorSearchResult{}, nil
	}
	if z.vectorDim > 0 && len(embedding) != z.vectorDim {
		return nil, fmt.Errorf("%w: got %d, want %d", models.ErrDimensionMismatch, len(embedding), z.vectorDim)
	}

	sp, err := entity.NewIndexIvfFlatSearchParam(z.nprobe)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	var searchResult []client.SearchResult
	err = z.cb.Execute(ctx, func() error {
		return retry.Do(ctx, z.retryConfig, func() error {
			var searchErr error
			searchResult, searchErr = z.client.Search(
				ctx,
				z.collectionName,
				[]string{},
				"",
				outputFields,
				[]entity.Vector{entity.FloatVector(embedding)},
				"embedding",
				entity.IP,
				topK,
				sp,
			)
			return searchErr
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrVectorUnavailable, err)
	}

	results := make([]models.VectorSearchResult, 0, topK)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			results = append(results, models.VectorSearchResult{
				NodeID:     columnString(sr.Fields, "clause_id", i),
				Similarity: models.Clamp01(float64(sr.Scores[i])),
				Text:       columnString(sr.Fields, "text", i),
				ArticleRef: columnString(sr.Fields, "article_ref", i),
				ClauseRef:  columnString(sr.Fields, "clause_ref", i),
				ProductID:  columnString(sr.Fields, "product_id", i),
				Rank:       len(results),
			})
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
	)

	return results, nil
}

func columnString(fields client.ResultSet, name string, i int) string {
	col := fields.GetColumn(name)
	if col == nil {
		return ""
	}
	v, err := col.Get(i)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}
