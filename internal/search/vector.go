package search

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/policy-graphrag/backend/internal/models"
	"github.com/policy-graphrag/backend/pkg/logger"
)

// VectorIndex is a top-k nearest-neighbour lookup over clause embeddings.
// Implemented by the Neo4j vector index and the Milvus/Zilliz client.
type VectorIndex interface {
	SearchClauses(ctx context.Context, embedding []float32, topK int) ([]models.VectorSearchResult, error)
}

// VectorSearchEngine embeds a query and searches the clause index.
type VectorSearchEngine struct {
	embedder *QueryEmbedder
	index    VectorIndex
	minScore float64
}

func NewVectorSearchEngine(embedder *QueryEmbedder, index VectorIndex, minScore float64) *VectorSearchEngine {
	return &VectorSearchEngine{
		embedder: embedder,
		index:    index,
		minScore: models.Clamp01(minScore),
	}
}

// Search returns hits at or above the minimum score, best first, with ranks
// reassigned from zero.
func (v *VectorSearchEngine) Search(ctx context.Context, query string, topK int) ([]models.VectorSearchResult, error) {
	if topK <= 0 {
		return []models.VectorSearchResult{}, nil
	}

	embedding, err := v.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := v.index.SearchClauses(ctx, embedding, topK)
	if err != nil {
		return nil, err
	}

	results := make([]models.VectorSearchResult, 0, len(hits))
	for _, h := range hits {
		h.Similarity = models.Clamp01(h.Similarity)
		if h.Similarity < v.minScore {
			continue
		}
		h.Text = CleanText(h.Text)
		results = append(results, h)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > topK {
		results = results[:topK]
	}
	for i := range results {
		results[i].Rank = i
	}

	logger.Debug("Vector search filtered",
		zap.Int("hits", len(hits)),
		zap.Int("kept", len(results)),
		zap.Float64("min_score", v.minScore),
	)
	return results, nil
}
