package search

import (
	"context"
	"fmt"
	"math"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/policy-graphrag/backend/internal/metrics"
	"github.com/policy-graphrag/backend/pkg/logger"
	"github.com/policy-graphrag/backend/pkg/utils"
)

// Embedder turns text into a raw embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingStore is an optional shared cache behind the in-process memo.
type EmbeddingStore interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, key string, vec []float32) error
}

// QueryEmbedder produces L2-normalised query embeddings. Vectors are
// memoised by exact query text and never invalidated; they are deterministic
// per text and model.
type QueryEmbedder struct {
	embedder Embedder
	model    string
	memo     *gocache.Cache
	store    EmbeddingStore
}

// NewQueryEmbedder wires an embedder. store may be nil.
func NewQueryEmbedder(embedder Embedder, model string, store EmbeddingStore) *QueryEmbedder {
	return &QueryEmbedder{
		embedder: embedder,
		model:    model,
		memo:     gocache.New(gocache.NoExpiration, 0),
		store:    store,
	}
}

func (q *QueryEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := q.memo.Get(text); ok {
		metrics.EmbeddingRequests.WithLabelValues("memo").Inc()
		return v.([]float32), nil
	}

	key := utils.HashString(q.model + "\x00" + text)
	if q.store != nil {
		vec, ok, err := q.store.GetEmbedding(ctx, key)
		if err != nil {
			logger.Warn("Embedding store read failed", zap.Error(err))
		} else if ok {
			metrics.EmbeddingRequests.WithLabelValues("store").Inc()
			q.memo.Set(text, vec, gocache.NoExpiration)
			return vec, nil
		}
	}

	raw, err := q.embedder.Embed(ctx, text)
	if err != nil {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	vec, err := Normalize(raw)
	if err != nil {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.EmbeddingRequests.WithLabelValues("ok").Inc()

	q.memo.Set(text, vec, gocache.NoExpiration)
	if q.store != nil {
		if err := q.store.SetEmbedding(ctx, key, vec); err != nil {
			logger.Warn("Embedding store write failed", zap.Error(err))
		}
	}
	return vec, nil
}

// Normalize returns a unit-length copy of v.
func Normalize(v []float32) ([]float32, error) {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, fmt.Errorf("cannot normalise embedding of length %d", len(v))
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out, nil
}

// Cosine is the dot product of two normalised vectors.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
