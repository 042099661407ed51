package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/policy-graphrag/backend/internal/models"
	"github.com/policy-graphrag/backend/pkg/circuitbreaker"
	"github.com/policy-graphrag/backend/pkg/logger"
	"github.com/policy-graphrag/backend/pkg/retry"
)

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Dimensions must match the vector index. Zero accepts any length.
	Dimensions int
	Timeout    time.Duration
	// RequestsPerSecond and Burst bound calls to the embedding API.
	RequestsPerSecond float64
	Burst             int
}

// Client is the embedding service client.
type Client struct {
	client      *openai.Client
	model       string
	dimensions  int
	timeout     time.Duration
	limiter     *rate.Limiter
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(cfg Config) *Client {
	ocfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		ocfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	cb := circuitbreaker.NewCircuitBreaker("embedding", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		Name:           "embedding",
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		RetryIf:        isRetryableAPIError,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Embedding client initialized",
		zap.String("model", cfg.Model),
		zap.Int("dimensions", cfg.Dimensions),
	)

	return &Client{
		client:      openai.NewClientWithConfig(ocfg),
		model:       cfg.Model,
		dimensions:  cfg.Dimensions,
		timeout:     cfg.Timeout,
		limiter:     rate.NewLimiter(limit, cfg.Burst),
		cb:          cb,
		retryConfig: retryConfig,
	}
}

// isRetryableAPIError retries rate limits, server errors and transport
// failures, never request errors.
func isRetryableAPIError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}

// Embed returns the raw embedding for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", models.ErrEmbeddingFailed, err)
	}

	var embedding []float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			req := openai.EmbeddingRequest{
				Input: []string{text},
				Model: openai.EmbeddingModel(c.model),
			}
			if c.dimensions > 0 {
				req.Dimensions = c.dimensions
			}
			resp, err := c.client.CreateEmbeddings(ctx, req)
			if err != nil {
				return fmt.Errorf("failed to generate embedding: %w", err)
			}
			if len(resp.Data) == 0 {
				return errors.New("embedding response has no data")
			}

			embedding = make([]float32, len(resp.Data[0].Embedding))
			copy(embedding, resp.Data[0].Embedding)

			logger.Debug("Embedding generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("dim", len(embedding)),
			)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingFailed, err)
	}

	if c.dimensions > 0 && len(embedding) != c.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", models.ErrDimensionMismatch, len(embedding), c.dimensions)
	}
	return embedding, nil
}

// Model identifies the embedding model, used to scope cached vectors.
func (c *Client) Model() string {
	return c.model
}
