package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policy-graphrag/backend/internal/models"
)

func embeddingServer(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

const okBody = `{"object":"list","model":"text-embedding-3-small",
	"data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}],
	"usage":{"prompt_tokens":4,"total_tokens":4}}`

func TestEmbed(t *testing.T) {
	srv, calls := embeddingServer(t, http.StatusOK, okBody)
	c := NewClient(Config{APIKey: "test", BaseURL: srv.URL + "/v1", Dimensions: 3})

	vec, err := c.Embed(context.Background(), "급성심근경색증")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
	assert.Equal(t, string(openai.SmallEmbedding3), c.Model())
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	srv, _ := embeddingServer(t, http.StatusOK, okBody)
	c := NewClient(Config{APIKey: "test", BaseURL: srv.URL + "/v1", Dimensions: 1536})

	_, err := c.Embed(context.Background(), "위암")
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)
}

func TestEmbed_BadRequestNotRetried(t *testing.T) {
	srv, calls := embeddingServer(t, http.StatusBadRequest,
		`{"error":{"message":"invalid input","type":"invalid_request_error"}}`)
	c := NewClient(Config{APIKey: "test", BaseURL: srv.URL + "/v1"})

	_, err := c.Embed(context.Background(), "위암")
	assert.ErrorIs(t, err, models.ErrEmbeddingFailed)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestIsRetryableAPIError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancelled", context.Canceled, false},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), false},
		{"rate limited", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}, true},
		{"server error", fmt.Errorf("call: %w", &openai.APIError{HTTPStatusCode: http.StatusBadGateway}), true},
		{"bad request", &openai.APIError{HTTPStatusCode: http.StatusBadRequest}, false},
		{"request error 503", &openai.RequestError{HTTPStatusCode: http.StatusServiceUnavailable}, true},
		{"request error 401", &openai.RequestError{HTTPStatusCode: http.StatusUnauthorized}, false},
		{"transport", errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableAPIError(tt.err))
		})
	}
}
