package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  급성심근경색증   보장 금액은? ", "급성심근경색증 보장 금액은?"},
		{"Cancer\tCOVERAGE\n", "cancer coverage"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeQuery(tt.in))
	}
}

func TestResponseCacheKey(t *testing.T) {
	a := ResponseCacheKey("암 진단비 얼마?", "STANDARD", 10)
	b := ResponseCacheKey("  암  진단비 얼마? ", "STANDARD", 10)
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, ResponseCacheKey("암 진단비 얼마?", "FAST", 10))
	assert.NotEqual(t, a, ResponseCacheKey("암 진단비 얼마?", "STANDARD", 5))
	assert.Len(t, HashString("x"), 64)
}
