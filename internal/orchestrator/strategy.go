package orchestrator

import (
	"strings"
	"time"

	"github.com/policy-graphrag/backend/internal/models"
)

// Strategy trades latency against recall for a whole request.
type Strategy string

const (
	StrategyStandard      Strategy = "STANDARD"
	StrategyFast          Strategy = "FAST"
	StrategyComprehensive Strategy = "COMPREHENSIVE"
	StrategyFallback      Strategy = "FALLBACK"
)

// ParseStrategy accepts any casing; unknown values yield false.
func ParseStrategy(s string) (Strategy, bool) {
	switch st := Strategy(strings.ToUpper(strings.TrimSpace(s))); st {
	case StrategyStandard, StrategyFast, StrategyComprehensive, StrategyFallback:
		return st, true
	}
	return "", false
}

// StrategyConfig holds the per-stage budgets and result sizing of a strategy.
type StrategyConfig struct {
	AnalysisTimeout   time.Duration
	SearchTimeout     time.Duration
	GenerationTimeout time.Duration
	SearchStrategy    models.SearchStrategy
	// Requested results are multiplied, raised to MinResults and capped at
	// MaxResults. Zero disables each adjustment.
	ResultMultiplier int
	MinResults       int
	MaxResults       int
}

// ResultCount is the number of search results fetched for a request.
func (s StrategyConfig) ResultCount(requested int) int {
	n := requested
	if s.ResultMultiplier > 1 {
		n *= s.ResultMultiplier
	}
	if n < s.MinResults {
		n = s.MinResults
	}
	if s.MaxResults > 0 && n > s.MaxResults {
		n = s.MaxResults
	}
	return n
}

func DefaultStrategies() map[Strategy]StrategyConfig {
	return map[Strategy]StrategyConfig{
		StrategyStandard: {
			AnalysisTimeout:   5 * time.Second,
			SearchTimeout:     15 * time.Second,
			GenerationTimeout: 10 * time.Second,
			SearchStrategy:    models.StrategyHybrid,
			MaxResults:        50,
		},
		StrategyFast: {
			AnalysisTimeout:   2 * time.Second,
			SearchTimeout:     5 * time.Second,
			GenerationTimeout: 3 * time.Second,
			SearchStrategy:    models.StrategyHybrid,
			MaxResults:        5,
		},
		StrategyComprehensive: {
			AnalysisTimeout:   10 * time.Second,
			SearchTimeout:     30 * time.Second,
			GenerationTimeout: 15 * time.Second,
			SearchStrategy:    models.StrategyReranked,
			ResultMultiplier:  2,
			MinResults:        20,
			MaxResults:        50,
		},
	}
}
