package search

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/policy-graphrag/backend/internal/models"
)

// DefaultRRFK is the reciprocal rank fusion smoothing constant.
const DefaultRRFK = 60

type FusionMethod string

const (
	FusionRRF      FusionMethod = "rrf"
	FusionWeighted FusionMethod = "weighted"
)

// RankedList is one source's results, best first, with its fusion weight.
type RankedList struct {
	Source  models.SourceKind
	Weight  float64
	Results []models.SearchResult
}

type fused struct {
	result models.SearchResult
	order  int
}

// merge collapses results with the same identity across lists. The first
// occurrence within a list wins; score reports each list's contribution.
func merge(lists []RankedList, score func(list RankedList, r models.SearchResult, rank int) float64) []models.SearchResult {
	byKey := make(map[string]*fused)
	var order []*fused

	for _, list := range lists {
		seen := make(map[string]bool, len(list.Results))
		for rank, r := range list.Results {
			key := r.Key()
			if seen[key] {
				continue
			}
			seen[key] = true

			contribution := score(list, r, rank)
			f, ok := byKey[key]
			if !ok {
				f = &fused{result: r, order: len(order)}
				f.result.Score = 0
				f.result.Properties = copyProps(r.Properties)
				byKey[key] = f
				order = append(order, f)
			} else {
				absorb(&f.result, r)
			}
			f.result.Score += contribution
			switch list.Source {
			case models.SourceGraph:
				f.result.GraphScore = r.GraphScore
			case models.SourceVector:
				f.result.VectorScore = r.VectorScore
			}
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].result.Score != order[j].result.Score {
			return order[i].result.Score > order[j].result.Score
		}
		return order[i].order < order[j].order
	})

	out := make([]models.SearchResult, len(order))
	for i, f := range order {
		out[i] = f.result
		out[i].Score = models.Clamp01(out[i].Score)
		out[i].Rank = i
	}
	return out
}

// absorb fills gaps in dst from a second sighting of the same record.
func absorb(dst *models.SearchResult, src models.SearchResult) {
	if dst.Source != src.Source {
		dst.Source = models.SourceHybrid
	}
	if dst.Text == "" {
		dst.Text = src.Text
	}
	if dst.ArticleRef == "" {
		dst.ArticleRef = src.ArticleRef
	}
	if dst.NodeType == "" {
		dst.NodeType = src.NodeType
	}
	for k, v := range src.Properties {
		if _, ok := dst.Properties[k]; !ok {
			dst.Properties[k] = v
		}
	}
}

func copyProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

// ReciprocalRankFusion scores each result as the sum over lists of
// weight / (k + rank + 1), rank counted from zero. Absent from a list means
// no contribution from it.
func ReciprocalRankFusion(k int, lists ...RankedList) []models.SearchResult {
	if k <= 0 {
		k = DefaultRRFK
	}
	return merge(lists, func(list RankedList, _ models.SearchResult, rank int) float64 {
		return list.Weight / float64(k+rank+1)
	})
}

// WeightedFusion blends the sources' own normalised scores.
func WeightedFusion(lists ...RankedList) []models.SearchResult {
	return merge(lists, func(list RankedList, r models.SearchResult, _ int) float64 {
		return list.Weight * models.Clamp01(r.Score)
	})
}

type RerankConfig struct {
	ExactMatchBoost float64
	EntityBoost     float64
	LengthPenalty   float64
	LongTextRunes   int
}

func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		ExactMatchBoost: 1.5,
		EntityBoost:     1.2,
		LengthPenalty:   0.9,
		LongTextRunes:   1000,
	}
}

// Rerank adjusts fused scores by lexical and entity overlap and re-sorts.
func Rerank(results []models.SearchResult, query string, entities []models.ExtractedEntity, cfg RerankConfig) []models.SearchResult {
	needle := strings.ToLower(strings.TrimSpace(query))
	names := make([]string, 0, len(entities))
	for _, e := range entities {
		if n := strings.ToLower(e.Name()); n != "" {
			names = append(names, n)
		}
	}

	out := make([]models.SearchResult, len(results))
	copy(out, results)
	for i := range out {
		text := strings.ToLower(out[i].Text)
		score := out[i].Score
		if needle != "" && strings.Contains(text, needle) {
			score *= cfg.ExactMatchBoost
		}
		for _, n := range names {
			if strings.Contains(text, n) {
				score *= cfg.EntityBoost
				break
			}
		}
		if cfg.LongTextRunes > 0 && utf8.RuneCountInString(out[i].Text) > cfg.LongTextRunes {
			score *= cfg.LengthPenalty
		}
		out[i].Score = models.Clamp01(score)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	for i := range out {
		out[i].Rank = i
	}
	return out
}
