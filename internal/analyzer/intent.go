package analyzer

import (
	"strings"

	"github.com/policy-graphrag/backend/internal/models"
)

type keywordWeight struct {
	keyword string
	weight  float64
}

// intentRules maps each intent to its trigger keywords. Comparison intents
// share the comparison keywords and are disambiguated by entity kind.
var intentRules = map[models.Intent][]keywordWeight{
	models.IntentCoverageAmount: {
		{"보장금액", 3}, {"지급금액", 3}, {"금액", 2}, {"얼마", 2}, {"지급액", 2},
		{"한도", 1}, {"보험금", 1}, {"최대", 1}, {"how much", 2}, {"amount", 2},
	},
	models.IntentCoverageCheck: {
		{"보장되", 2}, {"보상되", 2}, {"받을 수", 2}, {"지급되", 2}, {"되나요", 1},
		{"보장", 1}, {"가능", 1}, {"해당", 1}, {"covered", 2},
	},
	models.IntentExclusionCheck: {
		{"면책", 3}, {"보장하지 않", 3}, {"보상하지 않", 3}, {"부담보", 3}, {"제외", 2},
		{"안되는", 2}, {"안 되는", 2}, {"예외", 1}, {"exclusion", 3},
	},
	models.IntentWaitingPeriod: {
		{"대기기간", 4}, {"면책기간", 4}, {"감액기간", 3}, {"언제부터", 2}, {"대기", 2},
		{"며칠", 1}, {"기간", 1}, {"waiting", 3},
	},
	models.IntentAgeLimit: {
		{"가입나이", 4}, {"가입연령", 4}, {"나이", 2}, {"연령", 2}, {"몇 살", 2},
		{"몇살", 2}, {"가입 가능", 1}, {"age", 2},
	},
	models.IntentProductSummary: {
		{"요약", 3}, {"개요", 3}, {"특징", 2}, {"상품", 1}, {"알려줘", 1},
		{"설명", 1}, {"summary", 3},
	},
}

var comparisonKeywords = []keywordWeight{
	{"비교", 3}, {"차이", 3}, {"다른 점", 2}, {"다른점", 2}, {"어느 쪽", 2},
	{" vs ", 3}, {"vs.", 3}, {"versus", 3},
}

var listKeywords = []string{"목록", "모든", "전체", "종류", "리스트", "뭐가 있", "무엇이 있"}

func keywordScore(query string, rules []keywordWeight) float64 {
	var score float64
	for _, kw := range rules {
		if strings.Contains(query, kw.keyword) {
			score += kw.weight
		}
	}
	return score
}

type intentScore struct {
	intent models.Intent
	score  float64
}

// classify scores every intent against the lowercased query. The highest
// score wins, ties go to the intent listed first.
func classify(lower string, entities []models.ExtractedEntity) intentScore {
	kinds := countKinds(entities)
	scores := make(map[models.Intent]float64, len(intentRules)+2)
	for intent, rules := range intentRules {
		scores[intent] = keywordScore(lower, rules)
	}

	if cmp := keywordScore(" "+lower+" ", comparisonKeywords); cmp > 0 {
		switch {
		case kinds[models.EntityDisease] >= 2:
			scores[models.IntentDiseaseComparison] = cmp + 2
		case kinds[models.EntityCoverage] >= 2:
			scores[models.IntentCoverageComparison] = cmp + 2
		case kinds[models.EntityProduct] >= 2:
			scores[models.IntentProductSummary] += cmp
		}
	}

	if kinds[models.EntityCondition] > 0 {
		scores[models.IntentExclusionCheck] += 1
	}
	if kinds[models.EntityAge] > 0 {
		scores[models.IntentAgeLimit] += 1
	}
	if kinds[models.EntityPeriod] > 0 && scores[models.IntentWaitingPeriod] > 0 {
		scores[models.IntentWaitingPeriod] += 1
	}

	best := intentScore{intent: models.IntentGeneralInfo}
	for _, intent := range models.AllIntents() {
		if s := scores[intent]; s > best.score {
			best = intentScore{intent: intent, score: s}
		}
	}
	return best
}

func countKinds(entities []models.ExtractedEntity) map[models.EntityKind]int {
	counts := make(map[models.EntityKind]int)
	seen := make(map[string]bool)
	for _, e := range entities {
		key := string(e.Kind) + "|" + e.Name()
		if seen[key] {
			continue
		}
		seen[key] = true
		counts[e.Kind]++
	}
	return counts
}

// intentConfidence grows with keyword score and is lifted by the strongest
// supporting entity match. Exact matches lift more than fuzzy ones.
func intentConfidence(score float64, entities []models.ExtractedEntity) float64 {
	var best float64
	for _, e := range entities {
		if e.Confidence > best {
			best = e.Confidence
		}
	}
	if score <= 0 {
		if best > 0 {
			return 0.3
		}
		return 0.2
	}
	conf := 0.5 + 0.08*score
	if conf > 0.8 {
		conf = 0.8
	}
	conf += 0.15 * best
	return models.Clamp01(minFloat(conf, 0.98))
}

func queryType(intent models.Intent, lower string) models.QueryType {
	switch {
	case intent.IsComparison():
		return models.QueryTypeComparison
	case intent == models.IntentProductSummary:
		return models.QueryTypeSummary
	case intent == models.IntentExclusionCheck:
		return models.QueryTypeList
	}
	for _, kw := range listKeywords {
		if strings.Contains(lower, kw) {
			return models.QueryTypeList
		}
	}
	return models.QueryTypeSimple
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
