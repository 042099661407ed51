package analyzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policy-graphrag/backend/internal/models"
)

func newTestAnalyzer() *Analyzer {
	return NewAnalyzer(DefaultConfig())
}

func TestAnalyze_CoverageAmount(t *testing.T) {
	a := newTestAnalyzer()
	res := a.Analyze(context.Background(), "급성심근경색증 보장 금액은?")

	assert.Equal(t, models.IntentCoverageAmount, res.Intent)
	assert.Greater(t, res.IntentConfidence, 0.5)
	assert.LessOrEqual(t, res.IntentConfidence, 1.0)
	assert.Equal(t, models.QueryTypeSimple, res.QueryType)

	diseases := res.EntitiesOf(models.EntityDisease)
	require.Len(t, diseases, 1)
	assert.Equal(t, "급성심근경색증", diseases[0].Normalized)
	assert.Equal(t, "I21", diseases[0].Code)
	assert.Equal(t, 0.95, diseases[0].Confidence)
	assert.Equal(t, models.Span{Start: 0, End: len("급성심근경색증")}, diseases[0].Span)
	assert.False(t, diseases[0].Fuzzy)

	assert.Contains(t, res.Keywords, "금액")
	assert.Contains(t, res.Keywords, "보장")
}

func TestAnalyze_EmptyAndGarbage(t *testing.T) {
	a := newTestAnalyzer()
	for _, q := range []string{"", "   ", "!!!???", "zzqx"} {
		res := a.Analyze(context.Background(), q)
		assert.Equal(t, models.IntentGeneralInfo, res.Intent, q)
		assert.LessOrEqual(t, res.IntentConfidence, 0.3, q)
		assert.Empty(t, res.Entities, q)
	}
}

func TestAnalyze_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newTestAnalyzer().Analyze(ctx, "위암 진단비 얼마")
	assert.Equal(t, models.IntentGeneralInfo, res.Intent)
	assert.Equal(t, 0.3, res.IntentConfidence)
}

func TestAnalyze_LongestMatchWins(t *testing.T) {
	res := newTestAnalyzer().Analyze(context.Background(), "암보험 항암치료비 얼마")

	products := res.EntitiesOf(models.EntityProduct)
	require.Len(t, products, 1)
	assert.Equal(t, "암보험", products[0].Normalized)

	coverages := res.EntitiesOf(models.EntityCoverage)
	require.Len(t, coverages, 1)
	assert.Equal(t, "항암치료비", coverages[0].Normalized)

	assert.Empty(t, res.EntitiesOf(models.EntityDisease))
}

func TestAnalyze_DiseaseComparison(t *testing.T) {
	res := newTestAnalyzer().Analyze(context.Background(), "위암과 간암 보장 차이")

	assert.Equal(t, models.IntentDiseaseComparison, res.Intent)
	assert.Equal(t, models.QueryTypeComparison, res.QueryType)
	diseases := res.EntitiesOf(models.EntityDisease)
	require.Len(t, diseases, 2)
	assert.Equal(t, "위암", diseases[0].Normalized)
	assert.Equal(t, "간암", diseases[1].Normalized)
}

func TestAnalyze_CoverageComparison(t *testing.T) {
	res := newTestAnalyzer().Analyze(context.Background(), "진단비와 수술비 비교해줘")

	assert.Equal(t, models.IntentCoverageComparison, res.Intent)
	coverages := res.EntitiesOf(models.EntityCoverage)
	require.Len(t, coverages, 2)
	assert.Equal(t, "진단비", coverages[0].Normalized)
	assert.Equal(t, "수술비", coverages[1].Normalized)
}

func TestAnalyze_ComparisonKeywordWithoutPairIsNotComparison(t *testing.T) {
	res := newTestAnalyzer().Analyze(context.Background(), "위암 비교")
	assert.False(t, res.Intent.IsComparison())
}

func TestAnalyze_FuzzyMatch(t *testing.T) {
	res := newTestAnalyzer().Analyze(context.Background(), "갑상샘암 진단비 얼마")

	diseases := res.EntitiesOf(models.EntityDisease)
	require.Len(t, diseases, 1)
	assert.Equal(t, "갑상선암", diseases[0].Normalized)
	assert.True(t, diseases[0].Fuzzy)
	assert.Less(t, diseases[0].Confidence, exactConfidence)
	assert.GreaterOrEqual(t, diseases[0].Confidence, fuzzyFloor)
}

func TestAnalyze_KCDCode(t *testing.T) {
	res := newTestAnalyzer().Analyze(context.Background(), "I21 진단비 얼마")

	diseases := res.EntitiesOf(models.EntityDisease)
	require.Len(t, diseases, 1)
	assert.Equal(t, "급성심근경색증", diseases[0].Normalized)
	assert.Equal(t, "I21", diseases[0].Text)
}

func TestAnalyze_NumericEntities(t *testing.T) {
	a := newTestAnalyzer()

	tests := []struct {
		name   string
		query  string
		kind   models.EntityKind
		value  string
		intent models.Intent
	}{
		{"age", "40세 가입 가능한가요", models.EntityAge, "40", models.IntentAgeLimit},
		{"period days", "90일 대기기간", models.EntityPeriod, "90", models.IntentWaitingPeriod},
		{"period years", "암 감액기간 1년", models.EntityPeriod, "365", models.IntentWaitingPeriod},
		{"amount grouped", "1억 5000만원 한도", models.EntityAmount, "150000000", models.IntentCoverageAmount},
		{"amount won", "3,000,000원 지급액", models.EntityAmount, "3000000", models.IntentCoverageAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := a.Analyze(context.Background(), tt.query)
			got := res.EntitiesOf(tt.kind)
			require.Len(t, got, 1)
			assert.Equal(t, tt.value, got[0].Normalized)
			assert.Equal(t, tt.intent, res.Intent)
		})
	}
}

func TestAnalyze_ExclusionIsList(t *testing.T) {
	res := newTestAnalyzer().Analyze(context.Background(), "암보험 면책 사항")
	assert.Equal(t, models.IntentExclusionCheck, res.Intent)
	assert.Equal(t, models.QueryTypeList, res.QueryType)
}

func TestAnalyzeWithHistory_InheritsMissingKinds(t *testing.T) {
	history := []models.ConversationTurn{
		{Query: "급성심근경색증 진단비 얼마?", Answer: "5000만원입니다."},
	}
	res := newTestAnalyzer().AnalyzeWithHistory(context.Background(), "입원비는?", history)

	assert.Equal(t, models.IntentCoverageAmount, res.Intent)

	coverages := res.EntitiesOf(models.EntityCoverage)
	require.Len(t, coverages, 1)
	assert.Equal(t, "입원비", coverages[0].Normalized)
	assert.False(t, coverages[0].Inherited)

	diseases := res.EntitiesOf(models.EntityDisease)
	require.Len(t, diseases, 1)
	assert.Equal(t, "급성심근경색증", diseases[0].Normalized)
	assert.True(t, diseases[0].Inherited)
	assert.InDelta(t, 0.95*0.8, diseases[0].Confidence, 1e-9)
}

func TestAnalyzeWithHistory_NoInheritanceWhenPresent(t *testing.T) {
	history := []models.ConversationTurn{{Query: "위암 진단비 얼마?"}}
	res := newTestAnalyzer().AnalyzeWithHistory(context.Background(), "간암 진단비 얼마?", history)

	diseases := res.EntitiesOf(models.EntityDisease)
	require.Len(t, diseases, 1)
	assert.Equal(t, "간암", diseases[0].Normalized)
}

func TestNewAnalyzer_ExtraVocabulary(t *testing.T) {
	a := NewAnalyzer(Config{ExtraDiseases: []string{"크론병"}, ExtraCoverages: []string{"재활치료비"}})
	res := a.Analyze(context.Background(), "크론병 재활치료비 보장되나요")

	diseases := res.EntitiesOf(models.EntityDisease)
	require.Len(t, diseases, 1)
	assert.Equal(t, "크론병", diseases[0].Normalized)
	coverages := res.EntitiesOf(models.EntityCoverage)
	require.Len(t, coverages, 1)
	assert.Equal(t, "재활치료비", coverages[0].Normalized)
	assert.Equal(t, models.IntentCoverageCheck, res.Intent)
}

func TestIntentConfidence_Monotonic(t *testing.T) {
	exact := []models.ExtractedEntity{{Confidence: exactConfidence}}
	fuzzy := []models.ExtractedEntity{{Confidence: fuzzyCeiling}}

	assert.Greater(t, intentConfidence(2, exact), intentConfidence(2, fuzzy))
	assert.Greater(t, intentConfidence(2, fuzzy), intentConfidence(2, nil))
	assert.Greater(t, intentConfidence(2, nil), intentConfidence(0, nil))
	assert.LessOrEqual(t, intentConfidence(100, exact), 1.0)
}

func TestStripParticle(t *testing.T) {
	assert.Equal(t, "금액", stripParticle("금액은"))
	assert.Equal(t, "보험", stripParticle("보험에서"))
	assert.Equal(t, "은", stripParticle("은"))
}

func TestVocabulary_ByCodeCategoryFallback(t *testing.T) {
	v := DefaultVocabulary()
	term, ok := v.ByCode("i21.9")
	require.True(t, ok)
	assert.Equal(t, "급성심근경색증", term.Name)

	_, ok = v.ByCode("Z99")
	assert.False(t, ok)
}
