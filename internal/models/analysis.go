package models

// Intent is the closed set of answer kinds a question can ask for.
type Intent string

const (
	IntentCoverageAmount     Intent = "coverage_amount"
	IntentCoverageCheck      Intent = "coverage_check"
	IntentDiseaseComparison  Intent = "disease_comparison"
	IntentCoverageComparison Intent = "coverage_comparison"
	IntentExclusionCheck     Intent = "exclusion_check"
	IntentWaitingPeriod      Intent = "waiting_period"
	IntentAgeLimit           Intent = "age_limit"
	IntentProductSummary     Intent = "product_summary"
	IntentGeneralInfo        Intent = "general_info"
)

// AllIntents lists intents in tie-break order.
func AllIntents() []Intent {
	return []Intent{
		IntentCoverageAmount,
		IntentCoverageCheck,
		IntentDiseaseComparison,
		IntentCoverageComparison,
		IntentExclusionCheck,
		IntentWaitingPeriod,
		IntentAgeLimit,
		IntentProductSummary,
		IntentGeneralInfo,
	}
}

func (i Intent) Valid() bool {
	for _, known := range AllIntents() {
		if i == known {
			return true
		}
	}
	return false
}

func (i Intent) IsComparison() bool {
	return i == IntentDiseaseComparison || i == IntentCoverageComparison
}

type EntityKind string

const (
	EntityDisease   EntityKind = "disease"
	EntityCoverage  EntityKind = "coverage"
	EntityProduct   EntityKind = "product"
	EntityCondition EntityKind = "condition"
	EntityAmount    EntityKind = "amount"
	EntityAge       EntityKind = "age"
	EntityPeriod    EntityKind = "period"
)

// QueryType is the coarse shape of the question.
type QueryType string

const (
	QueryTypeSimple     QueryType = "simple"
	QueryTypeComparison QueryType = "comparison"
	QueryTypeList       QueryType = "list"
	QueryTypeSummary    QueryType = "summary"
)

// Span is a byte range into the original query.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type ExtractedEntity struct {
	Text string     `json:"text"`
	Kind EntityKind `json:"kind"`
	// Normalized is the canonical vocabulary name (or numeric value for
	// amount/age/period entities).
	Normalized string  `json:"normalized"`
	Code       string  `json:"code,omitempty"`
	Confidence float64 `json:"confidence"`
	Span       Span    `json:"span"`
	Fuzzy      bool    `json:"fuzzy,omitempty"`
	// Inherited marks entities carried over from conversation history.
	Inherited bool `json:"inherited,omitempty"`
}

// Name returns the canonical name, falling back to the surface text.
func (e ExtractedEntity) Name() string {
	if e.Normalized != "" {
		return e.Normalized
	}
	return e.Text
}

type QueryAnalysisResult struct {
	OriginalQuery    string            `json:"original_query"`
	Intent           Intent            `json:"intent"`
	IntentConfidence float64           `json:"intent_confidence"`
	Entities         []ExtractedEntity `json:"entities"`
	QueryType        QueryType         `json:"query_type"`
	Keywords         []string          `json:"keywords"`
}

// EntitiesOf returns entities of the given kind in extraction order.
func (r QueryAnalysisResult) EntitiesOf(kind EntityKind) []ExtractedEntity {
	var out []ExtractedEntity
	for _, e := range r.Entities {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// FallbackAnalysis is the substitute used when analysis cannot run.
func FallbackAnalysis(query string, confidence float64) QueryAnalysisResult {
	return QueryAnalysisResult{
		OriginalQuery:    query,
		Intent:           IntentGeneralInfo,
		IntentConfidence: Clamp01(confidence),
		Entities:         []ExtractedEntity{},
		QueryType:        QueryTypeSimple,
		Keywords:         []string{},
	}
}

// ConversationTurn is one prior exchange supplied by the caller.
type ConversationTurn struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
}

// Clamp01 bounds a score to [0,1].
func Clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
