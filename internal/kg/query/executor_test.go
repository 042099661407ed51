package query

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policy-graphrag/backend/internal/models"
	"github.com/policy-graphrag/backend/pkg/circuitbreaker"
)

type fakeStore struct {
	rows   []map[string]any
	err    error
	calls  int
	cypher string
	params map[string]any
}

func (f *fakeStore) Run(_ context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	f.calls++
	f.cypher = cypher
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func analysis(intent models.Intent, entities ...models.ExtractedEntity) models.QueryAnalysisResult {
	return models.QueryAnalysisResult{Intent: intent, Entities: entities}
}

func disease(name, code string) models.ExtractedEntity {
	return models.ExtractedEntity{Kind: models.EntityDisease, Text: name, Normalized: name, Code: code, Confidence: 0.95}
}

func coverage(name string) models.ExtractedEntity {
	return models.ExtractedEntity{Kind: models.EntityCoverage, Text: name, Normalized: name, Confidence: 0.95}
}

func TestTemplateFor_EveryIntentMapped(t *testing.T) {
	for _, intent := range models.AllIntents() {
		tmpl := TemplateFor(intent)
		assert.NotEmpty(t, tmpl.Cypher, intent)
		assert.Equal(t, intent, tmpl.Intent, intent)
	}
	assert.Equal(t, TemplateGeneral, TemplateFor("unknown").ID)
	assert.GreaterOrEqual(t, len(TemplateIDs()), 10)
}

func TestTemplates_DeclareEveryParameterTheyUse(t *testing.T) {
	for _, id := range TemplateIDs() {
		tmpl, _ := LookupTemplate(id)
		for _, p := range tmpl.Params() {
			assert.Contains(t, tmpl.Cypher, "$"+p, "%s declares unused %s", id, p)
		}
	}
}

func TestBuild_BindsParametersByName(t *testing.T) {
	e := NewExecutor(&fakeStore{}, DefaultConfig())
	spec, err := e.Build(analysis(models.IntentCoverageAmount, disease("급성심근경색증", "I21")))
	require.NoError(t, err)

	assert.Equal(t, TemplateCoverageAmount, spec.TemplateID)
	assert.Equal(t, models.ShapeTable, spec.Shape)
	assert.Equal(t, "급성심근경색증", spec.Parameters["disease"])
	assert.Equal(t, "I21", spec.Parameters["kcd_code"])
	assert.Nil(t, spec.Parameters["coverage"])
	assert.Contains(t, spec.Parameters, "product")
	assert.Equal(t, 25, spec.Parameters["limit"])
	assert.NotContains(t, spec.Query, "급성심근경색증")
}

func TestBuild_ProductOnlyAmountListsAllCoverages(t *testing.T) {
	e := NewExecutor(&fakeStore{}, DefaultConfig())
	product := models.ExtractedEntity{Kind: models.EntityProduct, Text: "건강보험", Normalized: "건강보험", Confidence: 0.9}

	spec, err := e.Build(analysis(models.IntentCoverageAmount, product))
	require.NoError(t, err)
	assert.Equal(t, TemplateAllCoverages, spec.TemplateID)
	assert.Equal(t, models.IntentCoverageAmount, spec.Intent)
	assert.Equal(t, "건강보험", spec.Parameters["product"])

	spec, err = e.Build(analysis(models.IntentCoverageAmount, product, disease("위암", "C16")))
	require.NoError(t, err)
	assert.Equal(t, TemplateCoverageAmount, spec.TemplateID)

	spec, err = e.Build(analysis(models.IntentCoverageAmount, product, coverage("진단비")))
	require.NoError(t, err)
	assert.Equal(t, TemplateCoverageAmount, spec.TemplateID)
}

func TestParseValues(t *testing.T) {
	values := ParseValues(map[string]string{
		"disease": " 급성심근경색증 ",
		"limit":   "50",
		"terms":   "위암, 간암,,",
	})
	assert.Equal(t, "급성심근경색증", values["disease"])
	assert.Equal(t, int64(50), values["limit"])
	assert.Equal(t, []string{"위암", "간암"}, values["terms"])

	store := &fakeStore{rows: []map[string]any{{"total": int64(51000000)}}}
	res := NewExecutor(store, DefaultConfig()).ExecuteTemplate(context.Background(), TemplateCoverageTotal,
		ParseValues(map[string]string{"disease": "급성심근경색증", "product": "건강보험"}))
	require.True(t, res.Success)
	assert.Equal(t, "건강보험", store.params["product"])
}

func TestBuild_InjectionStaysInParameters(t *testing.T) {
	e := NewExecutor(&fakeStore{}, DefaultConfig())
	evil := "암' }) DETACH DELETE n //"
	spec, err := e.Build(analysis(models.IntentCoverageCheck, disease(evil, "")))
	require.NoError(t, err)
	assert.Equal(t, evil, spec.Parameters["disease"])
	assert.NotContains(t, spec.Query, "DETACH")
}

func TestBuild_ComparisonRequiresBothEntities(t *testing.T) {
	store := &fakeStore{}
	e := NewExecutor(store, DefaultConfig())

	_, err := e.Build(analysis(models.IntentDiseaseComparison, disease("위암", "C16")))
	require.Error(t, err)
	var qerr *models.QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, models.QueryErrorInvalidInput, qerr.Kind)
	assert.ErrorIs(t, err, models.ErrMissingEntity)

	res := e.Query(context.Background(), analysis(models.IntentCoverageComparison, coverage("진단비")))
	assert.False(t, res.Success)
	assert.Equal(t, 0, store.calls)
}

func TestBuild_DuplicateEntityDoesNotSatisfyPair(t *testing.T) {
	e := NewExecutor(&fakeStore{}, DefaultConfig())
	_, err := e.Build(analysis(models.IntentDiseaseComparison, disease("위암", ""), disease("위암", "")))
	assert.ErrorIs(t, err, models.ErrMissingEntity)
}

func TestExecute_TableRows(t *testing.T) {
	store := &fakeStore{rows: []map[string]any{
		{"coverage": "진단비", "amount": int64(50000000)},
		{"coverage": "입원비", "amount": int64(1000000)},
	}}
	e := NewExecutor(store, DefaultConfig())

	res := e.Query(context.Background(), analysis(models.IntentCoverageAmount, disease("급성심근경색증", "I21")))
	require.True(t, res.Success)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "진단비", res.Rows[0]["coverage"])
	assert.Nil(t, res.Error)
	assert.Equal(t, 1, store.calls)
	assert.Equal(t, "급성심근경색증", store.params["disease"])
}

func TestExecute_ComparisonSplit(t *testing.T) {
	store := &fakeStore{rows: []map[string]any{
		{"item": "B", "id": "d-b", "associated": []any{"X", "W"}},
		{"item": "A", "id": "d-a", "associated": []any{"X", "Y", "Z"}},
	}}
	e := NewExecutor(store, DefaultConfig())

	res := e.Query(context.Background(), analysis(models.IntentDiseaseComparison, disease("A", ""), disease("B", "")))
	require.True(t, res.Success)
	require.NotNil(t, res.Comparison)
	assert.Equal(t, "A", res.Comparison.Item1)
	assert.Equal(t, []string{"X"}, res.Comparison.Similarities)
	assert.Equal(t, []string{"Y", "Z"}, res.Comparison.OnlyItem1)
	assert.Equal(t, []string{"W"}, res.Comparison.OnlyItem2)
}

func TestExecute_NodeShape(t *testing.T) {
	store := &fakeStore{rows: []map[string]any{
		{"node": neo4j.Node{ElementId: "4:db:1", Labels: []string{"Condition"}, Props: map[string]any{"id": "cond-1", "name": "고의"}}},
		{"node": neo4j.Node{ElementId: "4:db:2", Labels: []string{"Condition"}, Props: map[string]any{"name": "전쟁"}}},
	}}
	e := NewExecutor(store, DefaultConfig())

	res := e.Query(context.Background(), analysis(models.IntentExclusionCheck))
	require.True(t, res.Success)
	require.Len(t, res.Nodes, 2)
	assert.Equal(t, "cond-1", res.Nodes[0].ID)
	assert.Equal(t, "4:db:2", res.Nodes[1].ID)
	assert.Equal(t, []string{"Condition"}, res.Nodes[0].Labels)
}

func TestExecute_PathShape(t *testing.T) {
	product := neo4j.Node{ElementId: "e1", Labels: []string{"Product"}, Props: map[string]any{"id": "p-1", "name": "암보험"}}
	cov := neo4j.Node{ElementId: "e2", Labels: []string{"Coverage"}, Props: map[string]any{"id": "c-1", "name": "진단비"}}
	cond := neo4j.Node{ElementId: "e3", Labels: []string{"Condition"}, Props: map[string]any{"id": "w-1", "waiting_days": int64(90)}}
	path := neo4j.Path{
		Nodes: []neo4j.Node{product, cov, cond},
		Relationships: []neo4j.Relationship{
			{ElementId: "r1", StartElementId: "e1", EndElementId: "e2", Type: "HAS_COVERAGE"},
			{ElementId: "r2", StartElementId: "e2", EndElementId: "e3", Type: "REQUIRES"},
		},
	}
	e := NewExecutor(&fakeStore{rows: []map[string]any{{"path": path}}}, DefaultConfig())

	res := e.Query(context.Background(), analysis(models.IntentWaitingPeriod))
	require.True(t, res.Success)
	require.Len(t, res.Paths, 1)
	end, ok := res.Paths[0].End()
	require.True(t, ok)
	assert.Equal(t, "w-1", end.ID)
	assert.Equal(t, "c-1", res.Paths[0].Relationships[1].StartID)
	assert.Equal(t, "REQUIRES", res.Paths[0].Relationships[1].Type)
}

func TestExecuteTemplate_Scalar(t *testing.T) {
	store := &fakeStore{rows: []map[string]any{{"total": int64(51000000)}}}
	e := NewExecutor(store, DefaultConfig())

	res := e.ExecuteTemplate(context.Background(), TemplateCoverageTotal, map[string]any{"disease": "급성심근경색증"})
	require.True(t, res.Success)
	assert.Equal(t, []any{int64(51000000)}, res.Scalars)
	assert.Nil(t, store.params["product"])
	assert.Contains(t, store.params, "kcd_code")
}

func TestExecuteTemplate_Unknown(t *testing.T) {
	res := NewExecutor(&fakeStore{}, DefaultConfig()).ExecuteTemplate(context.Background(), "nope", nil)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.ErrorIs(t, res.Error, models.ErrTemplateNotFound)
}

func TestExecute_ErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind models.QueryErrorKind
	}{
		{"timeout", fmt.Errorf("run: %w", context.DeadlineExceeded), models.QueryErrorTimeout},
		{"circuit open", circuitbreaker.ErrCircuitOpen, models.QueryErrorConnection},
		{"connection refused", errors.New("dial tcp: connection refused"), models.QueryErrorConnection},
		{"missing index", errors.New("There is no such vector schema index: clause_embedding"), models.QueryErrorNotFound},
		{"syntax", errors.New("Invalid input 'MATC'"), models.QueryErrorQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExecutor(&fakeStore{err: tt.err}, DefaultConfig())
			res := e.Query(context.Background(), analysis(models.IntentCoverageAmount, disease("암", "")))

			assert.False(t, res.Success)
			assert.Empty(t, res.Rows)
			require.NotNil(t, res.Error)
			assert.Equal(t, tt.kind, res.Error.Kind)
			assert.NotEmpty(t, res.Error.Hint)
		})
	}
}

func TestParamsFromAnalysis_Terms(t *testing.T) {
	a := models.QueryAnalysisResult{
		Intent:   models.IntentGeneralInfo,
		Entities: []models.ExtractedEntity{disease("암", ""), {Kind: models.EntityAge, Normalized: "40"}},
		Keywords: []string{"암", "보험료"},
	}
	values := paramsFromAnalysis(a)
	assert.Equal(t, []string{"암", "보험료"}, values["terms"])
	assert.Equal(t, int64(40), values["age"])
}
