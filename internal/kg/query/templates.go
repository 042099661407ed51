package query

import (
	"sort"
	"strconv"
	"strings"

	"github.com/policy-graphrag/backend/internal/models"
)

// Template is a parameterised Cypher query. Every declared parameter is bound
// on each run, optional ones as null, so the query text stays constant.
type Template struct {
	ID          string
	Intent      models.Intent
	Description string
	Cypher      string
	Shape       models.ResultShape
	Required    []string
	Optional    []string
	// Comparison templates return one row per item with its associated set.
	Comparison *ComparisonSpec
}

// ComparisonSpec names the parameters and aliases a comparison reads.
type ComparisonSpec struct {
	Param1  string
	Param2  string
	ItemKey string
	SetKey  string
}

func (t Template) Params() []string {
	out := make([]string, 0, len(t.Required)+len(t.Optional))
	out = append(out, t.Required...)
	out = append(out, t.Optional...)
	return out
}

const (
	TemplateCoverageAmount     = "coverage_amount"
	TemplateCoverageCheck      = "coverage_check"
	TemplateDiseaseComparison  = "disease_comparison"
	TemplateCoverageComparison = "coverage_comparison"
	TemplateExclusionCheck     = "exclusion_check"
	TemplateWaitingPeriod      = "waiting_period"
	TemplateAgeLimit           = "age_limit"
	TemplateAllCoverages       = "all_coverages"
	TemplateProductSummary     = "product_summary"
	TemplateGeneral            = "general"
	TemplateCoverageTotal      = "coverage_total"
)

const diseaseFilter = `($disease IS NULL OR d.name = $disease OR d.name_ko = $disease OR d.kcd_code = $kcd_code)`

var templates = map[string]Template{
	TemplateCoverageAmount: {
		ID:          TemplateCoverageAmount,
		Intent:      models.IntentCoverageAmount,
		Description: "Coverage amounts payable for a disease",
		Shape:       models.ShapeTable,
		Optional:    []string{"disease", "kcd_code", "coverage", "product", "limit"},
		Cypher: `
			MATCH (p:Product)-[:HAS_COVERAGE]->(c:Coverage)-[:COVERS]->(d:Disease)
			WHERE ` + diseaseFilter + `
			  AND ($coverage IS NULL OR c.name = $coverage)
			  AND ($product IS NULL OR p.name CONTAINS $product)
			OPTIONAL MATCH (c)-[:DEFINED_IN]->(cl:Clause)
			RETURN c.id AS id, c.name AS coverage, c.amount AS amount,
			       d.name AS disease, p.name AS product,
			       head(collect(cl.id)) AS clause_id, head(collect(cl.article_ref)) AS article_ref
			ORDER BY amount DESC
			LIMIT $limit`,
	},
	TemplateCoverageCheck: {
		ID:          TemplateCoverageCheck,
		Intent:      models.IntentCoverageCheck,
		Description: "Whether a disease is covered and by which coverages",
		Shape:       models.ShapeTable,
		Optional:    []string{"disease", "kcd_code", "coverage", "product", "limit"},
		Cypher: `
			MATCH (c:Coverage)-[r:COVERS]->(d:Disease)
			WHERE ` + diseaseFilter + `
			  AND ($coverage IS NULL OR c.name = $coverage)
			OPTIONAL MATCH (p:Product)-[:HAS_COVERAGE]->(c)
			WITH c, r, d, p
			WHERE $product IS NULL OR p.name CONTAINS $product
			RETURN c.id AS id, c.name AS coverage, c.amount AS amount,
			       d.name AS disease, p.name AS product, r.conditions AS conditions
			LIMIT $limit`,
	},
	TemplateDiseaseComparison: {
		ID:          TemplateDiseaseComparison,
		Intent:      models.IntentDiseaseComparison,
		Description: "Coverages shared and unique to two diseases",
		Shape:       models.ShapeTable,
		Required:    []string{"disease1", "disease2"},
		Comparison:  &ComparisonSpec{Param1: "disease1", Param2: "disease2", ItemKey: "item", SetKey: "associated"},
		Cypher: `
			MATCH (d:Disease)
			WHERE d.name IN [$disease1, $disease2]
			OPTIONAL MATCH (c:Coverage)-[:COVERS]->(d)
			RETURN d.name AS item, d.id AS id, collect(DISTINCT c.name) AS associated`,
	},
	TemplateCoverageComparison: {
		ID:          TemplateCoverageComparison,
		Intent:      models.IntentCoverageComparison,
		Description: "Diseases shared and unique to two coverages",
		Shape:       models.ShapeTable,
		Required:    []string{"coverage1", "coverage2"},
		Comparison:  &ComparisonSpec{Param1: "coverage1", Param2: "coverage2", ItemKey: "item", SetKey: "associated"},
		Cypher: `
			MATCH (c:Coverage)
			WHERE c.name IN [$coverage1, $coverage2]
			OPTIONAL MATCH (c)-[:COVERS]->(d:Disease)
			RETURN c.name AS item, head(collect(DISTINCT c.id)) AS id, collect(DISTINCT d.name) AS associated`,
	},
	TemplateExclusionCheck: {
		ID:          TemplateExclusionCheck,
		Intent:      models.IntentExclusionCheck,
		Description: "Conditions and diseases excluded by a product or coverage",
		Shape:       models.ShapeNode,
		Optional:    []string{"product", "coverage", "limit"},
		Cypher: `
			MATCH (src)-[:EXCLUDES]->(ex)
			WHERE (src:Product OR src:Coverage)
			  AND (($product IS NULL AND $coverage IS NULL)
			       OR src.name CONTAINS $product
			       OR src.name = $coverage)
			RETURN DISTINCT ex AS node
			LIMIT $limit`,
	},
	TemplateWaitingPeriod: {
		ID:          TemplateWaitingPeriod,
		Intent:      models.IntentWaitingPeriod,
		Description: "Waiting periods required before a coverage pays",
		Shape:       models.ShapePath,
		Optional:    []string{"disease", "coverage", "product", "limit"},
		Cypher: `
			MATCH path = (p:Product)-[:HAS_COVERAGE]->(c:Coverage)-[:REQUIRES]->(cond:Condition)
			WHERE cond.waiting_days IS NOT NULL
			  AND ($coverage IS NULL OR c.name = $coverage)
			  AND ($product IS NULL OR p.name CONTAINS $product)
			  AND ($disease IS NULL OR EXISTS { MATCH (c)-[:COVERS]->(:Disease {name: $disease}) })
			RETURN path
			LIMIT $limit`,
	},
	TemplateAgeLimit: {
		ID:          TemplateAgeLimit,
		Intent:      models.IntentAgeLimit,
		Description: "Enrolment age range of products",
		Shape:       models.ShapeTable,
		Optional:    []string{"product", "age", "limit"},
		Cypher: `
			MATCH (p:Product)
			WHERE ($product IS NULL OR p.name CONTAINS $product)
			  AND ($age IS NULL OR (coalesce(p.min_age, 0) <= $age AND coalesce(p.max_age, 200) >= $age))
			RETURN p.id AS id, p.name AS product, p.min_age AS min_age, p.max_age AS max_age
			ORDER BY p.name
			LIMIT $limit`,
	},
	TemplateAllCoverages: {
		ID:          TemplateAllCoverages,
		Intent:      models.IntentCoverageAmount,
		Description: "Every coverage of a product",
		Shape:       models.ShapeTable,
		Optional:    []string{"product", "limit"},
		Cypher: `
			MATCH (p:Product)-[:HAS_COVERAGE]->(c:Coverage)
			WHERE $product IS NULL OR p.name CONTAINS $product
			RETURN c.id AS id, c.name AS coverage, c.amount AS amount, p.name AS product
			ORDER BY p.name, c.name
			LIMIT $limit`,
	},
	TemplateProductSummary: {
		ID:          TemplateProductSummary,
		Intent:      models.IntentProductSummary,
		Description: "Product overview with coverages and exclusion count",
		Shape:       models.ShapeTable,
		Optional:    []string{"product", "limit"},
		Cypher: `
			MATCH (p:Product)
			WHERE $product IS NULL OR p.name CONTAINS $product
			OPTIONAL MATCH (p)-[:HAS_COVERAGE]->(c:Coverage)
			OPTIONAL MATCH (p)-[:EXCLUDES]->(x)
			RETURN p.id AS id, p.name AS product, p.description AS description,
			       p.min_age AS min_age, p.max_age AS max_age,
			       collect(DISTINCT c.name) AS coverages, count(DISTINCT x) AS exclusion_count
			LIMIT $limit`,
	},
	TemplateGeneral: {
		ID:          TemplateGeneral,
		Intent:      models.IntentGeneralInfo,
		Description: "Named nodes matching any extracted term",
		Shape:       models.ShapeNode,
		Optional:    []string{"terms", "limit"},
		Cypher: `
			MATCH (n)
			WHERE (n:Disease OR n:Coverage OR n:Product OR n:Condition)
			  AND any(term IN coalesce($terms, []) WHERE toLower(n.name) CONTAINS toLower(term))
			RETURN n AS node
			LIMIT $limit`,
	},
	TemplateCoverageTotal: {
		ID:          TemplateCoverageTotal,
		Intent:      models.IntentCoverageAmount,
		Description: "Sum of coverage amounts for a disease",
		Shape:       models.ShapeScalar,
		Optional:    []string{"disease", "kcd_code", "product"},
		Cypher: `
			MATCH (p:Product)-[:HAS_COVERAGE]->(c:Coverage)-[:COVERS]->(d:Disease)
			WHERE ` + diseaseFilter + `
			  AND ($product IS NULL OR p.name CONTAINS $product)
			RETURN sum(c.amount) AS total`,
	},
}

var intentTemplates = map[models.Intent]string{
	models.IntentCoverageAmount:     TemplateCoverageAmount,
	models.IntentCoverageCheck:      TemplateCoverageCheck,
	models.IntentDiseaseComparison:  TemplateDiseaseComparison,
	models.IntentCoverageComparison: TemplateCoverageComparison,
	models.IntentExclusionCheck:     TemplateExclusionCheck,
	models.IntentWaitingPeriod:      TemplateWaitingPeriod,
	models.IntentAgeLimit:           TemplateAgeLimit,
	models.IntentProductSummary:     TemplateProductSummary,
	models.IntentGeneralInfo:        TemplateGeneral,
}

// TemplateFor returns the template for an intent, or the general template.
func TemplateFor(intent models.Intent) Template {
	if id, ok := intentTemplates[intent]; ok {
		return templates[id]
	}
	return templates[TemplateGeneral]
}

func LookupTemplate(id string) (Template, bool) {
	t, ok := templates[id]
	return t, ok
}

// TemplateIDs lists every template id in sorted order.
func TemplateIDs() []string {
	ids := make([]string, 0, len(templates))
	for id := range templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ParseValues turns key=value pairs from the command line into template
// values. Integers bind as int64 and comma-separated values as lists.
func ParseValues(raw map[string]string) map[string]any {
	values := make(map[string]any, len(raw))
	for k, v := range raw {
		v = strings.TrimSpace(v)
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			values[k] = n
			continue
		}
		if strings.Contains(v, ",") {
			var list []string
			for _, part := range strings.Split(v, ",") {
				if part = strings.TrimSpace(part); part != "" {
					list = append(list, part)
				}
			}
			values[k] = list
			continue
		}
		values[k] = v
	}
	return values
}
