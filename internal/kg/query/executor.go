package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/policy-graphrag/backend/internal/models"
	"github.com/policy-graphrag/backend/pkg/circuitbreaker"
	"github.com/policy-graphrag/backend/pkg/logger"
)

// Store runs parameterised read queries against the graph.
type Store interface {
	Run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
}

type Config struct {
	// Limit is bound to $limit for templates that declare it.
	Limit int
}

func DefaultConfig() Config {
	return Config{Limit: 25}
}

// Executor turns analysis results into template queries and parses what the
// store returns. It never returns an error past Execute; failures become an
// unsuccessful result with a classified QueryError.
type Executor struct {
	store Store
	limit int
}

func NewExecutor(store Store, cfg Config) *Executor {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultConfig().Limit
	}
	return &Executor{store: store, limit: cfg.Limit}
}

// Build selects the intent's template and binds entity values by name. It is
// pure and fails before any network call when a required entity is missing.
func (e *Executor) Build(analysis models.QueryAnalysisResult) (models.GraphQuerySpec, error) {
	tmpl := templateForAnalysis(analysis)
	return e.bind(tmpl, analysis.Intent, paramsFromAnalysis(analysis))
}

// templateForAnalysis narrows the intent's template by the entities named. An
// amount question naming only a product lists every coverage of it.
func templateForAnalysis(analysis models.QueryAnalysisResult) Template {
	if analysis.Intent == models.IntentCoverageAmount &&
		len(analysis.EntitiesOf(models.EntityProduct)) > 0 &&
		len(analysis.EntitiesOf(models.EntityDisease)) == 0 &&
		len(analysis.EntitiesOf(models.EntityCoverage)) == 0 {
		return templates[TemplateAllCoverages]
	}
	return TemplateFor(analysis.Intent)
}

func (e *Executor) bind(tmpl Template, intent models.Intent, values map[string]any) (models.GraphQuerySpec, error) {
	params := make(map[string]any, len(tmpl.Required)+len(tmpl.Optional))
	for _, name := range tmpl.Required {
		v, ok := values[name]
		if !ok || isBlank(v) {
			return models.GraphQuerySpec{}, &models.QueryError{
				Kind:    models.QueryErrorInvalidInput,
				Message: fmt.Sprintf("template %s requires parameter %q", tmpl.ID, name),
				Hint:    "Name both items to compare, e.g. \"위암과 간암 비교\".",
				Err:     models.ErrMissingEntity,
			}
		}
		params[name] = v
	}
	for _, name := range tmpl.Optional {
		v, ok := values[name]
		if !ok || isBlank(v) {
			v = nil
		}
		params[name] = v
	}
	if _, ok := params["limit"]; ok && params["limit"] == nil {
		params["limit"] = e.limit
	}

	return models.GraphQuerySpec{
		TemplateID: tmpl.ID,
		Intent:     intent,
		Query:      tmpl.Cypher,
		Parameters: params,
		Shape:      tmpl.Shape,
		Comparison: tmpl.Comparison != nil,
	}, nil
}

func isBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []string:
		return len(val) == 0
	}
	return false
}

// paramsFromAnalysis maps extracted entities to every parameter name used by
// the template library.
func paramsFromAnalysis(analysis models.QueryAnalysisResult) map[string]any {
	values := make(map[string]any)

	diseases := distinctNames(analysis.EntitiesOf(models.EntityDisease))
	if len(diseases) > 0 {
		values["disease"] = diseases[0].Name()
		if diseases[0].Code != "" {
			values["kcd_code"] = diseases[0].Code
		}
		values["disease1"] = diseases[0].Name()
	}
	if len(diseases) > 1 {
		values["disease2"] = diseases[1].Name()
	}

	coverages := distinctNames(analysis.EntitiesOf(models.EntityCoverage))
	if len(coverages) > 0 {
		values["coverage"] = coverages[0].Name()
		values["coverage1"] = coverages[0].Name()
	}
	if len(coverages) > 1 {
		values["coverage2"] = coverages[1].Name()
	}

	if products := analysis.EntitiesOf(models.EntityProduct); len(products) > 0 {
		values["product"] = products[0].Name()
	}
	if ages := analysis.EntitiesOf(models.EntityAge); len(ages) > 0 {
		if n, err := strconv.ParseInt(ages[0].Normalized, 10, 64); err == nil {
			values["age"] = n
		}
	}

	var terms []string
	seen := make(map[string]bool)
	for _, ent := range analysis.Entities {
		switch ent.Kind {
		case models.EntityAmount, models.EntityAge, models.EntityPeriod:
			continue
		}
		if name := ent.Name(); !seen[name] {
			seen[name] = true
			terms = append(terms, name)
		}
	}
	for _, kw := range analysis.Keywords {
		if !seen[kw] {
			seen[kw] = true
			terms = append(terms, kw)
		}
	}
	if len(terms) > 0 {
		values["terms"] = terms
	}
	return values
}

func distinctNames(entities []models.ExtractedEntity) []models.ExtractedEntity {
	seen := make(map[string]bool, len(entities))
	out := make([]models.ExtractedEntity, 0, len(entities))
	for _, ent := range entities {
		if seen[ent.Name()] {
			continue
		}
		seen[ent.Name()] = true
		out = append(out, ent)
	}
	return out
}

// Query builds and executes in one step. Build failures come back as an
// unsuccessful result, like store failures.
func (e *Executor) Query(ctx context.Context, analysis models.QueryAnalysisResult) *models.GraphQueryResult {
	spec, err := e.Build(analysis)
	if err != nil {
		return models.FailedGraphResult(spec, asQueryError(err), 0)
	}
	return e.Execute(ctx, spec)
}

// ExecuteTemplate runs a library template by id with caller-supplied values.
func (e *Executor) ExecuteTemplate(ctx context.Context, id string, values map[string]any) *models.GraphQueryResult {
	tmpl, ok := LookupTemplate(id)
	if !ok {
		spec := models.GraphQuerySpec{TemplateID: id}
		return models.FailedGraphResult(spec, &models.QueryError{
			Kind:    models.QueryErrorInvalidInput,
			Message: fmt.Sprintf("unknown template %q", id),
			Hint:    "Use one of: " + strings.Join(TemplateIDs(), ", "),
			Err:     models.ErrTemplateNotFound,
		}, 0)
	}
	spec, err := e.bind(tmpl, tmpl.Intent, values)
	if err != nil {
		return models.FailedGraphResult(models.GraphQuerySpec{TemplateID: id}, asQueryError(err), 0)
	}
	return e.Execute(ctx, spec)
}

// Execute runs a built spec and parses rows into the declared shape.
func (e *Executor) Execute(ctx context.Context, spec models.GraphQuerySpec) *models.GraphQueryResult {
	start := time.Now()

	records, err := e.store.Run(ctx, spec.Query, spec.Parameters)
	took := time.Since(start)
	if err != nil {
		qerr := classifyError(ctx, err)
		logger.Warn("Graph query failed",
			zap.String("template", spec.TemplateID),
			zap.String("kind", string(qerr.Kind)),
			zap.Duration("took", took),
			zap.Error(err),
		)
		return models.FailedGraphResult(spec, qerr, took)
	}

	result := &models.GraphQueryResult{
		Spec:          spec,
		Shape:         spec.Shape,
		ExecutionTime: took,
		Success:       true,
	}
	switch spec.Shape {
	case models.ShapeNode:
		result.Nodes = parseNodes(records)
	case models.ShapePath:
		result.Paths = parsePaths(records)
	case models.ShapeScalar:
		result.Scalars = parseScalars(records)
	default:
		result.Rows = parseRows(records)
	}

	if spec.Comparison {
		if tmpl, ok := LookupTemplate(spec.TemplateID); ok && tmpl.Comparison != nil {
			cmp := compareRows(result.Rows, spec.Parameters, *tmpl.Comparison)
			result.Comparison = &cmp
		}
	}

	logger.Debug("Graph query executed",
		zap.String("template", spec.TemplateID),
		zap.Int("records", result.Len()),
		zap.Duration("took", took),
	)
	return result
}

func parseRows(records []map[string]any) []models.Row {
	rows := make([]models.Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, models.Row(rec))
	}
	return rows
}

func parseNodes(records []map[string]any) []models.NodeRecord {
	nodes := make([]models.NodeRecord, 0, len(records))
	for _, rec := range records {
		for _, key := range sortedKeys(rec) {
			if n, ok := rec[key].(neo4j.Node); ok {
				nodes = append(nodes, toNodeRecord(n))
				break
			}
		}
	}
	return nodes
}

func parsePaths(records []map[string]any) []models.PathRecord {
	paths := make([]models.PathRecord, 0, len(records))
	for _, rec := range records {
		for _, key := range sortedKeys(rec) {
			p, ok := rec[key].(neo4j.Path)
			if !ok {
				continue
			}
			pr := models.PathRecord{}
			ids := make(map[string]string, len(p.Nodes))
			for _, n := range p.Nodes {
				nr := toNodeRecord(n)
				ids[n.ElementId] = nr.ID
				pr.Nodes = append(pr.Nodes, nr)
			}
			for _, r := range p.Relationships {
				pr.Relationships = append(pr.Relationships, models.RelationshipRecord{
					Type:       r.Type,
					StartID:    ids[r.StartElementId],
					EndID:      ids[r.EndElementId],
					Properties: r.Props,
				})
			}
			paths = append(paths, pr)
			break
		}
	}
	return paths
}

func parseScalars(records []map[string]any) []any {
	out := make([]any, 0, len(records))
	for _, rec := range records {
		keys := sortedKeys(rec)
		if len(keys) > 0 {
			out = append(out, rec[keys[0]])
		}
	}
	return out
}

// toNodeRecord prefers the domain id property so ids stay stable across
// database restores; elementId is the fallback.
func toNodeRecord(n neo4j.Node) models.NodeRecord {
	id, _ := n.Props["id"].(string)
	if id == "" {
		id = n.ElementId
	}
	return models.NodeRecord{ID: id, Labels: n.Labels, Properties: n.Props}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// compareRows assigns each returned row to a side by name, falling back to
// row order when the store returns a different spelling.
func compareRows(rows []models.Row, params map[string]any, cs ComparisonSpec) models.Comparison {
	name1, _ := params[cs.Param1].(string)
	name2, _ := params[cs.Param2].(string)

	var set1, set2 []string
	var unmatched [][]string
	for _, row := range rows {
		item, _ := row[cs.ItemKey].(string)
		set := models.ToStrings(row[cs.SetKey])
		switch item {
		case name1:
			set1 = append(set1, set...)
		case name2:
			set2 = append(set2, set...)
		default:
			unmatched = append(unmatched, set)
		}
	}
	for _, set := range unmatched {
		if set1 == nil {
			set1 = set
		} else if set2 == nil {
			set2 = set
		}
	}
	return models.Compare(name1, set1, name2, set2)
}

func asQueryError(err error) *models.QueryError {
	var qerr *models.QueryError
	if errors.As(err, &qerr) {
		return qerr
	}
	return &models.QueryError{Kind: models.QueryErrorQuery, Message: err.Error(), Err: err}
}

// classifyError maps a store failure to a kind with a remediation hint.
func classifyError(ctx context.Context, err error) *models.QueryError {
	var qerr *models.QueryError
	if errors.As(err, &qerr) {
		return qerr
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &models.QueryError{
			Kind:    models.QueryErrorTimeout,
			Message: msg,
			Hint:    "The knowledge graph did not answer in time. Try a narrower question or retry shortly.",
			Err:     errors.Join(models.ErrGraphUnavailable, err),
		}
	case errors.Is(err, circuitbreaker.ErrCircuitOpen),
		errors.Is(err, circuitbreaker.ErrTooManyRequests),
		neo4j.IsConnectivityError(err),
		strings.Contains(lower, "connection"),
		strings.Contains(lower, "connectivity"):
		return &models.QueryError{
			Kind:    models.QueryErrorConnection,
			Message: msg,
			Hint:    "The knowledge graph is unreachable. Check the Neo4j URI, credentials and network.",
			Err:     errors.Join(models.ErrGraphUnavailable, err),
		}
	case strings.Contains(lower, "not found"),
		strings.Contains(lower, "no such"),
		strings.Contains(lower, "does not exist"):
		return &models.QueryError{
			Kind:    models.QueryErrorNotFound,
			Message: msg,
			Hint:    "The requested index, label or database does not exist. Verify the graph schema has been loaded.",
			Err:     err,
		}
	default:
		return &models.QueryError{
			Kind:    models.QueryErrorQuery,
			Message: msg,
			Hint:    "The query could not be executed. Check the server logs for the Cypher error.",
			Err:     err,
		}
	}
}
