package search

import (
	"fmt"
	"sort"
	"strings"

	"github.com/policy-graphrag/backend/internal/models"
)

// Row aliases that identify a record rather than describe it.
var referenceKeys = map[string]bool{"id": true, "clause_id": true, "article_ref": true}

// positionalScore is the graph-side score of the record at rank r. Graph
// matches are exact, so only their order carries information.
func positionalScore(r int) float64 {
	return 1 / float64(r+1)
}

// FromGraph converts a graph result of any shape into ranked search results.
func FromGraph(res *models.GraphQueryResult) []models.SearchResult {
	if res == nil || !res.Success {
		return []models.SearchResult{}
	}

	var out []models.SearchResult
	switch res.Shape {
	case models.ShapeTable:
		for _, row := range res.Rows {
			out = append(out, rowResult(row, res.Spec.TemplateID))
		}
	case models.ShapeNode:
		for _, n := range res.Nodes {
			out = append(out, nodeResult(n))
		}
	case models.ShapePath:
		for _, p := range res.Paths {
			if r, ok := pathResult(p); ok {
				out = append(out, r)
			}
		}
	case models.ShapeScalar:
		for _, v := range res.Scalars {
			out = append(out, models.SearchResult{
				Source:     models.SourceGraph,
				NodeType:   "scalar",
				Text:       fmt.Sprint(v),
				Properties: map[string]any{"value": v},
			})
		}
	}

	for i := range out {
		out[i].Source = models.SourceGraph
		out[i].Rank = i
		out[i].Score = positionalScore(i)
		out[i].GraphScore = out[i].Score
	}
	if out == nil {
		out = []models.SearchResult{}
	}
	return out
}

func rowResult(row models.Row, templateID string) models.SearchResult {
	props := make(map[string]any, len(row))
	keys := make([]string, 0, len(row))
	for k, v := range row {
		props[k] = v
		if !referenceKeys[k] && v != nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, describeValue(row[k])))
	}

	r := models.SearchResult{
		NodeType:   templateID,
		Text:       strings.Join(parts, ", "),
		Properties: props,
	}
	r.ID = r.Prop("id")
	r.ArticleRef = r.Prop("article_ref")
	return r
}

func nodeResult(n models.NodeRecord) models.SearchResult {
	props := make(map[string]any, len(n.Properties))
	for k, v := range n.Properties {
		props[k] = v
	}
	r := models.SearchResult{
		ID:         n.ID,
		Properties: props,
	}
	if len(n.Labels) > 0 {
		r.NodeType = n.Labels[0]
	}
	for _, key := range []string{"text", "description", "name"} {
		if s := r.Prop(key); s != "" {
			r.Text = CleanText(s)
			break
		}
	}
	r.ArticleRef = r.Prop("article_ref")
	return r
}

// pathResult describes a path by its end node. Names of the nodes along the
// way are exposed under their lower-cased label, e.g. "coverage".
func pathResult(p models.PathRecord) (models.SearchResult, bool) {
	end, ok := p.End()
	if !ok {
		return models.SearchResult{}, false
	}

	props := make(map[string]any)
	names := make([]string, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		name, _ := n.Properties["name"].(string)
		if name == "" {
			continue
		}
		names = append(names, name)
		if len(n.Labels) > 0 {
			props[strings.ToLower(n.Labels[0])] = name
		}
	}
	for k, v := range end.Properties {
		props[k] = v
	}

	r := models.SearchResult{
		ID:         end.ID,
		Text:       strings.Join(names, " → "),
		Properties: props,
	}
	if len(end.Labels) > 0 {
		r.NodeType = end.Labels[0]
	}
	if r.Text == "" {
		r.Text = r.Prop("description")
	}
	r.ArticleRef = r.Prop("article_ref")
	return r, true
}

func describeValue(v any) string {
	if list := models.ToStrings(v); list != nil {
		return strings.Join(list, ", ")
	}
	return fmt.Sprint(v)
}

// FromVector converts clause hits into search results.
func FromVector(hits []models.VectorSearchResult) []models.SearchResult {
	out := make([]models.SearchResult, 0, len(hits))
	for i, h := range hits {
		props := map[string]any{}
		if h.ClauseRef != "" {
			props["clause_ref"] = h.ClauseRef
		}
		if h.ProductID != "" {
			props["product_id"] = h.ProductID
		}
		out = append(out, models.SearchResult{
			ID:          h.NodeID,
			Source:      models.SourceVector,
			NodeType:    "Clause",
			Text:        h.Text,
			ArticleRef:  h.ArticleRef,
			Score:       h.Similarity,
			VectorScore: h.Similarity,
			Rank:        i,
			Properties:  props,
		})
	}
	return out
}
