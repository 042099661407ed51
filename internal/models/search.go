package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SearchStrategy selects which retrieval paths a search runs.
type SearchStrategy string

const (
	StrategyVectorOnly SearchStrategy = "VECTOR_ONLY"
	StrategyGraphOnly  SearchStrategy = "GRAPH_ONLY"
	StrategyHybrid     SearchStrategy = "HYBRID"
	StrategyReranked   SearchStrategy = "RERANKED"
)

func (s SearchStrategy) Valid() bool {
	switch s {
	case StrategyVectorOnly, StrategyGraphOnly, StrategyHybrid, StrategyReranked:
		return true
	}
	return false
}

func (s SearchStrategy) UsesGraph() bool {
	return s != StrategyVectorOnly
}

func (s SearchStrategy) UsesVector() bool {
	return s != StrategyGraphOnly
}

type SourceKind string

const (
	SourceGraph  SourceKind = "graph"
	SourceVector SourceKind = "vector"
	SourceHybrid SourceKind = "hybrid"
)

// VectorSearchResult is one nearest-neighbour hit over clause embeddings.
type VectorSearchResult struct {
	NodeID     string  `json:"node_id"`
	Similarity float64 `json:"similarity"`
	Text       string  `json:"text"`
	ArticleRef string  `json:"article_ref"`
	ClauseRef  string  `json:"clause_ref,omitempty"`
	ProductID  string  `json:"product_id,omitempty"`
	Rank       int     `json:"rank"`
}

// SearchResult is the plain record contract shared by search and response
// generation. ID is a graph-store identifier or empty; records without an ID
// are never cited.
type SearchResult struct {
	ID          string         `json:"id,omitempty"`
	Source      SourceKind     `json:"source"`
	NodeType    string         `json:"node_type,omitempty"`
	Text        string         `json:"text"`
	ArticleRef  string         `json:"article_ref,omitempty"`
	Score       float64        `json:"score"`
	GraphScore  float64        `json:"graph_score,omitempty"`
	VectorScore float64        `json:"vector_score,omitempty"`
	Rank        int            `json:"rank"`
	Properties  map[string]any `json:"properties,omitempty"`
}

// Key is the identity used for deduplication across result lists.
func (r SearchResult) Key() string {
	if r.ID != "" {
		return "id:" + r.ID
	}
	keys := make([]string, 0, len(r.Properties))
	for k := range r.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("row:")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v;", k, r.Properties[k])
	}
	if len(keys) == 0 {
		b.WriteString(r.Text)
	}
	return b.String()
}

// Prop returns a property as a string, or "".
func (r SearchResult) Prop(name string) string {
	v, ok := r.Properties[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Number returns a numeric property.
func (r SearchResult) Number(name string) (float64, bool) {
	return ToFloat(r.Properties[name])
}

// Strings returns a list property as strings.
func (r SearchResult) Strings(name string) []string {
	return ToStrings(r.Properties[name])
}

type SearchResponse struct {
	Query      string         `json:"query"`
	Strategy   SearchStrategy `json:"strategy"`
	Results    []SearchResult `json:"results"`
	TotalCount int            `json:"total_count"`
	Took       time.Duration  `json:"took"`
	Reranked   bool           `json:"reranked"`
	// Graph carries the structured result when the graph path ran, so the
	// generator can use the comparison split.
	Graph *GraphQueryResult `json:"graph,omitempty"`
	// Errors lists sub-search failures that were absorbed.
	Errors []string `json:"errors,omitempty"`
}

// EmptySearchResponse is the substitute used when search cannot run.
func EmptySearchResponse(query string, strategy SearchStrategy) SearchResponse {
	return SearchResponse{
		Query:    query,
		Strategy: strategy,
		Results:  []SearchResult{},
	}
}

// ToFloat converts the numeric types the graph driver returns.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

// ToStrings converts a driver list value to strings, dropping nils.
func ToStrings(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if item == nil {
				continue
			}
			if s, ok := item.(string); ok {
				out = append(out, s)
			} else {
				out = append(out, fmt.Sprint(item))
			}
		}
		return out
	default:
		return nil
	}
}
