package models

import (
	"sort"
	"time"
)

// ResultShape is how a template's rows are parsed.
type ResultShape string

const (
	ShapeTable  ResultShape = "table"
	ShapeNode   ResultShape = "node"
	ShapePath   ResultShape = "path"
	ShapeScalar ResultShape = "scalar"
)

// GraphQuerySpec is a parameterised query ready to run. Parameters are bound
// by name by the driver, never interpolated into Query.
type GraphQuerySpec struct {
	TemplateID string         `json:"template_id"`
	Intent     Intent         `json:"intent"`
	Query      string         `json:"query"`
	Parameters map[string]any `json:"parameters"`
	Shape      ResultShape    `json:"shape"`
	Comparison bool           `json:"comparison"`
}

// Row is one tabular record keyed by the RETURN aliases.
type Row map[string]any

type NodeRecord struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

type RelationshipRecord struct {
	Type       string         `json:"type"`
	StartID    string         `json:"start_id"`
	EndID      string         `json:"end_id"`
	Properties map[string]any `json:"properties"`
}

type PathRecord struct {
	Nodes         []NodeRecord         `json:"nodes"`
	Relationships []RelationshipRecord `json:"relationships"`
}

// End returns the last node of the path.
func (p PathRecord) End() (NodeRecord, bool) {
	if len(p.Nodes) == 0 {
		return NodeRecord{}, false
	}
	return p.Nodes[len(p.Nodes)-1], true
}

// QueryErrorKind classifies graph store failures.
type QueryErrorKind string

const (
	QueryErrorNotFound     QueryErrorKind = "not_found"
	QueryErrorTimeout      QueryErrorKind = "timeout"
	QueryErrorConnection   QueryErrorKind = "connection"
	QueryErrorInvalidInput QueryErrorKind = "invalid_input"
	QueryErrorQuery        QueryErrorKind = "query"
)

// QueryError is a classified graph failure with a remediation hint.
type QueryError struct {
	Kind    QueryErrorKind `json:"kind"`
	Message string         `json:"message"`
	Hint    string         `json:"hint"`
	Err     error          `json:"-"`
}

func (e *QueryError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

type GraphQueryResult struct {
	Spec          GraphQuerySpec `json:"spec"`
	Shape         ResultShape    `json:"shape"`
	Rows          []Row          `json:"rows,omitempty"`
	Nodes         []NodeRecord   `json:"nodes,omitempty"`
	Paths         []PathRecord   `json:"paths,omitempty"`
	Scalars       []any          `json:"scalars,omitempty"`
	Comparison    *Comparison    `json:"comparison,omitempty"`
	ExecutionTime time.Duration  `json:"execution_time"`
	Success       bool           `json:"success"`
	Error         *QueryError    `json:"error,omitempty"`
}

// Len is the number of parsed records regardless of shape.
func (r *GraphQueryResult) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows) + len(r.Nodes) + len(r.Paths) + len(r.Scalars)
}

// FailedGraphResult builds an empty unsuccessful result.
func FailedGraphResult(spec GraphQuerySpec, qerr *QueryError, took time.Duration) *GraphQueryResult {
	return &GraphQueryResult{
		Spec:          spec,
		Shape:         spec.Shape,
		ExecutionTime: took,
		Success:       false,
		Error:         qerr,
	}
}

// Comparison is the similarity/difference split of two items' associated
// sets. All slices are sorted so the split is symmetric in its inputs.
type Comparison struct {
	Item1        string   `json:"item1"`
	Item2        string   `json:"item2"`
	Similarities []string `json:"similarities"`
	OnlyItem1    []string `json:"only_item1"`
	OnlyItem2    []string `json:"only_item2"`
}

// Differences tags each one-sided element with the item it belongs to.
func (c Comparison) Differences() map[string][]string {
	return map[string][]string{
		c.Item1: c.OnlyItem1,
		c.Item2: c.OnlyItem2,
	}
}

// Compare splits two sets into their intersection and both set differences.
func Compare(item1 string, set1 []string, item2 string, set2 []string) Comparison {
	in1 := toSet(set1)
	in2 := toSet(set2)

	cmp := Comparison{
		Item1:        item1,
		Item2:        item2,
		Similarities: []string{},
		OnlyItem1:    []string{},
		OnlyItem2:    []string{},
	}
	for v := range in1 {
		if in2[v] {
			cmp.Similarities = append(cmp.Similarities, v)
		} else {
			cmp.OnlyItem1 = append(cmp.OnlyItem1, v)
		}
	}
	for v := range in2 {
		if !in1[v] {
			cmp.OnlyItem2 = append(cmp.OnlyItem2, v)
		}
	}
	sort.Strings(cmp.Similarities)
	sort.Strings(cmp.OnlyItem1)
	sort.Strings(cmp.OnlyItem2)
	return cmp
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if v != "" {
			set[v] = true
		}
	}
	return set
}
