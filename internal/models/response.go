package models

import "time"

type ResponseFormat string

const (
	FormatText       ResponseFormat = "TEXT"
	FormatTable      ResponseFormat = "TABLE"
	FormatList       ResponseFormat = "LIST"
	FormatComparison ResponseFormat = "COMPARISON"
	FormatSummary    ResponseFormat = "SUMMARY"
)

// MaxCitations and MaxFollowUps bound a generated answer.
const (
	MaxCitations = 5
	MaxFollowUps = 3
)

type Citation struct {
	Kind           string  `json:"kind"`
	SourceID       string  `json:"source_id"`
	ArticleRef     string  `json:"article_ref,omitempty"`
	Text           string  `json:"text,omitempty"`
	RelevanceScore float64 `json:"relevance_score"`
}

type TableData struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

type GeneratedResponse struct {
	Answer              string         `json:"answer"`
	Format              ResponseFormat `json:"format"`
	Table               *TableData     `json:"table,omitempty"`
	Comparison          *Comparison    `json:"comparison,omitempty"`
	Items               []string       `json:"items,omitempty"`
	Citations           []Citation     `json:"citations"`
	FollowUpSuggestions []string       `json:"follow_up_suggestions"`
	ConfidenceScore     float64        `json:"confidence_score"`
	GenerationTimeMS    int64          `json:"generation_time_ms"`
	TemplateID          string         `json:"template_id,omitempty"`
}

// Clone returns a copy whose slices can be modified independently.
func (g *GeneratedResponse) Clone() *GeneratedResponse {
	if g == nil {
		return nil
	}
	out := *g
	if g.Table != nil {
		t := TableData{Headers: append([]string(nil), g.Table.Headers...)}
		for _, row := range g.Table.Rows {
			t.Rows = append(t.Rows, append([]string(nil), row...))
		}
		out.Table = &t
	}
	if g.Comparison != nil {
		c := *g.Comparison
		c.Similarities = append([]string(nil), g.Comparison.Similarities...)
		c.OnlyItem1 = append([]string(nil), g.Comparison.OnlyItem1...)
		c.OnlyItem2 = append([]string(nil), g.Comparison.OnlyItem2...)
		out.Comparison = &c
	}
	out.Items = append([]string(nil), g.Items...)
	out.Citations = append([]Citation{}, g.Citations...)
	out.FollowUpSuggestions = append([]string{}, g.FollowUpSuggestions...)
	return &out
}

// FallbackResponse is the substitute used when generation cannot run.
func FallbackResponse(answer string) *GeneratedResponse {
	return &GeneratedResponse{
		Answer:              answer,
		Format:              FormatText,
		Citations:           []Citation{},
		FollowUpSuggestions: []string{},
		ConfidenceScore:     0,
		TemplateID:          "fallback",
	}
}

// CacheEntry is one cached pipeline answer.
type CacheEntry struct {
	Key          string             `json:"key"`
	Intent       Intent             `json:"intent"`
	Response     *GeneratedResponse `json:"response"`
	CreatedAt    time.Time          `json:"created_at"`
	LastAccessed time.Time          `json:"last_accessed"`
	HitCount     int64              `json:"hit_count"`
}

// CacheStats summarises a response cache.
type CacheStats struct {
	Size      int   `json:"size"`
	Capacity  int   `json:"capacity"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}
