package analyzer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/policy-graphrag/backend/internal/models"
	"github.com/policy-graphrag/backend/pkg/logger"
)

// Config tunes entity matching. Zero values fall back to defaults.
type Config struct {
	FuzzyThreshold float64
	MinFuzzyRunes  int
	// HistoryDecay scales the confidence of entities inherited from the
	// previous conversation turn.
	HistoryDecay   float64
	ExtraDiseases  []string
	ExtraCoverages []string
	ExtraProducts  []string
}

func DefaultConfig() Config {
	return Config{
		FuzzyThreshold: 0.75,
		MinFuzzyRunes:  4,
		HistoryDecay:   0.8,
	}
}

// Analyzer classifies intent and extracts entities and keywords. It is safe
// for concurrent use once constructed.
type Analyzer struct {
	cfg   Config
	vocab *Vocabulary
}

func NewAnalyzer(cfg Config) *Analyzer {
	def := DefaultConfig()
	if cfg.FuzzyThreshold <= 0 || cfg.FuzzyThreshold > 1 {
		cfg.FuzzyThreshold = def.FuzzyThreshold
	}
	if cfg.MinFuzzyRunes <= 0 {
		cfg.MinFuzzyRunes = def.MinFuzzyRunes
	}
	if cfg.HistoryDecay <= 0 || cfg.HistoryDecay > 1 {
		cfg.HistoryDecay = def.HistoryDecay
	}

	vocab := DefaultVocabulary()
	for _, name := range cfg.ExtraDiseases {
		vocab.Add(Term{Name: name, Kind: models.EntityDisease})
	}
	for _, name := range cfg.ExtraCoverages {
		vocab.Add(Term{Name: name, Kind: models.EntityCoverage})
	}
	for _, name := range cfg.ExtraProducts {
		vocab.Add(Term{Name: name, Kind: models.EntityProduct})
	}

	return &Analyzer{cfg: cfg, vocab: vocab}
}

// Vocabulary exposes the term list, e.g. for diagnostics.
func (a *Analyzer) Vocabulary() *Vocabulary {
	return a.vocab
}

// Analyze never fails: blank, garbage or panicking input degrades to a
// general_info result with low confidence.
func (a *Analyzer) Analyze(ctx context.Context, query string) models.QueryAnalysisResult {
	return a.AnalyzeWithHistory(ctx, query, nil)
}

// AnalyzeWithHistory is Analyze plus entity carry-over: disease, coverage and
// product kinds missing from the question are inherited from the most recent
// turn, and a question with no intent keywords inherits that turn's intent.
func (a *Analyzer) AnalyzeWithHistory(ctx context.Context, query string, history []models.ConversationTurn) (result models.QueryAnalysisResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Query analysis panicked", zap.Any("panic", r), zap.String("query", query))
			result = models.FallbackAnalysis(query, 0.3)
		}
	}()

	if ctx.Err() != nil {
		return models.FallbackAnalysis(query, 0.3)
	}
	if strings.TrimSpace(query) == "" {
		return models.FallbackAnalysis(query, 0.1)
	}

	result, score := a.analyze(query)

	if len(history) > 0 {
		prev, prevScore := a.analyze(history[len(history)-1].Query)
		result = a.inherit(result, score, prev, prevScore)
	}

	logger.Debug("Query analyzed",
		zap.String("intent", string(result.Intent)),
		zap.Float64("confidence", result.IntentConfidence),
		zap.Int("entities", len(result.Entities)),
		zap.Duration("took", time.Since(start)),
	)
	return result
}

func (a *Analyzer) analyze(query string) (models.QueryAnalysisResult, float64) {
	lower := strings.ToLower(query)
	if len(lower) != len(query) {
		// Case folding changed byte lengths, so spans would drift.
		lower = query
	}

	tokens := tokenize(query)
	matches := matchVocabulary(lower, a.vocab)
	matches = matchFuzzy(tokens, a.vocab, matches, a.cfg.FuzzyThreshold, a.cfg.MinFuzzyRunes)
	matches = append(matches, matchCodes(query, a.vocab, matches)...)

	entities := make([]models.ExtractedEntity, 0, len(matches))
	for _, m := range matches {
		entities = append(entities, m.entity(query))
	}
	entities = append(entities, extractNumbers(query, matches)...)
	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].Span.Start < entities[j].Span.Start
	})

	best := classify(lower, entities)
	return models.QueryAnalysisResult{
		OriginalQuery:    query,
		Intent:           best.intent,
		IntentConfidence: intentConfidence(best.score, entities),
		Entities:         entities,
		QueryType:        queryType(best.intent, lower),
		Keywords:         extractKeywords(tokens),
	}, best.score
}

var inheritableKinds = []models.EntityKind{
	models.EntityDisease,
	models.EntityCoverage,
	models.EntityProduct,
}

func (a *Analyzer) inherit(cur models.QueryAnalysisResult, score float64, prev models.QueryAnalysisResult, prevScore float64) models.QueryAnalysisResult {
	var inherited int
	for _, kind := range inheritableKinds {
		if len(cur.EntitiesOf(kind)) > 0 {
			continue
		}
		for _, e := range prev.EntitiesOf(kind) {
			e.Confidence = models.Clamp01(e.Confidence * a.cfg.HistoryDecay)
			e.Inherited = true
			e.Span = models.Span{}
			cur.Entities = append(cur.Entities, e)
			inherited++
		}
	}

	if score <= 0 && prevScore > 0 {
		cur.Intent = prev.Intent
		cur.IntentConfidence = models.Clamp01(prev.IntentConfidence * a.cfg.HistoryDecay)
		cur.QueryType = prev.QueryType
	} else if inherited > 0 && score > 0 {
		lower := strings.ToLower(cur.OriginalQuery)
		best := classify(lower, cur.Entities)
		if best.intent.IsComparison() {
			cur.Intent = best.intent
			cur.QueryType = queryType(best.intent, lower)
		}
	}

	if inherited > 0 {
		logger.Debug("Entities inherited from history", zap.Int("count", inherited),
			zap.String("intent", string(cur.Intent)))
	}
	return cur
}

// Describe renders a compact summary for logs and the ask command.
func Describe(r models.QueryAnalysisResult) string {
	names := make([]string, 0, len(r.Entities))
	for _, e := range r.Entities {
		names = append(names, fmt.Sprintf("%s:%s", e.Kind, e.Name()))
	}
	return fmt.Sprintf("%s(%.2f) [%s]", r.Intent, r.IntentConfidence, strings.Join(names, ", "))
}
