package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/policy-graphrag/backend/internal/models"
	"github.com/policy-graphrag/backend/internal/orchestrator"
	"github.com/policy-graphrag/backend/internal/search"
	"github.com/policy-graphrag/backend/pkg/logger"
)

const (
	ClassIrrelevant    = "irrelevant"
	ClassModerate      = "moderate"
	ClassFullyRelevant = "fully_relevant"
)

// Processor is the pipeline under evaluation.
type Processor interface {
	Process(ctx context.Context, req orchestrator.Request) *orchestrator.Response
}

// Evaluator replays a labelled question set through the pipeline and scores
// intent, format and answer content.
type Evaluator struct {
	processor   Processor
	embedder    search.Embedder
	concurrency int
}

type EvaluationDataset struct {
	Items []DatasetItem `json:"items"`
}

// DatasetItem is one labelled question. Empty expectations are not scored.
type DatasetItem struct {
	Query          string                `json:"query"`
	Category       string                `json:"category,omitempty"`
	ExpectedIntent models.Intent         `json:"expected_intent,omitempty"`
	ExpectedFormat models.ResponseFormat `json:"expected_format,omitempty"`
	MustContain    []string              `json:"must_contain,omitempty"`
	GroundTruth    string                `json:"ground_truth,omitempty"`
}

type ItemResult struct {
	Query            string                `json:"query"`
	Category         string                `json:"category,omitempty"`
	Intent           models.Intent         `json:"intent"`
	ExpectedIntent   models.Intent         `json:"expected_intent,omitempty"`
	Format           models.ResponseFormat `json:"format"`
	ExpectedFormat   models.ResponseFormat `json:"expected_format,omitempty"`
	IntentMatch      bool                  `json:"intent_match"`
	FormatMatch      bool                  `json:"format_match"`
	ContainsScore    float64               `json:"contains_score"`
	Score            float64               `json:"score"`
	Classification   string                `json:"classification"`
	Confidence       float64               `json:"confidence"`
	CosineSimilarity float64               `json:"cosine_similarity"`
	Degraded         bool                  `json:"degraded"`
	Citations        int                   `json:"citations"`
	Latency          time.Duration         `json:"latency"`
}

type EvaluationReport struct {
	TotalQueries            int           `json:"total_queries"`
	IrrelevantCount         int           `json:"irrelevant_count"`
	ModerateCount           int           `json:"moderate_count"`
	FullyRelevantCount      int           `json:"fully_relevant_count"`
	IntentAccuracy          float64       `json:"intent_accuracy"`
	FormatAccuracy          float64       `json:"format_accuracy"`
	AvgContainsScore        float64       `json:"avg_contains_score"`
	AvgConfidence           float64       `json:"avg_confidence"`
	AvgCosineSimilarity     float64       `json:"avg_cosine_similarity"`
	DegradedCount           int           `json:"degraded_count"`
	AvgLatency              time.Duration `json:"avg_latency"`
	IrrelevantPercentage    float64       `json:"irrelevant_percentage"`
	ModeratePercentage      float64       `json:"moderate_percentage"`
	FullyRelevantPercentage float64       `json:"fully_relevant_percentage"`
	Items                   []ItemResult  `json:"items"`
}

// NewEvaluator wires the pipeline. embedder is optional and only used for
// ground-truth similarity.
func NewEvaluator(processor Processor, embedder search.Embedder, concurrency int) *Evaluator {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Evaluator{
		processor:   processor,
		embedder:    embedder,
		concurrency: concurrency,
	}
}

func (e *Evaluator) EvaluateQuery(ctx context.Context, item DatasetItem) ItemResult {
	req := orchestrator.NewRequest(item.Query)
	req.UseCache = false
	req.IncludeIntermediate = true

	start := time.Now()
	resp := e.processor.Process(ctx, req)
	result := ItemResult{
		Query:          item.Query,
		Category:       item.Category,
		ExpectedIntent: item.ExpectedIntent,
		Format:         resp.Response.Format,
		ExpectedFormat: item.ExpectedFormat,
		Confidence:     resp.Response.ConfidenceScore,
		Degraded:       !resp.Success,
		Citations:      len(resp.Response.Citations),
		Latency:        time.Since(start),
	}
	if resp.Analysis != nil {
		result.Intent = resp.Analysis.Intent
	}

	var checks []float64
	if item.ExpectedIntent != "" {
		result.IntentMatch = result.Intent == item.ExpectedIntent
		checks = append(checks, boolScore(result.IntentMatch))
	}
	if item.ExpectedFormat != "" {
		result.FormatMatch = result.Format == item.ExpectedFormat
		checks = append(checks, boolScore(result.FormatMatch))
	}
	if len(item.MustContain) > 0 {
		var found int
		for _, s := range item.MustContain {
			if strings.Contains(resp.Response.Answer, s) {
				found++
			}
		}
		result.ContainsScore = float64(found) / float64(len(item.MustContain))
		checks = append(checks, result.ContainsScore)
	}
	if len(checks) == 0 {
		checks = append(checks, boolScore(resp.Success))
	}

	for _, c := range checks {
		result.Score += c
	}
	result.Score /= float64(len(checks))
	result.Classification = classify(result.Score)

	if item.GroundTruth != "" && e.embedder != nil {
		sim, err := e.similarity(ctx, resp.Response.Answer, item.GroundTruth)
		if err != nil {
			logger.Warn("Failed to calculate cosine similarity", zap.Error(err))
		}
		result.CosineSimilarity = sim
	}

	logger.Debug("Query evaluated",
		zap.String("query", item.Query),
		zap.String("classification", result.Classification),
		zap.Float64("score", result.Score),
	)
	return result
}

func (e *Evaluator) RunDatasetEvaluation(ctx context.Context, dataset *EvaluationDataset) (*EvaluationReport, error) {
	logger.Info("Running dataset evaluation", zap.Int("items", len(dataset.Items)))

	results := make([]ItemResult, len(dataset.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, item := range dataset.Items {
		i, item := i, item
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.EvaluateQuery(gctx, item)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("evaluation interrupted: %w", err)
	}

	report := summarize(results)
	logger.Info("Dataset evaluation completed",
		zap.Int("total", report.TotalQueries),
		zap.Int("irrelevant", report.IrrelevantCount),
		zap.Int("moderate", report.ModerateCount),
		zap.Int("fully_relevant", report.FullyRelevantCount),
	)
	return report, nil
}

func summarize(results []ItemResult) *EvaluationReport {
	report := &EvaluationReport{TotalQueries: len(results), Items: results}
	if len(results) == 0 {
		return report
	}

	var intentHits, formatHits, intentTotal, formatTotal int
	var contains, confidence, cosine float64
	var latency time.Duration
	for _, r := range results {
		switch r.Classification {
		case ClassIrrelevant:
			report.IrrelevantCount++
		case ClassModerate:
			report.ModerateCount++
		case ClassFullyRelevant:
			report.FullyRelevantCount++
		}
		if r.ExpectedIntent != "" {
			intentTotal++
			if r.IntentMatch {
				intentHits++
			}
		}
		if r.ExpectedFormat != "" {
			formatTotal++
			if r.FormatMatch {
				formatHits++
			}
		}
		if r.Degraded {
			report.DegradedCount++
		}
		contains += r.ContainsScore
		confidence += r.Confidence
		cosine += r.CosineSimilarity
		latency += r.Latency
	}

	n := float64(len(results))
	report.IntentAccuracy = ratio(intentHits, intentTotal)
	report.FormatAccuracy = ratio(formatHits, formatTotal)
	report.AvgContainsScore = contains / n
	report.AvgConfidence = confidence / n
	report.AvgCosineSimilarity = cosine / n
	report.AvgLatency = latency / time.Duration(len(results))
	report.IrrelevantPercentage = float64(report.IrrelevantCount) / n * 100
	report.ModeratePercentage = float64(report.ModerateCount) / n * 100
	report.FullyRelevantPercentage = float64(report.FullyRelevantCount) / n * 100
	return report
}

func (e *Evaluator) similarity(ctx context.Context, text1, text2 string) (float64, error) {
	emb1, err := e.embedder.Embed(ctx, text1)
	if err != nil {
		return 0, err
	}
	emb2, err := e.embedder.Embed(ctx, text2)
	if err != nil {
		return 0, err
	}
	if len(emb1) != len(emb2) {
		return 0, models.ErrDimensionMismatch
	}

	a, err := search.Normalize(emb1)
	if err != nil {
		return 0, err
	}
	b, err := search.Normalize(emb2)
	if err != nil {
		return 0, err
	}
	return search.Cosine(a, b), nil
}

func classify(score float64) string {
	switch {
	case score >= 0.999:
		return ClassFullyRelevant
	case score >= 0.5:
		return ClassModerate
	default:
		return ClassIrrelevant
	}
}

func boolScore(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

func ratio(hits, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

func LoadDatasetFromJSON(data []byte) (*EvaluationDataset, error) {
	var dataset EvaluationDataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}
	return &dataset, nil
}

func GenerateReport(report *EvaluationReport) string {
	return fmt.Sprintf(`
Evaluation Report
=================

Total Queries: %d

Classifications:
- Irrelevant: %d (%.1f%%)
- Moderately Relevant: %d (%.1f%%)
- Fully Relevant: %d (%.1f%%)

Accuracy:
- Intent: %.1f%%
- Format: %.1f%%
- Expected content: %.1f%%

Average Confidence: %.2f
Cosine Similarity: %.3f
Degraded Responses: %d
Average Latency: %s
`,
		report.TotalQueries,
		report.IrrelevantCount, report.IrrelevantPercentage,
		report.ModerateCount, report.ModeratePercentage,
		report.FullyRelevantCount, report.FullyRelevantPercentage,
		report.IntentAccuracy*100,
		report.FormatAccuracy*100,
		report.AvgContainsScore*100,
		report.AvgConfidence,
		report.AvgCosineSimilarity,
		report.DegradedCount,
		report.AvgLatency,
	)
}
