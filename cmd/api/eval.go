package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/policy-graphrag/backend/internal/evaluation"
	"github.com/policy-graphrag/backend/internal/llm"
	"github.com/policy-graphrag/backend/internal/search"
	appLogger "github.com/policy-graphrag/backend/pkg/logger"
)

var (
	evalConcurrency int
	evalSimilarity  bool
	evalJSON        bool
)

var evalCmd = &cobra.Command{
	Use:   "eval [dataset.json]",
	Short: "Replay a labelled question set and report answer quality",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read dataset: %w", err)
		}
		dataset, err := evaluation.LoadDatasetFromJSON(data)
		if err != nil {
			return err
		}

		cfg, err := setup()
		if err != nil {
			return err
		}
		defer appLogger.Sync()

		p := buildPipeline(cmd.Context(), cfg)
		defer p.Close()

		var embedder search.Embedder
		if evalSimilarity {
			embedder = llm.NewClient(llm.Config{
				APIKey:     cfg.Embedding.APIKey,
				BaseURL:    cfg.Embedding.BaseURL,
				Model:      cfg.Embedding.Model,
				Dimensions: cfg.Embedding.Dimensions,
				Timeout:    time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
			})
		}

		report, err := evaluation.NewEvaluator(p.orchestrator, embedder, evalConcurrency).
			RunDatasetEvaluation(cmd.Context(), dataset)
		if err != nil {
			return err
		}

		if evalJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(report)
		}
		fmt.Fprint(cmd.OutOrStdout(), evaluation.GenerateReport(report))
		return nil
	},
}

func init() {
	evalCmd.Flags().IntVarP(&evalConcurrency, "concurrency", "c", 4, "questions evaluated in parallel")
	evalCmd.Flags().BoolVar(&evalSimilarity, "similarity", false, "embed answers and ground truth to report cosine similarity")
	evalCmd.Flags().BoolVar(&evalJSON, "json", false, "print the full report as JSON")
}
