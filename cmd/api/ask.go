package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/policy-graphrag/backend/internal/analyzer"
	"github.com/policy-graphrag/backend/internal/orchestrator"
	appLogger "github.com/policy-graphrag/backend/pkg/logger"
)

var (
	askStrategy     string
	askNoCache      bool
	askIntermediate bool
	askMaxResults   int
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer one question and print the response as JSON",
	Example: `  graphrag ask "급성심근경색증 보장 금액은?"
  graphrag ask --strategy comprehensive --intermediate "위암과 폐암 보장 비교"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		defer appLogger.Sync()

		req := orchestrator.NewRequest(strings.Join(args, " "))
		if askStrategy != "" {
			st, ok := orchestrator.ParseStrategy(askStrategy)
			if !ok {
				return fmt.Errorf("unknown strategy %q", askStrategy)
			}
			req.Strategy = st
		}
		req.UseCache = !askNoCache
		req.IncludeIntermediate = askIntermediate
		if askMaxResults > 0 {
			req.MaxSearchResults = askMaxResults
		}

		ctx := cmd.Context()
		p := buildPipeline(ctx, cfg)
		defer p.Close()

		resp := p.orchestrator.Process(ctx, req)
		if resp.Analysis != nil {
			fmt.Fprintln(os.Stderr, analyzer.Describe(*resp.Analysis))
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(resp)
	},
}

func init() {
	askCmd.Flags().StringVarP(&askStrategy, "strategy", "s", "", "STANDARD, FAST, COMPREHENSIVE or FALLBACK")
	askCmd.Flags().BoolVar(&askNoCache, "no-cache", false, "bypass the response cache")
	askCmd.Flags().BoolVar(&askIntermediate, "intermediate", false, "include analysis and search results")
	askCmd.Flags().IntVarP(&askMaxResults, "max-results", "n", 0, "number of search results to use")
}
