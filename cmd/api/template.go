package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/policy-graphrag/backend/internal/kg/query"
	appLogger "github.com/policy-graphrag/backend/pkg/logger"
)

var templateParams map[string]string

var templateCmd = &cobra.Command{
	Use:   "template [id]",
	Short: "Run one graph query template by id, or list the templates",
	Example: `  graphrag template
  graphrag template coverage_total -p disease=급성심근경색증
  graphrag template all_coverages -p product=건강보험 -p limit=50`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if len(args) == 0 {
			for _, id := range query.TemplateIDs() {
				tmpl, _ := query.LookupTemplate(id)
				fmt.Fprintf(out, "%-22s %s\n", id, tmpl.Description)
			}
			return nil
		}

		cfg, err := setup()
		if err != nil {
			return err
		}
		defer appLogger.Sync()

		client, err := newNeo4jClient(cfg)
		if err != nil {
			return fmt.Errorf("failed to connect to neo4j: %w", err)
		}
		defer client.Close(context.Background())

		executor := query.NewExecutor(client, query.Config{Limit: cfg.Search.GraphLimit})
		res := executor.ExecuteTemplate(cmd.Context(), args[0], query.ParseValues(templateParams))

		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(res); err != nil {
			return err
		}
		if !res.Success && res.Error != nil {
			return res.Error
		}
		return nil
	},
}

func init() {
	templateCmd.Flags().StringToStringVarP(&templateParams, "param", "p", nil, "template parameter as key=value")
}
