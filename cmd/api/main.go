package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/policy-graphrag/backend/internal/metrics"
	"github.com/policy-graphrag/backend/pkg/config"
	appLogger "github.com/policy-graphrag/backend/pkg/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "graphrag",
	Short: "GraphRAG query engine over the insurance knowledge graph",
	Long: `Answers natural-language questions about insurance products by combining
knowledge-graph traversal with clause vector search.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml, ./config/config.yaml or /etc/policy-graphrag/config.yaml)")
	rootCmd.AddCommand(serveCmd, askCmd, evalCmd, templateCmd)
}

// setup loads configuration and initialises logging and metrics.
func setup() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	metrics.Init()
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
