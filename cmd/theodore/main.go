package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AntoineDubuc/theodore/internal/config"
)

// Exit codes for the research subcommand.
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "theodore",
	Short: "Company intelligence research pipeline",
	Long: "Researches a company from its website: discovers the site's URL surface, " +
		"selects and extracts the most informative pages, aggregates them into a " +
		"structured intelligence record, and persists it to the hybrid vector store.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if v, _ := cmd.Flags().GetString("primary-model"); v != "" {
			cfg.LLM.PrimaryModel = v
		}
		if v, _ := cmd.Flags().GetString("fallback-model"); v != "" {
			cfg.LLM.FallbackModel = v
		}

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().String("primary-model", "", "override primary LLM model name (e.g. claude-3-5-sonnet-latest)")
	rootCmd.PersistentFlags().String("fallback-model", "", "override fallback LLM model name (e.g. claude-3-5-haiku-latest)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitFailed)
	}
}
