package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wzwatch/wenzheng-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "wenzheng-cli",
	Short: "Crawler for the provincial complaint board",
	Long:  "Fetches the organization tree and complaint threads from the wenzheng board API at a polite rate, stores them with conflict-aware upserts, and answers queries and exports over the result.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
