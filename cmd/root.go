package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/delivery-insights/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "delivery-insights",
	Short: "Delivery failure root-cause attribution",
	Long:  "Correlates orders, fleet telemetry, warehouse logs, external conditions, and customer feedback into ranked, explainable cause attributions and aggregate failure analysis.",
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
