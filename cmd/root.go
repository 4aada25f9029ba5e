package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fraud-pipeline/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "fraud-pipeline",
	Short: "Fraud detection ETL, training and inference",
	Long: `Loads card transactions into the warehouse, rebuilds the feature view,
trains every configured classifier under one tracked experiment, keeps the
run with the best f1, and serves it over HTTP.

Settings come from ./config.yaml and FRAUD_* environment variables
(FRAUD_DATABASE_DRIVER=sqlite runs everything against local files).`,
	Example: `  # one-off local run
  fraud-pipeline pipeline --source data/creditcard.csv

  # retrain on the loaded rows, then serve on :8000
  fraud-pipeline pipeline --skip-load
  fraud-pipeline serve

  # scheduled retraining through Temporal
  fraud-pipeline worker --schedule`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		if err := config.InitLogger(c.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		cfg = c
		zap.L().Debug("config loaded",
			zap.String("command", cmd.CommandPath()),
			zap.String("database", c.Database.Driver),
			zap.String("tracking", c.Tracking.Driver),
			zap.String("experiment", c.Tracking.Experiment),
		)
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
