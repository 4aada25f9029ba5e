package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/fraud-pipeline/internal/orchestrate"
)

var workerSchedule bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker that executes pipeline workflows",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("worker"); err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := orchestrate.Dial(cfg.Temporal)
		if err != nil {
			return err
		}
		defer c.Close()

		if workerSchedule {
			if _, err := orchestrate.EnsureSchedule(ctx, c, cfg.Temporal, orchestrate.Input{Source: cfg.ETL.Source}); err != nil {
				return err
			}
		}

		w := orchestrate.NewWorker(c, cfg.Temporal.TaskQueue, env.Steps)
		zap.L().Info("worker started", zap.String("task_queue", cfg.Temporal.TaskQueue))
		if err := w.Run(worker.InterruptCh()); err != nil {
			return eris.Wrap(err, "worker")
		}
		return nil
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerSchedule, "schedule", false, "create the recurring pipeline schedule if it does not exist")
	rootCmd.AddCommand(workerCmd)
}
