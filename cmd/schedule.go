package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/fraud-pipeline/internal/orchestrate"
)

var (
	scheduleDelete   bool
	scheduleSkipLoad bool
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Create or delete the recurring pipeline schedule",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("worker"); err != nil {
			return err
		}

		c, err := orchestrate.Dial(cfg.Temporal)
		if err != nil {
			return err
		}
		defer c.Close()

		if scheduleDelete {
			if err := orchestrate.DeleteSchedule(ctx, c, cfg.Temporal.ScheduleID); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Schedule %s deleted.\n", cfg.Temporal.ScheduleID)
			return nil
		}

		in := orchestrate.Input{}
		if !scheduleSkipLoad {
			in.Source = cfg.ETL.Source
		}
		created, err := orchestrate.EnsureSchedule(ctx, c, cfg.Temporal, in)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(os.Stdout, "Schedule %s created (every %dh).\n", cfg.Temporal.ScheduleID, cfg.Temporal.ScheduleEveryHours)
		} else {
			fmt.Fprintf(os.Stdout, "Schedule %s already exists.\n", cfg.Temporal.ScheduleID)
		}
		return nil
	},
}

func init() {
	scheduleCmd.Flags().BoolVar(&scheduleDelete, "delete", false, "delete the schedule instead of creating it")
	scheduleCmd.Flags().BoolVar(&scheduleSkipLoad, "skip-load", false, "scheduled runs retrain on the existing raw table")
	rootCmd.AddCommand(scheduleCmd)
}
