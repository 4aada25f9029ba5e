package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fraud-pipeline/internal/model"
	"github.com/sells-group/fraud-pipeline/internal/tracking"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect tracked training runs",
	Long:  "Commands for listing, viewing, and summarizing the training runs of the experiment.",
	Example: `  fraud-pipeline runs list --limit 10
  fraud-pipeline runs best
  fraud-pipeline runs show 3f2a9c1e-...`,
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List training runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		tr, err := openTracker(ctx)
		if err != nil {
			return err
		}
		defer tr.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := tr.ListRuns(ctx, cfg.Tracking.Experiment, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		tr, err := openTracker(ctx)
		if err != nil {
			return err
		}
		defer tr.Close() //nolint:errcheck

		run, err := tr.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs best --

var runsBestCmd = &cobra.Command{
	Use:   "best",
	Short: "Show the finished run with the highest f1",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		tr, err := openTracker(ctx)
		if err != nil {
			return err
		}
		defer tr.Close() //nolint:errcheck

		runs, err := tr.SearchRuns(ctx, cfg.Tracking.Experiment, model.MetricF1, 1)
		if err != nil {
			return eris.Wrap(err, "runs best")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No finished runs found.")
			return nil
		}
		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show run counts and the best f1 per model type",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		tr, err := openTracker(ctx)
		if err != nil {
			return err
		}
		defer tr.Close() //nolint:errcheck

		sum, err := tr.Summarize(ctx, cfg.Tracking.Experiment)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}
		formatRunSummary(os.Stdout, sum)
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display (0 for all)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsBestCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tMODEL_TYPE\tSTATUS\tF1\tAUC\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t----\t----------\t------\t--\t---\t-------\t--------")

	for _, r := range runs {
		dur := "-"
		if r.EndedAt != nil {
			dur = r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		name := r.Name
		if len(name) > 30 {
			name = name[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			name,
			r.ModelType(),
			r.Status,
			metricCell(r.Metrics, model.MetricF1),
			metricCell(r.Metrics, model.MetricAUC),
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

func metricCell(metrics map[string]float64, key string) string {
	v, ok := metrics[key]
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%.4f", v)
}

// formatRunSummary writes aggregate stats to w.
func formatRunSummary(out io.Writer, s *tracking.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Experiment:\t%s\n", s.Experiment)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Runs)
	for _, status := range []model.RunStatus{model.RunStatusFinished, model.RunStatusFailed, model.RunStatusRunning} {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", status, s.ByStatus[string(status)])
	}
	if s.Best != nil {
		_, _ = fmt.Fprintf(w, "Best run:\t%s (%s, f1 %.4f)\n",
			truncateID(s.Best.ID), s.Best.ModelType(), s.Best.Metrics[model.MetricF1])
	}

	families := make([]string, 0, len(s.ByFamily))
	for f := range s.ByFamily {
		families = append(families, f)
	}
	sort.Strings(families)
	for _, f := range families {
		_, _ = fmt.Fprintf(w, "Best f1 %s:\t%.4f\n", f, s.ByFamily[f])
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a run id for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
