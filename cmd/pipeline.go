package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fraud-pipeline/internal/orchestrate"
)

var (
	pipelineSource string
	pipelineSkip   bool
	pipelineRemote bool
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run load, view rebuild, training, validation and cleanup in order",
	Long: "Runs every pipeline stage in-process. With --remote the run is started as a " +
		"workflow on the configured Temporal task queue and the command waits for it.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		in := orchestrate.Input{PipelineID: uuid.NewString()}
		if !pipelineSkip {
			in.Source = cfg.ETL.Source
			if pipelineSource != "" {
				in.Source = pipelineSource
			}
		}

		if pipelineRemote {
			return runRemotePipeline(cmd, in)
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := orchestrate.Run(ctx, env.Steps, in)
		if err != nil {
			return eris.Wrap(err, "pipeline")
		}
		formatPipelineResult(os.Stdout, res)
		return nil
	},
}

func runRemotePipeline(cmd *cobra.Command, in orchestrate.Input) error {
	ctx := cmd.Context()
	if err := cfg.Validate("worker"); err != nil {
		return err
	}

	c, err := orchestrate.Dial(cfg.Temporal)
	if err != nil {
		return err
	}
	defer c.Close()

	run, err := orchestrate.Start(ctx, c, cfg.Temporal.TaskQueue, in)
	if err != nil {
		return eris.Wrap(err, "pipeline: start workflow")
	}
	_, _ = fmt.Fprintf(os.Stderr, "Waiting for workflow %s (run %s)...\n", run.GetID(), run.GetRunID())

	var res orchestrate.Result
	if err := run.Get(ctx, &res); err != nil {
		return eris.Wrap(err, "pipeline: workflow")
	}
	formatPipelineResult(os.Stdout, &res)
	return nil
}

func init() {
	pipelineCmd.Flags().StringVar(&pipelineSource, "source", "", "CSV path or URL (defaults to etl.source)")
	pipelineCmd.Flags().BoolVar(&pipelineSkip, "skip-load", false, "reuse the existing raw table")
	pipelineCmd.Flags().BoolVar(&pipelineRemote, "remote", false, "run as a Temporal workflow and wait for the result")
	rootCmd.AddCommand(pipelineCmd)
}

// formatPipelineResult writes a per-stage summary of a pipeline run to out.
func formatPipelineResult(out io.Writer, res *orchestrate.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Pipeline:\t%s\n", res.PipelineID)
	if res.Load != nil {
		_, _ = fmt.Fprintf(w, "Loaded:\t%d rows from %s\n", res.Load.Rows, res.Load.Source)
	} else {
		_, _ = fmt.Fprintln(w, "Loaded:\tskipped")
	}
	if t := res.Training; t != nil {
		_, _ = fmt.Fprintf(w, "Best model:\t%s (f1 %.4f)\n", t.BestModel, t.Metrics.F1)
		_, _ = fmt.Fprintf(w, "Best run:\t%s\n", t.BestRunID)
		if len(t.Failed) > 0 {
			_, _ = fmt.Fprintf(w, "Failed models:\t%d\n", len(t.Failed))
		}
	}
	if v := res.Validation; v != nil {
		status := "ok"
		if !v.Sufficient {
			status = "insufficient"
		}
		_, _ = fmt.Fprintf(w, "Validation:\t%d fraud / %d legit (%s)\n", v.Fraud, v.Legit, status)
	}
	if res.Cleaned > 0 {
		_, _ = fmt.Fprintf(w, "Cleaned:\t%d stale files\n", res.Cleaned)
	}
	_, _ = fmt.Fprintf(w, "Duration:\t%s\n", res.Duration.Round(time.Second))
	_ = w.Flush()
}
