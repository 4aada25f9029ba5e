package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fraud-pipeline/internal/orchestrate"
)

var trainModelsFile string

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train every configured model and select the best by f1",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if trainModelsFile != "" {
			cfg.Training.ModelsFile = trainModelsFile
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := env.Steps.Train(ctx, uuid.NewString())
		if err != nil {
			return eris.Wrap(err, "train")
		}
		formatTrainSummary(os.Stdout, sum)
		return nil
	},
}

func init() {
	trainCmd.Flags().StringVar(&trainModelsFile, "models", "", "model configuration file (defaults to training.models_file)")
	rootCmd.AddCommand(trainCmd)
}

// formatTrainSummary writes the selected model and any failures to out.
func formatTrainSummary(out io.Writer, sum *orchestrate.TrainSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Best model:\t%s\n", sum.BestModel)
	_, _ = fmt.Fprintf(w, "Best run:\t%s\n", sum.BestRunID)
	_, _ = fmt.Fprintf(w, "F1:\t%.4f\n", sum.Metrics.F1)
	_, _ = fmt.Fprintf(w, "AUC:\t%.4f\n", sum.Metrics.AUC)
	_, _ = fmt.Fprintf(w, "Precision:\t%.4f\n", sum.Metrics.Precision)
	_, _ = fmt.Fprintf(w, "Recall:\t%.4f\n", sum.Metrics.Recall)
	_, _ = fmt.Fprintf(w, "Trained:\t%d\n", len(sum.Trained))

	names := make([]string, 0, len(sum.Failed))
	for name := range sum.Failed {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		_, _ = fmt.Fprintf(w, "  failed %s:\t%s\n", name, sum.Failed[name])
	}
	if sum.ExportErr != "" {
		_, _ = fmt.Fprintf(w, "Local export:\tfailed: %s\n", sum.ExportErr)
	}
	_ = w.Flush()
}
