package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fraud-pipeline/internal/model"
	"github.com/sells-group/fraud-pipeline/internal/serving"
	"github.com/sells-group/fraud-pipeline/internal/tracking"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve fraud predictions over HTTP",
	Long:  "Resolves the best tracked model (falling back to the local bundle) and serves POST /predict, health, model info, run summaries and metrics.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort > 0 {
			cfg.Serving.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		runs := trackingSource(ctx)
		if c, ok := runs.(interface{ Close() error }); ok {
			defer c.Close() //nolint:errcheck
		}

		resolver := serving.NewResolver(runs, cfg.Serving)
		srv := serving.NewServer(cfg.Serving, cfg.Tracking.Experiment, resolver, runs)
		return srv.Serve(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (overrides serving.port)")
	rootCmd.AddCommand(serveCmd)
}

// runStore is what the server reads from the tracking store.
type runStore interface {
	serving.RunSource
	serving.SummarySource
}

// trackingSource opens the tracking store. When it cannot be reached the
// server still starts and serves the local fallback bundle.
func trackingSource(ctx context.Context) runStore {
	tr, err := openTracker(ctx)
	if err != nil {
		zap.L().Warn("tracking store unavailable, serving local model only", zap.Error(err))
		return unavailableRuns{err: err}
	}
	return tr
}

// unavailableRuns answers every lookup with the error that prevented the
// tracking store from opening.
type unavailableRuns struct{ err error }

func (u unavailableRuns) GetExperimentByName(context.Context, string) (*model.Experiment, error) {
	return nil, u.err
}

func (u unavailableRuns) SearchRuns(context.Context, string, string, int) ([]model.Run, error) {
	return nil, u.err
}

func (u unavailableRuns) Summarize(context.Context, string) (*tracking.Summary, error) {
	return nil, u.err
}
