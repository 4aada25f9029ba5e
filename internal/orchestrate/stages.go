// Package orchestrate runs the fraud pipeline stages in order, either
// directly or as a Temporal workflow on a schedule.
//
// Loading raw data and rebuilding the feature view replace shared database
// objects, so at most one pipeline may run at a time. The workflow enforces
// this with a fixed workflow id; the sequential runner relies on its caller.
package orchestrate

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fraud-pipeline/internal/config"
	"github.com/sells-group/fraud-pipeline/internal/etl"
	"github.com/sells-group/fraud-pipeline/internal/fetcher"
	"github.com/sells-group/fraud-pipeline/internal/model"
	"github.com/sells-group/fraud-pipeline/internal/training"
	"github.com/sells-group/fraud-pipeline/internal/warehouse"
)

// Stages are the pipeline steps in execution order.
type Stages interface {
	CheckStore(ctx context.Context) error
	LoadRaw(ctx context.Context, source string) (*etl.LoadResult, error)
	RebuildView(ctx context.Context) error
	Train(ctx context.Context, pipelineID string) (*TrainSummary, error)
	Validate(ctx context.Context) (*etl.ValidationReport, error)
	Cleanup(ctx context.Context) (int, error)
}

// TrainSummary is the serialisable outcome of the training stage.
type TrainSummary struct {
	BestRunID string            `json:"best_run_id"`
	BestModel string            `json:"best_model"`
	Metrics   model.MetricSet   `json:"metrics"`
	Trained   []string          `json:"trained"`
	Failed    map[string]string `json:"failed,omitempty"`
	ExportErr string            `json:"export_error,omitempty"`
}

// staleAfter is how old a leftover staging file must be before Cleanup
// removes it, so a concurrent writer's directory is never touched.
const staleAfter = time.Hour

// Steps implements Stages over the warehouse and tracking store.
type Steps struct {
	wh      warehouse.Warehouse
	tracker training.RunTracker
	cfg     *config.Config
	fetch   fetcher.Options
}

// NewSteps creates the pipeline stages.
func NewSteps(wh warehouse.Warehouse, tracker training.RunTracker, cfg *config.Config) *Steps {
	return &Steps{
		wh:      wh,
		tracker: tracker,
		cfg:     cfg,
		fetch: fetcher.Options{
			HTTP: fetcher.HTTPOptions{Timeout: time.Duration(cfg.ETL.HTTPTimeoutSecs) * time.Second},
			FTP:  fetcher.FTPOptions{Timeout: time.Duration(cfg.ETL.HTTPTimeoutSecs) * time.Second},
		},
	}
}

// CheckStore verifies the warehouse answers.
func (s *Steps) CheckStore(ctx context.Context) error {
	if err := s.wh.Ping(ctx); err != nil {
		return model.NewError(model.KindConnection, "orchestrate: check store", err)
	}
	return nil
}

// LoadRaw replaces the raw table with source.
func (s *Steps) LoadRaw(ctx context.Context, source string) (*etl.LoadResult, error) {
	return etl.NewLoader(s.wh, s.fetch).Load(ctx, source)
}

// RebuildView recreates the feature view.
func (s *Steps) RebuildView(ctx context.Context) error {
	return s.wh.RebuildFeatureView(ctx)
}

// Train reads the feature view, trains every configured model and exports
// the winner as the local fallback bundle.
func (s *Steps) Train(ctx context.Context, pipelineID string) (*TrainSummary, error) {
	configs, err := training.LoadModelConfigs(s.cfg.Training.ModelsFile)
	if err != nil {
		return nil, model.NewError(model.KindTraining, "orchestrate: train", err)
	}
	rows, err := s.wh.ReadFeatures(ctx)
	if err != nil {
		return nil, err
	}

	h := training.NewHarness(s.tracker, s.cfg.Tracking.Experiment,
		training.WithThreshold(s.cfg.Training.Threshold),
		training.WithSeed(s.cfg.Training.Seed),
		training.WithPipelineID(pipelineID),
	)
	sel, err := training.NewSelector(h, s.cfg.Training.TestRatio, s.cfg.Training.Seed, s.cfg.Serving.LocalModelDir).
		Select(ctx, rows, configs)
	if err != nil {
		return nil, err
	}
	return summarize(sel), nil
}

func summarize(sel *training.Selection) *TrainSummary {
	sum := &TrainSummary{
		BestRunID: sel.BestRunID,
		BestModel: sel.Best.Config.Name,
		Metrics:   sel.Best.Metrics,
	}
	for _, r := range sel.Results {
		sum.Trained = append(sum.Trained, r.Config.Name)
	}
	if len(sel.Failures) > 0 {
		sum.Failed = make(map[string]string, len(sel.Failures))
		for _, f := range sel.Failures {
			sum.Failed[f.Name] = f.Err.Error()
		}
	}
	if sel.ExportErr != nil {
		sum.ExportErr = sel.ExportErr.Error()
	}
	return sum
}

// Validate checks the class balance of the feature view.
func (s *Steps) Validate(ctx context.Context) (*etl.ValidationReport, error) {
	return etl.Validate(ctx, s.wh, s.cfg.ETL.MinFraudRows)
}

// Cleanup removes staging files abandoned by interrupted loads and exports.
func (s *Steps) Cleanup(_ context.Context) (int, error) {
	patterns := []string{
		filepath.Join(os.TempDir(), "fraud-source-*.zip"),
		filepath.Join(s.cfg.Tracking.ArtifactRoot, "*", "*", "artifacts", ".model-*"),
	}
	if dir := s.cfg.Serving.LocalModelDir; dir != "" {
		patterns = append(patterns, filepath.Join(filepath.Dir(dir), ".local-*"), dir+".old")
	}
	return removeStale(patterns, time.Now().Add(-staleAfter))
}

// removeStale deletes every path matching patterns that was last modified
// before cutoff and returns how many were removed.
func removeStale(patterns []string, cutoff time.Time) (int, error) {
	var removed int
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return removed, eris.Wrapf(err, "orchestrate: glob %s", p)
		}
		for _, m := range matches {
			fi, err := os.Stat(m)
			if err != nil || fi.ModTime().After(cutoff) {
				continue
			}
			if err := os.RemoveAll(m); err != nil {
				return removed, eris.Wrapf(err, "orchestrate: remove %s", m)
			}
			zap.L().Debug("orchestrate: removed stale staging path", zap.String("path", m))
			removed++
		}
	}
	return removed, nil
}
