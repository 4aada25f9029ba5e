package training

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fraud-pipeline/internal/features"
	"github.com/sells-group/fraud-pipeline/internal/model"
	"github.com/sells-group/fraud-pipeline/internal/modelio"
)

// Failure records a configuration that could not be trained.
type Failure struct {
	Name string
	Err  error
}

// Selection is the full outcome of one selector run.
type Selection struct {
	BestRunID string
	Best      *Result
	Results   []*Result
	Failures  []Failure
	// ExportErr is set when the local fallback bundle could not be written.
	ExportErr error
	Duration  time.Duration
}

// Selector trains every configuration on one shared split and keeps the
// run with the highest f1.
type Selector struct {
	harness   *Harness
	testRatio float64
	seed      uint64
	localDir  string
}

// NewSelector creates a selector. When localDir is set the winning model is
// also exported there as the serving fallback bundle.
func NewSelector(h *Harness, testRatio float64, seed uint64, localDir string) *Selector {
	return &Selector{harness: h, testRatio: testRatio, seed: seed, localDir: localDir}
}

// Run trains configs in declaration order and returns the best run id.
func (s *Selector) Run(ctx context.Context, rows []model.FeatureRecord, configs []model.ModelConfig) (string, error) {
	sel, err := s.Select(ctx, rows, configs)
	if err != nil {
		return "", err
	}
	return sel.BestRunID, nil
}

// Select is Run with the per-configuration details.
func (s *Selector) Select(ctx context.Context, rows []model.FeatureRecord, configs []model.ModelConfig) (*Selection, error) {
	const op = "training: select"
	start := time.Now()
	log := zap.L().With(zap.String("component", "selector"))

	if err := model.ValidateConfigs(configs); err != nil {
		return nil, model.NewError(model.KindTraining, op, err)
	}
	split, err := features.Prepare(rows, s.testRatio, s.seed)
	if err != nil {
		return nil, model.NewError(model.KindTraining, op, err)
	}
	log.Info("selector: split prepared",
		zap.Int("train_rows", split.Train.Len()),
		zap.Int("test_rows", split.Test.Len()),
		zap.Int("configs", len(configs)),
	)

	sel := &Selection{}
	var best *Result
	for _, cfg := range configs {
		res, err := s.harness.TrainAndEvaluate(ctx, cfg, split)
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), op)
			}
			log.Warn("selector: model skipped", zap.String("model", cfg.Name), zap.Error(err))
			sel.Failures = append(sel.Failures, Failure{Name: cfg.Name, Err: err})
			continue
		}
		sel.Results = append(sel.Results, res)
		best = better(best, res)
	}
	if best == nil {
		return nil, model.NewError(model.KindTraining, op, model.ErrNoViableModel)
	}
	sel.Best = best
	sel.BestRunID = best.RunID

	if s.localDir != "" {
		if err := modelio.ExportLocal(s.localDir, best.Artifact); err != nil {
			sel.ExportErr = err
			log.Error("selector: local fallback export failed", zap.Error(err))
		}
	}
	sel.Duration = time.Since(start)

	log.Info("selector: best model selected",
		zap.String("model", best.Config.Name),
		zap.String("run_id", best.RunID),
		zap.Float64("f1", best.Metrics.F1),
		zap.Int("trained", len(sel.Results)),
		zap.Int("failed", len(sel.Failures)),
		zap.Duration("duration", sel.Duration),
	)
	return sel, nil
}

// better returns the result to keep. Only a strictly higher f1 replaces the
// current best, so the earliest declared model wins ties.
func better(best, candidate *Result) *Result {
	if best == nil || candidate.Metrics.F1 > best.Metrics.F1 {
		return candidate
	}
	return best
}
