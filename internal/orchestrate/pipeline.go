package orchestrate

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fraud-pipeline/internal/etl"
)

// Input parameterises one pipeline execution.
type Input struct {
	// Source is the raw CSV to load. Empty skips loading and trains on the
	// data already in the warehouse.
	Source     string `json:"source"`
	PipelineID string `json:"pipeline_id"`
}

// Result is the outcome of one pipeline execution.
type Result struct {
	PipelineID string                `json:"pipeline_id"`
	Load       *etl.LoadResult       `json:"load,omitempty"`
	Training   *TrainSummary         `json:"training"`
	Validation *etl.ValidationReport `json:"validation"`
	Cleaned    int                   `json:"cleaned"`
	Duration   time.Duration         `json:"duration"`
}

// Run executes the stages in order: check store, load, rebuild view, train,
// validate, clean up. The first failing stage stops the run, except that a
// failed cleanup is only logged.
func Run(ctx context.Context, st Stages, in Input) (*Result, error) {
	start := time.Now()
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("pipeline_id", in.PipelineID))
	res := &Result{PipelineID: in.PipelineID}

	step := func(name string, fn func() error) error {
		t := time.Now()
		log.Info("pipeline: step started", zap.String("step", name))
		if err := fn(); err != nil {
			log.Error("pipeline: step failed", zap.String("step", name), zap.Error(err))
			return eris.Wrapf(err, "pipeline: %s", name)
		}
		log.Info("pipeline: step complete", zap.String("step", name), zap.Duration("elapsed", time.Since(t)))
		return nil
	}

	if err := step("check_store", func() error { return st.CheckStore(ctx) }); err != nil {
		return nil, err
	}
	if in.Source != "" {
		if err := step("load", func() (err error) {
			res.Load, err = st.LoadRaw(ctx, in.Source)
			return err
		}); err != nil {
			return nil, err
		}
	}
	if err := step("rebuild_view", func() error { return st.RebuildView(ctx) }); err != nil {
		return nil, err
	}
	if err := step("train", func() (err error) {
		res.Training, err = st.Train(ctx, in.PipelineID)
		return err
	}); err != nil {
		return nil, err
	}
	if err := step("validate", func() (err error) {
		res.Validation, err = st.Validate(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	if err := step("cleanup", func() (err error) {
		res.Cleaned, err = st.Cleanup(ctx)
		return err
	}); err != nil {
		log.Warn("pipeline: cleanup incomplete", zap.Error(err))
	}

	res.Duration = time.Since(start)
	log.Info("pipeline: complete",
		zap.String("best_run_id", res.Training.BestRunID),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}
