// Package training fits and evaluates model configurations under one
// harness and selects the best of them by f1.
package training

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fraud-pipeline/internal/classifier"
	"github.com/sells-group/fraud-pipeline/internal/evaluate"
	"github.com/sells-group/fraud-pipeline/internal/features"
	"github.com/sells-group/fraud-pipeline/internal/model"
	"github.com/sells-group/fraud-pipeline/internal/modelio"
	"github.com/sells-group/fraud-pipeline/internal/tracking"
)

// RunTracker is the part of the tracking surface the harness writes to.
type RunTracker interface {
	CreateRun(ctx context.Context, experiment, name string) (string, error)
	SetTags(ctx context.Context, runID string, tags map[string]string) error
	LogParams(ctx context.Context, runID string, params map[string]any) error
	LogMetrics(ctx context.Context, runID string, metrics map[string]float64) error
	LogModel(ctx context.Context, runID string, artifact tracking.Artifact, flavor string) (string, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus) error
}

// Factory builds an untrained classifier, validating its params.
type Factory func(family model.Family, params map[string]any, seed uint64) (classifier.Classifier, error)

// Result is the outcome of one trained configuration.
type Result struct {
	RunID       string
	Config      model.ModelConfig
	Metrics     model.MetricSet
	Classifier  classifier.Classifier
	Artifact    *modelio.Artifact
	ArtifactURI string
	// ArtifactErr is set when the model trained but could not be persisted.
	ArtifactErr error
	Duration    time.Duration
}

// Harness trains one configuration per call inside its own tracked run.
type Harness struct {
	tracker    RunTracker
	experiment string
	threshold  float64
	seed       uint64
	pipelineID string
	factory    Factory
}

// Option configures a Harness.
type Option func(*Harness)

// WithThreshold sets the probability above which a row counts as fraud.
func WithThreshold(t float64) Option { return func(h *Harness) { h.threshold = t } }

// WithSeed seeds every stochastic family.
func WithSeed(seed uint64) Option { return func(h *Harness) { h.seed = seed } }

// WithPipelineID tags every run with the pipeline execution that produced it.
func WithPipelineID(id string) Option { return func(h *Harness) { h.pipelineID = id } }

// WithFactory replaces the classifier constructor.
func WithFactory(f Factory) Option { return func(h *Harness) { h.factory = f } }

// NewHarness creates a harness that records runs in experiment.
func NewHarness(tracker RunTracker, experiment string, opts ...Option) *Harness {
	h := &Harness{
		tracker:    tracker,
		experiment: experiment,
		threshold:  0.5,
		seed:       42,
		factory: func(f model.Family, p map[string]any, seed uint64) (classifier.Classifier, error) {
			return classifier.New(f, p, seed)
		},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// TrainAndEvaluate fits cfg on split.Train, scores it on split.Test and
// records everything in a single run. Invalid configs fail before a run is
// opened. A fit or metric failure marks the run failed and returns a
// training error; an artifact failure leaves the run finished with its
// metrics and is reported in Result.ArtifactErr.
func (h *Harness) TrainAndEvaluate(ctx context.Context, cfg model.ModelConfig, split *features.Split) (*Result, error) {
	const op = "training: train and evaluate"
	start := time.Now()
	log := zap.L().With(zap.String("component", "training"), zap.String("model", cfg.Name))

	if err := cfg.Validate(); err != nil {
		return nil, model.NewError(model.KindTraining, op, err)
	}
	clf, err := h.factory(cfg.Family, cfg.Params, h.seed)
	if err != nil {
		return nil, model.NewError(model.KindTraining, op, err)
	}

	runID, err := h.tracker.CreateRun(ctx, h.experiment, cfg.Name)
	if err != nil {
		return nil, err
	}
	res := &Result{RunID: runID, Config: cfg, Classifier: clf}
	log = log.With(zap.String("run_id", runID))

	// Any failure from here on leaves a failed run behind.
	fail := func(kind model.ErrorKind, err error) (*Result, error) {
		if ferr := h.tracker.FinishRun(context.WithoutCancel(ctx), runID, model.RunStatusFailed); ferr != nil {
			log.Warn("training: could not mark run failed", zap.Error(ferr))
		}
		log.Error("training: run failed", zap.Error(err))
		return nil, model.NewError(kind, op, err)
	}

	if err := h.tracker.SetTags(ctx, runID, map[string]string{model.TagModelType: cfg.ModelTypeTag()}); err != nil {
		return fail(model.KindConnection, err)
	}
	tags := map[string]string{model.TagFamily: string(cfg.Family)}
	if h.pipelineID != "" {
		tags[model.TagPipelineID] = h.pipelineID
	}
	for k, v := range cfg.Tags {
		if k != model.TagModelType {
			tags[k] = v
		}
	}
	if err := h.tracker.SetTags(ctx, runID, tags); err != nil {
		return fail(model.KindConnection, err)
	}
	if err := h.tracker.LogParams(ctx, runID, clf.Params()); err != nil {
		return fail(model.KindConnection, err)
	}

	log.Info("training: fitting",
		zap.String("family", string(cfg.Family)),
		zap.Int("train_rows", split.Train.Len()),
		zap.Int("train_fraud", split.Train.Positives()),
	)
	if err := clf.Fit(ctx, split.Train); err != nil {
		return fail(model.KindTraining, eris.Wrap(err, "fit"))
	}
	proba, err := clf.PredictProba(split.Test.X)
	if err != nil {
		return fail(model.KindTraining, eris.Wrap(err, "predict"))
	}
	metrics, err := evaluate.Compute(split.Test.Y, proba, h.threshold)
	if err != nil {
		return fail(model.KindTraining, eris.Wrap(err, "evaluate"))
	}
	res.Metrics = metrics
	if err := h.tracker.LogMetrics(ctx, runID, metrics.Map()); err != nil {
		return fail(model.KindConnection, err)
	}

	res.Artifact = &modelio.Artifact{
		Classifier: clf,
		Columns:    split.Columns(),
		Scaler:     split.Scaler,
		ModelType:  cfg.ModelTypeTag(),
	}
	uri, err := h.tracker.LogModel(ctx, runID, res.Artifact, res.Artifact.Flavor())
	if err != nil {
		res.ArtifactErr = err
		log.Error("training: model artifact not persisted", zap.Error(err))
		if terr := h.tracker.SetTags(ctx, runID, map[string]string{model.TagArtifactStatus: model.ArtifactStatusMissing}); terr != nil {
			log.Warn("training: could not tag missing artifact", zap.Error(terr))
		}
	}
	res.ArtifactURI = uri

	if err := h.tracker.FinishRun(ctx, runID, model.RunStatusFinished); err != nil {
		return nil, model.NewError(model.KindConnection, op, err)
	}
	res.Duration = time.Since(start)

	log.Info("training: run finished",
		zap.Float64("auc", metrics.AUC),
		zap.Float64("f1", metrics.F1),
		zap.Float64("precision", metrics.Precision),
		zap.Float64("recall", metrics.Recall),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}
