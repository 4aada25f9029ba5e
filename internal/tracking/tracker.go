package tracking

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fraud-pipeline/internal/config"
	"github.com/sells-group/fraud-pipeline/internal/db"
	"github.com/sells-group/fraud-pipeline/internal/model"
)

// Tracker is the tracking surface used by training and serving. It resolves
// experiments by name and stores model artifacts next to the run records.
type Tracker struct {
	store     Store
	artifacts *ArtifactStore
}

// New creates a Tracker over an already-migrated store.
func New(store Store, artifacts *ArtifactStore) *Tracker {
	return &Tracker{store: store, artifacts: artifacts}
}

// Open connects to the tracking backend selected by cfg.Driver and migrates it.
func Open(ctx context.Context, cfg config.TrackingConfig) (*Tracker, error) {
	var store Store
	switch cfg.Driver {
	case "postgres":
		pool, err := db.Connect(ctx, cfg.DatabaseURL, 0)
		if err != nil {
			return nil, model.NewError(model.KindConnection, "tracking: connect", err)
		}
		store = NewPostgres(pool)
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, eris.Wrap(err, "tracking: create store dir")
			}
		}
		s, err := NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, model.NewError(model.KindConnection, "tracking: connect", err)
		}
		store = s
	default:
		return nil, eris.Errorf("tracking: unsupported driver %q", cfg.Driver)
	}

	if err := store.Migrate(ctx); err != nil {
		store.Close() //nolint:errcheck
		return nil, model.NewError(model.KindConnection, "tracking: migrate", err)
	}
	return New(store, NewArtifactStore(cfg.ArtifactRoot)), nil
}

// Close releases the underlying store.
func (t *Tracker) Close() error {
	return t.store.Close()
}

// GetExperimentByName returns the experiment or an error wrapping ErrExperimentNotFound.
func (t *Tracker) GetExperimentByName(ctx context.Context, name string) (*model.Experiment, error) {
	return t.store.GetExperimentByName(ctx, name)
}

// CreateRun opens a running run in the named experiment, creating the
// experiment on first use, and returns the run id.
func (t *Tracker) CreateRun(ctx context.Context, experiment, name string) (string, error) {
	exp, err := t.store.EnsureExperiment(ctx, experiment)
	if err != nil {
		return "", model.NewError(model.KindConnection, "tracking: create run", err)
	}
	run, err := t.store.CreateRun(ctx, exp.ID, name)
	if err != nil {
		return "", model.NewError(model.KindConnection, "tracking: create run", err)
	}
	zap.L().Debug("tracking: run created",
		zap.String("experiment", experiment),
		zap.String("run_id", run.ID),
		zap.String("name", name),
	)
	return run.ID, nil
}

// LogParams records hyperparameters. Values are stored in their printed form.
func (t *Tracker) LogParams(ctx context.Context, runID string, params map[string]any) error {
	flat := make(map[string]string, len(params))
	for k, v := range params {
		flat[k] = fmt.Sprint(v)
	}
	return eris.Wrap(t.store.LogParams(ctx, runID, flat), "tracking: log params")
}

// SetTags merges tags into the run.
func (t *Tracker) SetTags(ctx context.Context, runID string, tags map[string]string) error {
	return eris.Wrap(t.store.SetTags(ctx, runID, tags), "tracking: set tags")
}

// LogMetrics merges metrics into the run.
func (t *Tracker) LogMetrics(ctx context.Context, runID string, metrics map[string]float64) error {
	return eris.Wrap(t.store.LogMetrics(ctx, runID, metrics), "tracking: log metrics")
}

// LogModel persists the artifact under the run and records its URI and flavor.
// Every failure is an ArtifactError.
func (t *Tracker) LogModel(ctx context.Context, runID string, artifact Artifact, flavor string) (string, error) {
	run, err := t.store.GetRun(ctx, runID)
	if err != nil {
		return "", model.NewError(model.KindArtifact, "tracking: log model", err)
	}
	uri, err := t.artifacts.Write(run.ExperimentID, runID, artifact)
	if err != nil {
		return "", model.NewError(model.KindArtifact, "tracking: log model", err)
	}
	if err := t.store.SetArtifactURI(ctx, runID, uri); err != nil {
		return "", model.NewError(model.KindArtifact, "tracking: log model", err)
	}
	err = t.store.SetTags(ctx, runID, map[string]string{
		model.TagFlavor:         flavor,
		model.TagArtifactStatus: model.ArtifactStatusLogged,
	})
	if err != nil {
		return "", model.NewError(model.KindArtifact, "tracking: log model", err)
	}
	return uri, nil
}

// FinishRun moves the run to a terminal status. Finished runs are immutable.
func (t *Tracker) FinishRun(ctx context.Context, runID string, status model.RunStatus) error {
	return eris.Wrap(t.store.FinishRun(ctx, runID, status), "tracking: finish run")
}

// GetRun returns one run.
func (t *Tracker) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	return t.store.GetRun(ctx, runID)
}

// SearchRuns returns the finished runs of the named experiment ordered by
// orderByMetric descending (ties by start time), at most limit of them.
func (t *Tracker) SearchRuns(ctx context.Context, experiment, orderByMetric string, limit int) ([]model.Run, error) {
	exp, err := t.store.GetExperimentByName(ctx, experiment)
	if err != nil {
		return nil, err
	}
	return t.store.SearchRuns(ctx, exp.ID, SearchFilter{
		Status:        model.RunStatusFinished,
		OrderByMetric: orderByMetric,
		Limit:         limit,
	})
}

// ListRuns returns every run of the named experiment, newest first.
func (t *Tracker) ListRuns(ctx context.Context, experiment string, limit int) ([]model.Run, error) {
	exp, err := t.store.GetExperimentByName(ctx, experiment)
	if err != nil {
		return nil, err
	}
	return t.store.SearchRuns(ctx, exp.ID, SearchFilter{Limit: limit})
}

// Summary aggregates an experiment's runs for the dashboard.
type Summary struct {
	Experiment string         `json:"experiment"`
	Runs       int            `json:"runs"`
	ByStatus   map[string]int `json:"by_status"`
	Best       *model.Run     `json:"best,omitempty"`
	// ByFamily holds the best f1 reached by each model type.
	ByFamily map[string]float64 `json:"best_f1_by_model_type"`
}

// Summarize computes a Summary over every run of the experiment.
func (t *Tracker) Summarize(ctx context.Context, experiment string) (*Summary, error) {
	runs, err := t.ListRuns(ctx, experiment, 0)
	if err != nil {
		return nil, err
	}
	s := &Summary{
		Experiment: experiment,
		Runs:       len(runs),
		ByStatus:   map[string]int{},
		ByFamily:   map[string]float64{},
	}

	// Oldest first so equal f1 keeps the earliest run, as SearchRuns does.
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })
	for i := range runs {
		r := &runs[i]
		s.ByStatus[string(r.Status)]++
		if r.Status != model.RunStatusFinished {
			continue
		}
		f1, ok := r.Metrics[model.MetricF1]
		if !ok {
			continue
		}
		mt := r.ModelType().String()
		if best, seen := s.ByFamily[mt]; !seen || f1 > best {
			s.ByFamily[mt] = f1
		}
		if s.Best == nil || f1 > s.Best.Metrics[model.MetricF1] {
			s.Best = r
		}
	}
	return s, nil
}
