// Package tracking records training runs (params, tags, metrics and model
// artifacts) grouped by experiment, and answers best-run queries for serving.
package tracking

import (
	"context"
	"encoding/json"
	"regexp"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fraud-pipeline/internal/model"
)

var (
	// ErrExperimentNotFound is returned when no experiment has the requested name.
	ErrExperimentNotFound = eris.New("experiment not found")
	// ErrRunNotFound is returned when a run id is unknown.
	ErrRunNotFound = eris.New("run not found")
	// ErrRunNotActive is returned when mutating a run that has already finished.
	ErrRunNotActive = eris.New("run is not running")
)

// SearchFilter selects and orders runs within one experiment.
type SearchFilter struct {
	// Status restricts results to one status; empty means any.
	Status model.RunStatus
	// OrderByMetric sorts by that metric descending, then start time ascending.
	// Empty sorts by start time descending.
	OrderByMetric string
	Limit         int
}

// Store persists experiments and runs. Runs are mutable only while running.
type Store interface {
	// Experiments
	EnsureExperiment(ctx context.Context, name string) (*model.Experiment, error)
	GetExperimentByName(ctx context.Context, name string) (*model.Experiment, error)

	// Runs
	CreateRun(ctx context.Context, experimentID, name string) (*model.Run, error)
	SetTags(ctx context.Context, runID string, tags map[string]string) error
	LogParams(ctx context.Context, runID string, params map[string]string) error
	LogMetrics(ctx context.Context, runID string, metrics map[string]float64) error
	SetArtifactURI(ctx context.Context, runID, uri string) error
	FinishRun(ctx context.Context, runID string, status model.RunStatus) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	SearchRuns(ctx context.Context, experimentID string, filter SearchFilter) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

var metricName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func validateFilter(f SearchFilter) error {
	if f.OrderByMetric != "" && !metricName.MatchString(f.OrderByMetric) {
		return eris.Errorf("tracking: invalid metric name %q", f.OrderByMetric)
	}
	if f.Limit < 0 {
		return eris.Errorf("tracking: negative limit %d", f.Limit)
	}
	return nil
}

// marshalMap encodes a params/tags/metrics map as a JSON object.
func marshalMap[V any](m map[string]V) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", eris.Wrap(err, "tracking: marshal")
	}
	return string(b), nil
}

// decodeRunMaps fills the run's maps from their JSON columns.
func decodeRunMaps(r *model.Run, params, tags, metrics []byte) error {
	r.Params = map[string]string{}
	r.Tags = map[string]string{}
	r.Metrics = map[string]float64{}
	for _, f := range []struct {
		raw []byte
		dst any
	}{{params, &r.Params}, {tags, &r.Tags}, {metrics, &r.Metrics}} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return eris.Wrapf(err, "tracking: decode run %s", r.ID)
		}
	}
	return nil
}
