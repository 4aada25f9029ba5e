package model

import (
	"math"
	"time"

	"github.com/rotisserie/eris"
)

// RunStatus represents the lifecycle state of a tracked training run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusFinished RunStatus = "finished"
	RunStatusFailed   RunStatus = "failed"
)

// Metric names as recorded in the tracking store.
const (
	MetricAUC       = "auc"
	MetricF1        = "f1"
	MetricPrecision = "precision"
	MetricRecall    = "recall"
)

// Tag keys written by the training harness.
const (
	TagModelType      = "model_type"
	TagFamily         = "family"
	TagArtifactStatus = "artifact_status"
	TagPipelineID     = "pipeline_id"
	TagFlavor         = "artifact_flavor"
)

// Artifact status tag values.
const (
	ArtifactStatusLogged  = "logged"
	ArtifactStatusMissing = "missing"
)

// MetricSet is the fixed evaluation metric set computed on the held-out partition.
type MetricSet struct {
	AUC       float64 `json:"auc"`
	F1        float64 `json:"f1"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
}

// Map returns the metrics keyed by their tracking-store names.
func (m MetricSet) Map() map[string]float64 {
	return map[string]float64{
		MetricAUC:       m.AUC,
		MetricF1:        m.F1,
		MetricPrecision: m.Precision,
		MetricRecall:    m.Recall,
	}
}

// Validate checks that every metric is a finite number in [0,1].
func (m MetricSet) Validate() error {
	for name, v := range m.Map() {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return eris.Errorf("metric %s out of range: %v", name, v)
		}
	}
	return nil
}

// MetricSetFromMap builds a MetricSet from tracking-store metrics. Missing keys are zero.
func MetricSetFromMap(m map[string]float64) MetricSet {
	return MetricSet{
		AUC:       m[MetricAUC],
		F1:        m[MetricF1],
		Precision: m[MetricPrecision],
		Recall:    m[MetricRecall],
	}
}

// Experiment is a named grouping of runs across repeated pipeline executions.
type Experiment struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Run is one tracked training attempt.
type Run struct {
	ID           string             `json:"id"`
	ExperimentID string             `json:"experiment_id"`
	Name         string             `json:"name"`
	Status       RunStatus          `json:"status"`
	Params       map[string]string  `json:"params,omitempty"`
	Tags         map[string]string  `json:"tags,omitempty"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
	ArtifactURI  string             `json:"artifact_uri,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
	EndedAt      *time.Time         `json:"ended_at,omitempty"`
}

// ModelType maps the run's free-form model_type tag onto the closed enumeration.
func (r Run) ModelType() ModelType {
	return ParseModelType(r.Tags[TagModelType])
}

// MetricSet returns the run's metrics as a MetricSet.
func (r Run) MetricSet() MetricSet {
	return MetricSetFromMap(r.Metrics)
}

// HasArtifact reports whether a model artifact was persisted for the run.
func (r Run) HasArtifact() bool {
	return r.ArtifactURI != "" && r.Tags[TagArtifactStatus] != ArtifactStatusMissing
}
