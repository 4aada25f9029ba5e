// Package serving resolves the best tracked model, keeps it loaded behind an
// atomic pointer and answers fraud predictions over HTTP.
package serving

import (
	"time"

	"github.com/sells-group/fraud-pipeline/internal/features"
	"github.com/sells-group/fraud-pipeline/internal/model"
	"github.com/sells-group/fraud-pipeline/internal/modelio"
)

// Source says where a bundle was loaded from.
type Source string

const (
	SourceTracking        Source = "tracking"
	SourceTrackingGeneric Source = "tracking-generic"
	SourceLocal           Source = "local"
)

// Bundle is an immutable loaded model with the scaler and column order it
// was trained with. It is replaced as a whole, never mutated.
type Bundle struct {
	Model     modelio.Model
	Columns   []string
	Scaler    *features.Scaler
	Source    Source
	RunID     string
	ModelType model.ModelType
	Family    model.Family
	Flavor    string
	LoadedAt  time.Time
}

func newBundle(l *modelio.Loaded, src Source, run *model.Run) *Bundle {
	b := &Bundle{
		Model:     l.Model,
		Columns:   l.Columns(),
		Scaler:    l.Scaler(),
		Source:    src,
		ModelType: model.ParseModelType(l.Manifest.ModelType),
		Family:    l.Manifest.Family,
		Flavor:    l.Flavor,
		LoadedAt:  time.Now().UTC(),
	}
	if run != nil {
		b.RunID = run.ID
		b.ModelType = run.ModelType()
	}
	return b
}

// BundleInfo is the JSON description of the loaded bundle.
type BundleInfo struct {
	Source      Source    `json:"source"`
	RunID       string    `json:"run_id,omitempty"`
	ModelType   string    `json:"model_type"`
	Family      string    `json:"family"`
	Flavor      string    `json:"flavor"`
	NumFeatures int       `json:"num_features"`
	Columns     []string  `json:"columns"`
	LoadedAt    time.Time `json:"loaded_at"`
}

// Info describes the bundle.
func (b *Bundle) Info() BundleInfo {
	return BundleInfo{
		Source:      b.Source,
		RunID:       b.RunID,
		ModelType:   b.ModelType.String(),
		Family:      string(b.Family),
		Flavor:      b.Flavor,
		NumFeatures: b.Model.NumFeatures(),
		Columns:     b.Columns,
		LoadedAt:    b.LoadedAt,
	}
}
