package training

import (
	"context"
	"math/rand/v2"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/mock"

	"github.com/sells-group/fraud-pipeline/internal/classifier"
	"github.com/sells-group/fraud-pipeline/internal/features"
	"github.com/sells-group/fraud-pipeline/internal/model"
	"github.com/sells-group/fraud-pipeline/internal/tracking"
)

// --- Tracker Mock ---

type mockTracker struct {
	mock.Mock
}

func (m *mockTracker) CreateRun(ctx context.Context, experiment, name string) (string, error) {
	args := m.Called(ctx, experiment, name)
	return args.String(0), args.Error(1)
}

func (m *mockTracker) SetTags(ctx context.Context, runID string, tags map[string]string) error {
	return m.Called(ctx, runID, tags).Error(0)
}

func (m *mockTracker) LogParams(ctx context.Context, runID string, params map[string]any) error {
	return m.Called(ctx, runID, params).Error(0)
}

func (m *mockTracker) LogMetrics(ctx context.Context, runID string, metrics map[string]float64) error {
	return m.Called(ctx, runID, metrics).Error(0)
}

func (m *mockTracker) LogModel(ctx context.Context, runID string, artifact tracking.Artifact, flavor string) (string, error) {
	args := m.Called(ctx, runID, artifact, flavor)
	return args.String(0), args.Error(1)
}

func (m *mockTracker) FinishRun(ctx context.Context, runID string, status model.RunStatus) error {
	return m.Called(ctx, runID, status).Error(0)
}

// --- Scripted classifier ---

// scriptedClassifier reads the true label from input column 0 and gets a
// fixed number of positives and negatives wrong, which pins its f1.
type scriptedClassifier struct {
	misses      int
	falseAlarms int
	fitErr      error
	width       int
}

func scriptedFactory(f model.Family, params map[string]any, _ uint64) (classifier.Classifier, error) {
	if _, ok := params["bogus"]; ok {
		return nil, eris.New("classifier: invalid params: bogus")
	}
	c := &scriptedClassifier{}
	if v, ok := params["misses"].(int); ok {
		c.misses = v
	}
	if v, ok := params["false_alarms"].(int); ok {
		c.falseAlarms = v
	}
	if _, ok := params["fail"]; ok {
		c.fitErr = eris.New("singular matrix")
	}
	return c, nil
}

func (c *scriptedClassifier) Family() model.Family   { return model.FamilyLinear }
func (c *scriptedClassifier) Params() map[string]any { return map[string]any{"misses": c.misses} }
func (c *scriptedClassifier) NumFeatures() int       { return c.width }

func (c *scriptedClassifier) Fit(_ context.Context, ds *features.Dataset) error {
	if c.fitErr != nil {
		return c.fitErr
	}
	c.width = len(ds.X[0])
	return nil
}

func (c *scriptedClassifier) PredictProba(x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	var missed, alarmed int
	for i, row := range x {
		switch {
		case row[0] == 1 && missed < c.misses:
			missed++
			out[i] = 0.1
		case row[0] == 1:
			out[i] = 0.9
		case alarmed < c.falseAlarms:
			alarmed++
			out[i] = 0.9
		default:
			out[i] = 0.1
		}
	}
	return out, nil
}

// labelledRows returns n records, every fraudEvery-th one fraudulent, with
// v1 equal to the label.
func labelledRows(n, fraudEvery int) []model.FeatureRecord {
	rng := rand.New(rand.NewPCG(5, 6))
	rows := make([]model.FeatureRecord, n)
	for i := range rows {
		r := &rows[i]
		if i%fraudEvery == 0 {
			r.Class = 1
		}
		r.Time = float64(i * 7)
		r.Amount = rng.Float64()*100 + float64(r.Class)*50
		r.V[0] = float64(r.Class)
		for j := 1; j < model.NumAnonymized; j++ {
			r.V[j] = rng.NormFloat64()
		}
	}
	return rows
}

func scriptedConfig(name string, params map[string]any) model.ModelConfig {
	return model.ModelConfig{
		Name:   name,
		Family: model.FamilyLinear,
		Params: params,
		Tags:   map[string]string{model.TagModelType: "linear"},
	}
}
