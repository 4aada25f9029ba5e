package serving

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fraud-pipeline/internal/classifier"
	"github.com/sells-group/fraud-pipeline/internal/config"
	"github.com/sells-group/fraud-pipeline/internal/features"
	"github.com/sells-group/fraud-pipeline/internal/model"
	"github.com/sells-group/fraud-pipeline/internal/modelio"
	"github.com/sells-group/fraud-pipeline/internal/tracking"
)

type mockRunSource struct{ mock.Mock }

func (m *mockRunSource) GetExperimentByName(ctx context.Context, name string) (*model.Experiment, error) {
	args := m.Called(ctx, name)
	exp, _ := args.Get(0).(*model.Experiment)
	return exp, args.Error(1)
}

func (m *mockRunSource) SearchRuns(ctx context.Context, experiment, orderByMetric string, limit int) ([]model.Run, error) {
	args := m.Called(ctx, experiment, orderByMetric, limit)
	runs, _ := args.Get(0).([]model.Run)
	return runs, args.Error(1)
}

type mockSummaries struct{ mock.Mock }

func (m *mockSummaries) Summarize(ctx context.Context, experiment string) (*tracking.Summary, error) {
	args := m.Called(ctx, experiment)
	s, _ := args.Get(0).(*tracking.Summary)
	return s, args.Error(1)
}

func testScaler() *features.Scaler {
	return &features.Scaler{
		Inputs:  []string{model.ColumnAmount, model.ColumnTime},
		Outputs: []string{model.ColumnScaledAmount, model.ColumnScaledTime},
		Mean:    []float64{88.35, 94813.86},
		Scale:   []float64{250.12, 47488.15},
	}
}

// v1Model scores sigmoid(v1 + bias) and ignores every other input.
func v1Model(bias float64) *modelio.Artifact {
	w := make([]float64, len(model.TrainingColumns()))
	w[0] = 1
	return &modelio.Artifact{
		Classifier: classifier.NewLinearFromWeights(w, bias),
		Columns:    model.TrainingColumns(),
		Scaler:     testScaler(),
		ModelType:  "linear",
	}
}

func sigmoid(z float64) float64 { return 1 / (1 + math.Exp(-z)) }

// saveRunArtifact writes a into a fresh run directory and returns its file uri.
func saveRunArtifact(t *testing.T, a *modelio.Artifact) (dir, uri string) {
	t.Helper()
	dir = filepath.Join(t.TempDir(), "model")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, a.Save(dir))
	return dir, "file://" + filepath.ToSlash(dir)
}

// exportLocal writes a as the local fallback bundle and returns its directory.
func exportLocal(t *testing.T, a *modelio.Artifact) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "local_model")
	require.NoError(t, modelio.ExportLocal(dir, a))
	return dir
}

func servingConfig(localDir string) config.ServingConfig {
	return config.ServingConfig{
		Threshold:         0.5,
		LocalModelDir:     localDir,
		LookupTimeoutSecs: 3,
		BestRunTTLSecs:    60,
	}
}

func loadBundle(t *testing.T, a *modelio.Artifact) *Bundle {
	t.Helper()
	l, err := modelio.LoadGeneric(exportLocal(t, a))
	require.NoError(t, err)
	return newBundle(l, SourceLocal, nil)
}

// transaction returns a request with the given v1 and zeros elsewhere.
func transaction(v1 float64) model.Transaction {
	tx := model.Transaction{Time: 1000, Amount: 50}
	tx.V[0] = v1
	return tx
}
