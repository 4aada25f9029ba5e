package orchestrate

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fraud-pipeline/internal/config"
	"github.com/sells-group/fraud-pipeline/internal/model"
	"github.com/sells-group/fraud-pipeline/internal/modelio"
	"github.com/sells-group/fraud-pipeline/internal/tracking"
	"github.com/sells-group/fraud-pipeline/internal/warehouse"
)

const linearOnly = `models:
  - name: logistic_regression
    family: linear
    params:
      max_iter: 100
    tags:
      model_type: linear
`

// writeSource writes n transactions where every tenth is fraud and is
// separable on v1.
func writeSource(t *testing.T, dir string, n int) string {
	t.Helper()
	rng := rand.New(rand.NewPCG(11, 12))
	header := []string{"Time"}
	for i := 1; i <= model.NumAnonymized; i++ {
		header = append(header, fmt.Sprintf("V%d", i))
	}
	lines := []string{strings.Join(append(header, "Amount", "Class"), ",")}
	for i := 0; i < n; i++ {
		class := 0
		v1 := -1 + rng.NormFloat64()*0.3
		if i%10 == 0 {
			class = 1
			v1 = 2 + rng.NormFloat64()*0.3
		}
		row := []string{fmt.Sprint(i * 7), fmt.Sprintf("%.4f", v1)}
		for j := 2; j <= model.NumAnonymized; j++ {
			row = append(row, fmt.Sprintf("%.4f", rng.NormFloat64()))
		}
		row = append(row, fmt.Sprintf("%.2f", 1+rng.Float64()*200), fmt.Sprint(class))
		lines = append(lines, strings.Join(row, ","))
	}
	path := filepath.Join(dir, "creditcard.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func newTestSteps(t *testing.T) (*Steps, *tracking.Tracker, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	modelsFile := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(modelsFile, []byte(linearOnly), 0o644))

	cfg := &config.Config{
		ETL: config.ETLConfig{MinFraudRows: 100},
		Tracking: config.TrackingConfig{
			Driver:       "sqlite",
			SQLitePath:   filepath.Join(dir, "tracking.db"),
			ArtifactRoot: filepath.Join(dir, "artifacts"),
			Experiment:   "fraud_detection_test",
		},
		Training: config.TrainingConfig{ModelsFile: modelsFile, Threshold: 0.5, TestRatio: 0.2, Seed: 42},
		Serving:  config.ServingConfig{LocalModelDir: filepath.Join(dir, "models", "local_model")},
	}

	wh, err := warehouse.NewSQLite(filepath.Join(dir, "warehouse.db"), warehouse.DefaultTables())
	require.NoError(t, err)
	t.Cleanup(func() { wh.Close() }) //nolint:errcheck

	tr, err := tracking.Open(context.Background(), cfg.Tracking)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() }) //nolint:errcheck

	return NewSteps(wh, tr, cfg), tr, cfg
}

func TestRunEndToEnd(t *testing.T) {
	steps, tr, cfg := newTestSteps(t)
	source := writeSource(t, t.TempDir(), 500)
	ctx := context.Background()

	res, err := Run(ctx, steps, Input{Source: source, PipelineID: "p-e2e"})
	require.NoError(t, err)

	assert.Equal(t, int64(500), res.Load.Rows)
	assert.Equal(t, "logistic_regression", res.Training.BestModel)
	assert.Equal(t, []string{"logistic_regression"}, res.Training.Trained)
	assert.Empty(t, res.Training.ExportErr)
	assert.Greater(t, res.Training.Metrics.F1, 0.9)

	assert.Equal(t, int64(50), res.Validation.Fraud)
	assert.Equal(t, int64(450), res.Validation.Legit)
	assert.False(t, res.Validation.Sufficient)

	run, err := tr.GetRun(ctx, res.Training.BestRunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFinished, run.Status)
	assert.Equal(t, "p-e2e", run.Tags[model.TagPipelineID])

	l, err := modelio.LoadGeneric(cfg.Serving.LocalModelDir)
	require.NoError(t, err)
	assert.Equal(t, model.TrainingColumns(), l.Columns())
}

func TestTrainOnEmptyWarehouseIsSchemaError(t *testing.T) {
	steps, _, _ := newTestSteps(t)

	_, err := steps.Train(context.Background(), "p-1")
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindSchema))
}
