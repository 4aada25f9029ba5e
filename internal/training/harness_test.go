package training

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fraud-pipeline/internal/config"
	"github.com/sells-group/fraud-pipeline/internal/features"
	"github.com/sells-group/fraud-pipeline/internal/model"
	"github.com/sells-group/fraud-pipeline/internal/modelio"
	"github.com/sells-group/fraud-pipeline/internal/tracking"
)

func newTestTracker(t *testing.T) *tracking.Tracker {
	t.Helper()
	dir := t.TempDir()
	tr, err := tracking.Open(context.Background(), config.TrackingConfig{
		Driver:       "sqlite",
		SQLitePath:   filepath.Join(dir, "tracking.db"),
		ArtifactRoot: filepath.Join(dir, "artifacts"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() }) //nolint:errcheck
	return tr
}

func testSplit(t *testing.T) *features.Split {
	t.Helper()
	split, err := features.Prepare(labelledRows(400, 10), 0.2, 42)
	require.NoError(t, err)
	return split
}

func TestTrainAndEvaluateEveryFamily(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t)
	h := NewHarness(tr, "fraud_detection")
	split := testSplit(t)

	configs := []model.ModelConfig{
		{Name: "lr", Family: model.FamilyLinear, Tags: map[string]string{model.TagModelType: "linear"}},
		{Name: "exact", Family: model.FamilyGBTExact, Params: map[string]any{"n_estimators": 10}, Tags: map[string]string{model.TagModelType: "gbt_exact"}},
		{Name: "hist", Family: model.FamilyGBTHist, Params: map[string]any{"n_estimators": 10, "num_leaves": 4}, Tags: map[string]string{model.TagModelType: "gbt_hist"}},
		{Name: "nn", Family: model.FamilyMLP, Params: map[string]any{"epochs": 3, "hidden_layers": []any{8}}, Tags: map[string]string{model.TagModelType: "neural_net"}},
	}
	for _, cfg := range configs {
		t.Run(cfg.Name, func(t *testing.T) {
			res, err := h.TrainAndEvaluate(ctx, cfg, split)
			require.NoError(t, err)
			require.NoError(t, res.Metrics.Validate())
			assert.NoError(t, res.ArtifactErr)

			run, err := tr.GetRun(ctx, res.RunID)
			require.NoError(t, err)
			assert.Equal(t, model.RunStatusFinished, run.Status)
			assert.InDelta(t, res.Metrics.F1, run.MetricSet().F1, 1e-12)
			assert.Equal(t, cfg.Family.ModelType(), run.ModelType())
			assert.Equal(t, model.ArtifactStatusLogged, run.Tags[model.TagArtifactStatus])
			assert.Equal(t, modelio.NativeFlavor(cfg.Family), run.Tags[model.TagFlavor])
			assert.NotEmpty(t, run.Params)

			dir, err := tracking.LocalPath(run.ArtifactURI)
			require.NoError(t, err)
			loaded, err := modelio.LoadNative(dir, run.ModelType())
			require.NoError(t, err)
			assert.Equal(t, model.TrainingColumns(), loaded.Columns())
		})
	}
}

func TestTrainAndEvaluateInvalidConfigOpensNoRun(t *testing.T) {
	tr := &mockTracker{}
	h := NewHarness(tr, "exp", WithFactory(scriptedFactory))

	_, err := h.TrainAndEvaluate(context.Background(), scriptedConfig("bad", map[string]any{"bogus": 1}), testSplit(t))
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindTraining))

	noTag := scriptedConfig("untagged", nil)
	noTag.Tags = nil
	_, err = h.TrainAndEvaluate(context.Background(), noTag, testSplit(t))
	assert.True(t, model.IsKind(err, model.KindTraining))

	tr.AssertNotCalled(t, "CreateRun", mock.Anything, mock.Anything, mock.Anything)
}

func TestTrainAndEvaluateWritesModelTypeFirst(t *testing.T) {
	tr := &mockTracker{}
	tr.On("CreateRun", mock.Anything, "exp", "a").Return("run-1", nil)
	tr.On("SetTags", mock.Anything, "run-1", mock.Anything).Return(nil)
	tr.On("LogParams", mock.Anything, "run-1", mock.Anything).Return(nil)
	tr.On("LogMetrics", mock.Anything, "run-1", mock.Anything).Return(nil)
	tr.On("LogModel", mock.Anything, "run-1", mock.Anything, modelio.FlavorLinearJSON).Return("file:///m", nil)
	tr.On("FinishRun", mock.Anything, "run-1", model.RunStatusFinished).Return(nil)

	h := NewHarness(tr, "exp", WithFactory(scriptedFactory), WithPipelineID("p-1"))
	res, err := h.TrainAndEvaluate(context.Background(), scriptedConfig("a", map[string]any{"misses": 4, "false_alarms": 4}), testSplit(t))
	require.NoError(t, err)
	assert.Equal(t, "file:///m", res.ArtifactURI)
	tr.AssertExpectations(t)

	require.GreaterOrEqual(t, len(tr.Calls), 3)
	assert.Equal(t, "CreateRun", tr.Calls[0].Method)
	assert.Equal(t, "SetTags", tr.Calls[1].Method)
	assert.Equal(t, map[string]string{model.TagModelType: "linear"}, tr.Calls[1].Arguments.Get(2))
	assert.Equal(t, "SetTags", tr.Calls[2].Method)
	assert.Equal(t, "p-1", tr.Calls[2].Arguments.Get(2).(map[string]string)[model.TagPipelineID])
}

func TestTrainAndEvaluateFitFailureMarksRunFailed(t *testing.T) {
	tr := &mockTracker{}
	tr.On("CreateRun", mock.Anything, "exp", "a").Return("run-1", nil)
	tr.On("SetTags", mock.Anything, "run-1", mock.Anything).Return(nil)
	tr.On("LogParams", mock.Anything, "run-1", mock.Anything).Return(nil)
	tr.On("FinishRun", mock.Anything, "run-1", model.RunStatusFailed).Return(nil)

	h := NewHarness(tr, "exp", WithFactory(scriptedFactory))
	_, err := h.TrainAndEvaluate(context.Background(), scriptedConfig("a", map[string]any{"fail": true}), testSplit(t))
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindTraining))
	assert.Contains(t, err.Error(), "singular matrix")
	tr.AssertExpectations(t)
	tr.AssertNotCalled(t, "LogMetrics", mock.Anything, mock.Anything, mock.Anything)
}

func TestTrainAndEvaluateArtifactFailureKeepsMetrics(t *testing.T) {
	tr := &mockTracker{}
	tr.On("CreateRun", mock.Anything, "exp", "a").Return("run-1", nil)
	tr.On("SetTags", mock.Anything, "run-1", mock.Anything).Return(nil)
	tr.On("LogParams", mock.Anything, "run-1", mock.Anything).Return(nil)
	tr.On("LogMetrics", mock.Anything, "run-1", mock.Anything).Return(nil)
	tr.On("LogModel", mock.Anything, "run-1", mock.Anything, mock.Anything).
		Return("", model.NewError(model.KindArtifact, "tracking: log model", eris.New("disk full")))
	tr.On("FinishRun", mock.Anything, "run-1", model.RunStatusFinished).Return(nil)

	h := NewHarness(tr, "exp", WithFactory(scriptedFactory))
	res, err := h.TrainAndEvaluate(context.Background(), scriptedConfig("a", map[string]any{"misses": 4, "false_alarms": 4}), testSplit(t))
	require.NoError(t, err)
	assert.True(t, model.IsKind(res.ArtifactErr, model.KindArtifact))
	assert.Empty(t, res.ArtifactURI)
	assert.Greater(t, res.Metrics.F1, 0.0)

	tr.AssertCalled(t, "SetTags", mock.Anything, "run-1", map[string]string{model.TagArtifactStatus: model.ArtifactStatusMissing})
	tr.AssertExpectations(t)
}
