package serving

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fraud-pipeline/internal/model"
	"github.com/sells-group/fraud-pipeline/internal/tracking"
)

const experiment = "fraud_detection"

func trackedRun(id, uri, modelType string) model.Run {
	return model.Run{
		ID:          id,
		Status:      model.RunStatusFinished,
		Tags:        map[string]string{model.TagModelType: modelType, model.TagArtifactStatus: model.ArtifactStatusLogged},
		Metrics:     map[string]float64{model.MetricF1: 0.8},
		ArtifactURI: uri,
	}
}

func expectBestRun(src *mockRunSource, runs []model.Run) {
	src.On("GetExperimentByName", mock.Anything, experiment).
		Return(&model.Experiment{ID: "exp-1", Name: experiment}, nil)
	src.On("SearchRuns", mock.Anything, experiment, model.MetricF1, 1).Return(runs, nil)
}

func TestResolveEmptyExperimentUsesLocalFallback(t *testing.T) {
	src := &mockRunSource{}
	src.On("GetExperimentByName", mock.Anything, experiment).
		Return(nil, eris.Wrapf(tracking.ErrExperimentNotFound, "sqlite: experiment %s", experiment))

	r := NewResolver(src, servingConfig(exportLocal(t, v1Model(0))))
	b, err := r.ResolveAndLoad(context.Background(), experiment)
	require.NoError(t, err)

	assert.Equal(t, SourceLocal, b.Source)
	assert.Empty(t, b.RunID)
	assert.Equal(t, model.TrainingColumns(), b.Columns)
	src.AssertNotCalled(t, "SearchRuns", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestResolveNoFinishedRunsUsesLocalFallback(t *testing.T) {
	src := &mockRunSource{}
	expectBestRun(src, nil)

	r := NewResolver(src, servingConfig(exportLocal(t, v1Model(0))))
	b, err := r.ResolveAndLoad(context.Background(), experiment)
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, b.Source)
}

func TestResolveLoadsBestRunNatively(t *testing.T) {
	_, uri := saveRunArtifact(t, v1Model(0))
	src := &mockRunSource{}
	expectBestRun(src, []model.Run{trackedRun("run-1", uri, "linear")})

	var loads []Source
	r := NewResolver(src, servingConfig(filepath.Join(t.TempDir(), "missing")))
	r.OnLoad(func(s Source) { loads = append(loads, s) })

	b, err := r.ResolveAndLoad(context.Background(), experiment)
	require.NoError(t, err)
	assert.Equal(t, SourceTracking, b.Source)
	assert.Equal(t, "run-1", b.RunID)
	assert.Equal(t, model.ModelTypeLinear, b.ModelType)
	assert.Equal(t, []Source{SourceTracking}, loads)
}

func TestResolveRetriesNativeFailureViaGeneric(t *testing.T) {
	dir, uri := saveRunArtifact(t, v1Model(0))
	require.NoError(t, os.Remove(filepath.Join(dir, "linear.json")))

	src := &mockRunSource{}
	expectBestRun(src, []model.Run{trackedRun("run-1", uri, "linear")})

	r := NewResolver(src, servingConfig(filepath.Join(t.TempDir(), "missing")))
	b, err := r.ResolveAndLoad(context.Background(), experiment)
	require.NoError(t, err)
	assert.Equal(t, SourceTrackingGeneric, b.Source)
	assert.Equal(t, "run-1", b.RunID)
}

func TestResolveUnknownTypeUsesGeneric(t *testing.T) {
	_, uri := saveRunArtifact(t, v1Model(0))
	src := &mockRunSource{}
	expectBestRun(src, []model.Run{trackedRun("run-1", uri, "svm")})

	r := NewResolver(src, servingConfig(filepath.Join(t.TempDir(), "missing")))
	b, err := r.ResolveAndLoad(context.Background(), experiment)
	require.NoError(t, err)
	assert.Equal(t, SourceTrackingGeneric, b.Source)
	assert.Equal(t, model.ModelTypeUnknown, b.ModelType)
}

func TestResolveRunWithoutArtifactFallsBack(t *testing.T) {
	run := trackedRun("run-1", "", "linear")
	run.Tags[model.TagArtifactStatus] = model.ArtifactStatusMissing
	src := &mockRunSource{}
	expectBestRun(src, []model.Run{run})

	r := NewResolver(src, servingConfig(exportLocal(t, v1Model(0))))
	b, err := r.ResolveAndLoad(context.Background(), experiment)
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, b.Source)
}

func TestResolveNoModelAnywhere(t *testing.T) {
	src := &mockRunSource{}
	src.On("GetExperimentByName", mock.Anything, experiment).Return(nil, tracking.ErrExperimentNotFound)

	r := NewResolver(src, servingConfig(filepath.Join(t.TempDir(), "missing")))
	b, err := r.ResolveAndLoad(context.Background(), experiment)
	assert.Nil(t, b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNoModel))
	assert.True(t, model.IsKind(err, model.KindResolution))
}

func TestResolveLookupTimeoutFallsBack(t *testing.T) {
	src := &mockRunSource{}
	src.On("GetExperimentByName", mock.Anything, experiment).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	r := NewResolver(src, servingConfig(exportLocal(t, v1Model(0))))
	r.lookupTimeout = 20 * time.Millisecond

	b, err := r.ResolveAndLoad(context.Background(), experiment)
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, b.Source)
}

func TestResolveCachesBestRun(t *testing.T) {
	_, uri := saveRunArtifact(t, v1Model(0))
	src := &mockRunSource{}
	expectBestRun(src, []model.Run{trackedRun("run-1", uri, "linear")})

	r := NewResolver(src, servingConfig(""))
	ctx := context.Background()
	for range 3 {
		_, err := r.ResolveAndLoad(ctx, experiment)
		require.NoError(t, err)
	}
	src.AssertNumberOfCalls(t, "SearchRuns", 1)

	r.Invalidate(experiment)
	_, err := r.ResolveAndLoad(ctx, experiment)
	require.NoError(t, err)
	src.AssertNumberOfCalls(t, "SearchRuns", 2)
}
