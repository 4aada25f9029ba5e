package orchestrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fraud-pipeline/internal/etl"
	"github.com/sells-group/fraud-pipeline/internal/model"
)

func calledMethods(st *mockStages) []string {
	var out []string
	for _, c := range st.Calls {
		out = append(out, c.Method)
	}
	return out
}

func TestRunExecutesStagesInOrder(t *testing.T) {
	st := happyStages("data/creditcard.csv")

	res, err := Run(context.Background(), st, Input{Source: "data/creditcard.csv", PipelineID: "p-1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"CheckStore", "LoadRaw", "RebuildView", "Train", "Validate", "Cleanup"}, calledMethods(st))
	assert.Equal(t, "p-1", res.PipelineID)
	assert.Equal(t, int64(500), res.Load.Rows)
	assert.Equal(t, "run-2", res.Training.BestRunID)
	assert.Equal(t, 2, res.Cleaned)
	st.AssertCalled(t, "Train", mock.Anything, "p-1")
}

func TestRunWithoutSourceSkipsLoad(t *testing.T) {
	st := happyStages("")

	res, err := Run(context.Background(), st, Input{PipelineID: "p-1"})
	require.NoError(t, err)
	assert.Nil(t, res.Load)
	st.AssertNotCalled(t, "LoadRaw", mock.Anything, mock.Anything)
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	st := &mockStages{}
	st.On("CheckStore", mock.Anything).Return(nil)
	st.On("LoadRaw", mock.Anything, "x.csv").Return(nil, model.NewError(model.KindSchema, "etl: map columns", eris.New("missing class")))

	_, err := Run(context.Background(), st, Input{Source: "x.csv"})
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindSchema))
	assert.Contains(t, err.Error(), "pipeline: load")
	assert.Equal(t, []string{"CheckStore", "LoadRaw"}, calledMethods(st))
}

func TestRunTrainingFailureSkipsValidation(t *testing.T) {
	st := &mockStages{}
	st.On("CheckStore", mock.Anything).Return(nil)
	st.On("RebuildView", mock.Anything).Return(nil)
	st.On("Train", mock.Anything, mock.Anything).Return(nil, model.NewError(model.KindTraining, "training: select", model.ErrNoViableModel))

	_, err := Run(context.Background(), st, Input{})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNoViableModel)
	st.AssertNotCalled(t, "Validate", mock.Anything)
}

func TestRunToleratesCleanupFailure(t *testing.T) {
	st := &mockStages{}
	st.On("CheckStore", mock.Anything).Return(nil)
	st.On("RebuildView", mock.Anything).Return(nil)
	st.On("Train", mock.Anything, mock.Anything).Return(&TrainSummary{BestRunID: "run-1"}, nil)
	st.On("Validate", mock.Anything).Return(&etl.ValidationReport{Total: 10, Fraud: 1}, nil)
	st.On("Cleanup", mock.Anything).Return(0, eris.New("permission denied"))

	res, err := Run(context.Background(), st, Input{})
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.Training.BestRunID)
}

func TestRemoveStale(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, ".local-123")
	fresh := filepath.Join(dir, ".local-456")
	other := filepath.Join(dir, "local_model")
	for _, d := range []string{old, fresh, other} {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}
	long := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(old, long, long))
	require.NoError(t, os.Chtimes(other, long, long))

	n, err := removeStale([]string{filepath.Join(dir, ".local-*")}, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoDirExists(t, old)
	assert.DirExists(t, fresh)
	assert.DirExists(t, other)
}
