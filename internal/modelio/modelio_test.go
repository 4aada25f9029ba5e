package modelio

import (
	"context"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fraud-pipeline/internal/classifier"
	"github.com/sells-group/fraud-pipeline/internal/features"
	"github.com/sells-group/fraud-pipeline/internal/model"
)

func testScaler() *features.Scaler {
	return &features.Scaler{
		Inputs:  []string{model.ColumnAmount, model.ColumnTime},
		Outputs: []string{model.ColumnScaledAmount, model.ColumnScaledTime},
		Mean:    []float64{88.3, 94813.9},
		Scale:   []float64{250.1, 47488.1},
	}
}

func trainingData() *features.Dataset {
	rng := rand.New(rand.NewPCG(3, 4))
	ds := &features.Dataset{Columns: []string{"v1", "v2", "scaled_amount"}}
	for i := 0; i < 300; i++ {
		x := []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
		y := 0
		if x[0]-x[1] > 1.2 {
			y = 1
		}
		ds.X = append(ds.X, x)
		ds.Y = append(ds.Y, y)
	}
	return ds
}

func fitted(t *testing.T, family model.Family) classifier.Classifier {
	t.Helper()
	params := map[model.Family]map[string]any{
		model.FamilyGBTExact: {"n_estimators": 10, "max_depth": 3},
		model.FamilyGBTHist:  {"n_estimators": 10, "num_leaves": 6, "max_bins": 16},
		model.FamilyMLP:      {"epochs": 3, "hidden_layers": []any{4, 3}},
	}
	c, err := classifier.New(family, params[family], 1)
	require.NoError(t, err)
	require.NoError(t, c.Fit(context.Background(), trainingData()))
	return c
}

func saveArtifact(t *testing.T, c classifier.Classifier) string {
	t.Helper()
	dir := t.TempDir()
	a := &Artifact{
		Classifier: c,
		Columns:    []string{"v1", "v2", "scaled_amount"},
		Scaler:     testScaler(),
		ModelType:  c.Family().ModelType().String(),
	}
	require.NoError(t, a.Save(dir))
	return dir
}

func TestRoundTripEveryFamily(t *testing.T) {
	probe := trainingData().X[:20]
	for _, family := range model.Families {
		t.Run(string(family), func(t *testing.T) {
			c := fitted(t, family)
			want, err := c.PredictProba(probe)
			require.NoError(t, err)
			dir := saveArtifact(t, c)

			native, err := LoadNative(dir, family.ModelType())
			require.NoError(t, err)
			assert.Equal(t, NativeFlavor(family), native.Flavor)
			assert.Equal(t, []string{"v1", "v2", "scaled_amount"}, native.Columns())
			assert.Equal(t, testScaler(), native.Scaler())

			generic, err := LoadGeneric(dir)
			require.NoError(t, err)
			assert.Equal(t, FlavorGeneric, generic.Flavor)

			for _, l := range []*Loaded{native, generic} {
				out, err := l.Model.Predict(probe)
				require.NoError(t, err)
				got, err := out.Probabilities()
				require.NoError(t, err)
				assert.InDeltaSlice(t, want, got, 1e-9, l.Flavor)
			}
		})
	}
}

func TestNativeOutputShapes(t *testing.T) {
	tests := []struct {
		family model.Family
		shape  Shape
	}{
		{model.FamilyLinear, ProbaMatrix},
		{model.FamilyGBTExact, FlatColumn},
		{model.FamilyGBTHist, ProbaMatrix},
		{model.FamilyMLP, FlatColumn},
	}
	for _, tt := range tests {
		dir := saveArtifact(t, fitted(t, tt.family))
		l, err := LoadNative(dir, tt.family.ModelType())
		require.NoError(t, err)
		out, err := l.Model.Predict([][]float64{{0, 0, 0}})
		require.NoError(t, err)
		assert.Equal(t, tt.shape, out.Shape, tt.family)
	}
}

func TestNativeLoaderForWrongType(t *testing.T) {
	dir := saveArtifact(t, fitted(t, model.FamilyLinear))

	_, err := LoadNative(dir, model.ModelTypeNeuralNet)
	assert.Error(t, err)
	_, err = LoadNative(dir, model.ModelTypeUnknown)
	assert.ErrorContains(t, err, "no native loader")
}

func TestLoadRejectsBadManifest(t *testing.T) {
	dir := saveArtifact(t, fitted(t, model.FamilyLinear))
	man, err := ReadManifest(dir)
	require.NoError(t, err)

	man.Scaler.Inputs = []string{model.ColumnTime, model.ColumnAmount}
	require.NoError(t, writeManifest(dir, man))
	_, err = LoadGeneric(dir)
	assert.ErrorContains(t, err, "scaler: inputs")

	_, err = LoadGeneric(t.TempDir())
	assert.ErrorContains(t, err, "read manifest")
}

func TestSaveRejectsColumnMismatch(t *testing.T) {
	a := &Artifact{
		Classifier: fitted(t, model.FamilyLinear),
		Columns:    []string{"v1", "v2"},
		Scaler:     testScaler(),
	}
	assert.ErrorContains(t, a.Save(t.TempDir()), "lists 2 columns for a 3-input model")
}

func TestCorruptNativeFallsThroughToGeneric(t *testing.T) {
	dir := saveArtifact(t, fitted(t, model.FamilyGBTExact))
	require.NoError(t, os.WriteFile(filepath.Join(dir, treeJSON), []byte("{"), 0o644))

	_, err := LoadNative(dir, model.ModelTypeTreeEnsembleA)
	require.Error(t, err)
	_, err = LoadGeneric(dir)
	assert.NoError(t, err)
}

func TestExportLocal(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "models", "local")
	a := &Artifact{
		Classifier: fitted(t, model.FamilyMLP),
		Columns:    []string{"v1", "v2", "scaled_amount"},
		Scaler:     testScaler(),
		ModelType:  "neural_net",
	}
	require.NoError(t, ExportLocal(dir, a))
	require.NoError(t, ExportLocal(dir, a), "export replaces an existing bundle")

	man, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.Empty(t, man.Native)
	assert.Equal(t, genericFile, man.Generic)
	assert.NoDirExists(t, dir+".old")

	_, err = LoadGeneric(dir)
	require.NoError(t, err)
	_, err = LoadNative(dir, model.ModelTypeNeuralNet)
	assert.ErrorContains(t, err, "no native encoding")
}

func TestLoadLocalDuringSwap(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "local")
	a := &Artifact{
		Classifier: fitted(t, model.FamilyLinear),
		Columns:    []string{"v1", "v2", "scaled_amount"},
		Scaler:     testScaler(),
		ModelType:  "linear",
	}
	require.NoError(t, ExportLocal(dir, a))

	// The window between moving the old bundle aside and publishing the new one.
	require.NoError(t, os.Rename(dir, dir+".old"))
	_, err := LoadGeneric(dir)
	require.Error(t, err)
	l, err := LoadLocal(dir)
	require.NoError(t, err)
	assert.Equal(t, model.FamilyLinear, l.Manifest.Family)

	require.NoError(t, os.RemoveAll(dir+".old"))
	_, err = LoadLocal(dir)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestProbabilities(t *testing.T) {
	tests := []struct {
		name    string
		out     Output
		want    []float64
		wantErr bool
	}{
		{"proba matrix", Output{Shape: ProbaMatrix, Rows: [][]float64{{0.3, 0.7}, {0.9, 0.1}}}, []float64{0.7, 0.1}, false},
		{"flat column", Output{Shape: FlatColumn, Rows: [][]float64{{0.4}}}, []float64{0.4}, false},
		{"frame two columns", Output{Shape: Frame, Rows: [][]float64{{0.2, 0.8}}}, []float64{0.8}, false},
		{"frame one column", Output{Shape: Frame, Rows: [][]float64{{0.6}}}, []float64{0.6}, false},
		{"frame fraud column first", Output{Shape: Frame, Columns: []string{"fraud", "legit"}, Rows: [][]float64{{0.9, 0.1}}}, []float64{0.9}, false},
		{"frame fraud column last of three", Output{Shape: Frame, Columns: []string{"id", "legit", "fraud"}, Rows: [][]float64{{7, 0.25, 0.75}}}, []float64{0.75}, false},
		{"frame named without fraud falls back", Output{Shape: Frame, Columns: []string{"neg", "pos"}, Rows: [][]float64{{0.3, 0.7}}}, []float64{0.7}, false},
		{"frame row shorter than names", Output{Shape: Frame, Columns: []string{"legit", "fraud"}, Rows: [][]float64{{0.3}}}, nil, true},
		{"matrix wrong width", Output{Shape: ProbaMatrix, Rows: [][]float64{{0.6}}}, nil, true},
		{"empty frame row", Output{Shape: Frame, Rows: [][]float64{{}}}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.out.Probabilities()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
