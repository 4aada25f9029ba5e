package classifier

import (
	"context"
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fraud-pipeline/internal/features"
	"github.com/sells-group/fraud-pipeline/internal/model"
)

// separable returns two-feature data labelled by x0+x1 > 1.5.
func separable(n int) *features.Dataset {
	rng := rand.New(rand.NewPCG(1, 2))
	ds := &features.Dataset{Columns: []string{"a", "b"}}
	for i := 0; i < n; i++ {
		x := []float64{rng.NormFloat64(), rng.NormFloat64()}
		y := 0
		if x[0]+x[1] > 1.5 {
			y = 1
		}
		ds.X = append(ds.X, x)
		ds.Y = append(ds.Y, y)
	}
	return ds
}

func meanByClass(p []float64, y []int) (neg, pos float64) {
	var nNeg, nPos float64
	for i, v := range p {
		if y[i] == 1 {
			pos += v
			nPos++
		} else {
			neg += v
			nNeg++
		}
	}
	return neg / nNeg, pos / nPos
}

func TestFamiliesLearnSeparableData(t *testing.T) {
	ds := separable(400)
	require.Greater(t, ds.Positives(), 20)

	tests := []struct {
		family model.Family
		params map[string]any
	}{
		{model.FamilyLinear, nil},
		{model.FamilyGBTExact, map[string]any{"n_estimators": 30, "max_depth": 3}},
		{model.FamilyGBTHist, map[string]any{"n_estimators": 30, "num_leaves": 8, "max_bins": 32}},
		{model.FamilyMLP, map[string]any{"epochs": 40, "batch_size": 32, "learning_rate": 0.01, "hidden_layers": []any{8}}},
	}
	for _, tt := range tests {
		t.Run(string(tt.family), func(t *testing.T) {
			c, err := New(tt.family, tt.params, 42)
			require.NoError(t, err)
			assert.Equal(t, tt.family, c.Family())
			assert.Zero(t, c.NumFeatures())

			require.NoError(t, c.Fit(context.Background(), ds))
			assert.Equal(t, 2, c.NumFeatures())

			p, err := c.PredictProba(ds.X)
			require.NoError(t, err)
			require.Len(t, p, ds.Len())
			for _, v := range p {
				assert.GreaterOrEqual(t, v, 0.0)
				assert.LessOrEqual(t, v, 1.0)
			}
			neg, pos := meanByClass(p, ds.Y)
			assert.Greater(t, pos, neg+0.3, "positives should score well above negatives")
		})
	}
}

func TestNewRejectsUnknownParam(t *testing.T) {
	_, err := New(model.FamilyLinear, map[string]any{"penalty": "l1"}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "penalty")
}

func TestNewRejectsOutOfRange(t *testing.T) {
	_, err := New(model.FamilyGBTExact, map[string]any{"max_depth": 0, "subsample": 2}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_depth")
	assert.Contains(t, err.Error(), "subsample")

	_, err = New(model.FamilyMLP, map[string]any{"hidden_layers": []any{8, 0}}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hidden_layers")
}

func TestNewUnknownFamily(t *testing.T) {
	_, err := New(model.Family("svm"), nil, 0)
	require.Error(t, err)
}

func TestParamsAfterDefaults(t *testing.T) {
	c, err := New(model.FamilyLinear, map[string]any{"c": "0.5"}, 0)
	require.NoError(t, err)
	p := c.Params()
	assert.Equal(t, 0.5, p["c"])
	assert.Equal(t, "balanced", p["class_weight"])
	assert.Equal(t, 200, p["max_iter"])
}

func TestFitNeedsBothClasses(t *testing.T) {
	ds := &features.Dataset{X: [][]float64{{1}, {2}}, Y: []int{0, 0}}
	for _, f := range model.Families {
		c, err := New(f, nil, 0)
		require.NoError(t, err)
		assert.Error(t, c.Fit(context.Background(), ds), f)
	}
}

func TestPredictProbaChecksInput(t *testing.T) {
	c, err := New(model.FamilyGBTHist, nil, 0)
	require.NoError(t, err)
	_, err = c.PredictProba([][]float64{{1, 2}})
	assert.ErrorContains(t, err, "not fitted")

	lin := NewLinearFromWeights([]float64{1, -1}, 0)
	_, err = lin.PredictProba([][]float64{{1, 2, 3}})
	assert.ErrorContains(t, err, "model expects 2")

	p, err := lin.PredictProba([][]float64{{0, 0}})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p[0], 1e-12)
}

func TestFitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c, err := New(model.FamilyGBTExact, nil, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Fit(ctx, separable(100)), context.Canceled)
}

func TestEnsembleValidate(t *testing.T) {
	good := &Ensemble{NumFeatures: 2, Trees: []Tree{{Nodes: []Node{
		{Feature: 1, Threshold: 0.5, Left: 1, Right: 2},
		{Leaf: true, Value: -1},
		{Leaf: true, Value: 1},
	}}}}
	require.NoError(t, good.Validate())
	assert.Equal(t, 1.0, good.margin([]float64{0, 0.9}))

	cyclic := &Ensemble{NumFeatures: 2, Trees: []Tree{{Nodes: []Node{
		{Feature: 0, Left: 0, Right: 1},
		{Leaf: true},
	}}}}
	assert.Error(t, cyclic.Validate())

	badFeature := &Ensemble{NumFeatures: 1, Trees: []Tree{{Nodes: []Node{
		{Feature: 3, Left: 1, Right: 2}, {Leaf: true}, {Leaf: true},
	}}}}
	assert.Error(t, badFeature.Validate())
}

func TestNewMLPFromWeights(t *testing.T) {
	_, err := NewMLPFromWeights([]int{2, 3, 1}, make([]float64, 5))
	assert.ErrorContains(t, err, "needs 13 weights")

	m, err := NewMLPFromWeights([]int{2, 1}, []float64{0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, 2, m.NumFeatures())
	p, err := m.PredictProba([][]float64{{3, 4}})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p[0], 1e-12)
}

// scriptedIterative replays a fixed validation loss per epoch.
type scriptedIterative struct {
	schedule Schedule
	losses   []float64
	epochs   int
	batches  int
	weights  []float64
}

func (s *scriptedIterative) Family() model.Family                       { return model.FamilyMLP }
func (s *scriptedIterative) Params() map[string]any                     { return nil }
func (s *scriptedIterative) Fit(context.Context, *features.Dataset) error { return nil }
func (s *scriptedIterative) PredictProba([][]float64) ([]float64, error) { return nil, nil }
func (s *scriptedIterative) NumFeatures() int                           { return 1 }
func (s *scriptedIterative) Schedule() Schedule                         { return s.schedule }
func (s *scriptedIterative) Init(int)                                   { s.weights = []float64{0} }
func (s *scriptedIterative) TrainBatch([][]float64, []int)              { s.batches++ }
func (s *scriptedIterative) Snapshot() []float64                        { return slices.Clone(s.weights) }
func (s *scriptedIterative) Restore(w []float64)                        { copy(s.weights, w) }

func (s *scriptedIterative) Loss([][]float64, []int) float64 {
	l := s.losses[s.epochs]
	s.epochs++
	s.weights[0] = float64(s.epochs)
	return l
}

func TestTrainIterativeEarlyStopping(t *testing.T) {
	ds := &features.Dataset{}
	for i := 0; i < 10; i++ {
		ds.X = append(ds.X, []float64{float64(i)})
		ds.Y = append(ds.Y, i%2)
	}
	m := &scriptedIterative{
		schedule: Schedule{Epochs: 6, BatchSize: 3, Patience: 2, ValidationFraction: 0.2, Seed: 7},
		losses:   []float64{1.0, 0.5, 0.6, 0.7, 0.8, 0.9},
	}

	require.NoError(t, TrainIterative(context.Background(), m, ds))
	assert.Equal(t, 4, m.epochs, "stops after two epochs without improvement")
	assert.Equal(t, 12, m.batches, "8 training rows in batches of 3 for 4 epochs")
	assert.Equal(t, []float64{2}, m.weights, "best epoch's weights restored")
}

func TestTrainIterativeDiverged(t *testing.T) {
	ds := &features.Dataset{X: [][]float64{{0}, {1}, {2}, {3}}, Y: []int{0, 1, 0, 1}}
	m := &scriptedIterative{
		schedule: Schedule{Epochs: 2, BatchSize: 2},
		losses:   []float64{math.NaN(), 2},
	}
	assert.ErrorContains(t, TrainIterative(context.Background(), m, ds), "diverged")
}
