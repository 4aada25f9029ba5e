package evaluate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAUC(t *testing.T) {
	tests := []struct {
		name  string
		y     []int
		proba []float64
		want  float64
	}{
		{"perfect", []int{0, 0, 1, 1}, []float64{0.1, 0.2, 0.8, 0.9}, 1},
		{"inverted", []int{1, 1, 0, 0}, []float64{0.1, 0.2, 0.8, 0.9}, 0},
		{"all tied", []int{0, 1, 0, 1}, []float64{0.5, 0.5, 0.5, 0.5}, 0.5},
		{"one swap", []int{0, 1, 0, 1}, []float64{0.1, 0.35, 0.4, 0.8}, 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AUC(tt.y, tt.proba)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestAUCDoesNotReorderInput(t *testing.T) {
	proba := []float64{0.9, 0.1, 0.5}
	_, err := AUC([]int{1, 0, 0}, proba)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.9, 0.1, 0.5}, proba)
}

func TestAUCSingleClass(t *testing.T) {
	_, err := AUC([]int{0, 0}, []float64{0.2, 0.3})
	assert.ErrorContains(t, err, "both classes")
}

func TestCompute(t *testing.T) {
	y := []int{1, 1, 1, 0, 0, 0, 0, 0}
	proba := []float64{0.9, 0.6, 0.3, 0.7, 0.2, 0.1, 0.4, 0.05}

	m, err := Compute(y, proba, 0.5)
	require.NoError(t, err)
	// TP=2 FP=1 FN=1
	assert.InDelta(t, 2.0/3, m.Precision, 1e-12)
	assert.InDelta(t, 2.0/3, m.Recall, 1e-12)
	assert.InDelta(t, 2.0/3, m.F1, 1e-12)
	assert.InDelta(t, 12.0/15, m.AUC, 1e-12)
}

func TestComputeThresholdIsStrict(t *testing.T) {
	c := ConfusionAt([]int{1, 0}, []float64{0.5, 0.5}, 0.5)
	assert.Equal(t, Confusion{FN: 1, TN: 1}, c)
	assert.Zero(t, c.Precision())
	assert.Zero(t, c.F1())
}

func TestComputeRejectsInvalidProbability(t *testing.T) {
	_, err := Compute([]int{0, 1}, []float64{0.2, 1.5}, 0.5)
	assert.ErrorContains(t, err, "invalid probability")

	_, err = Compute(nil, nil, 0.5)
	assert.Error(t, err)
}
