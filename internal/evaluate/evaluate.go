// Package evaluate scores predicted fraud probabilities against held-out labels.
package evaluate

import (
	"math"
	"slices"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/fraud-pipeline/internal/model"
)

// Confusion counts predictions at one decision threshold.
type Confusion struct {
	TP, FP, TN, FN int
}

// Precision returns TP/(TP+FP), or 0 when nothing was predicted positive.
func (c Confusion) Precision() float64 {
	if c.TP+c.FP == 0 {
		return 0
	}
	return float64(c.TP) / float64(c.TP+c.FP)
}

// Recall returns TP/(TP+FN), or 0 when there are no positives.
func (c Confusion) Recall() float64 {
	if c.TP+c.FN == 0 {
		return 0
	}
	return float64(c.TP) / float64(c.TP+c.FN)
}

// F1 is the harmonic mean of precision and recall.
func (c Confusion) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// ConfusionAt labels a row positive when its probability exceeds threshold.
func ConfusionAt(y []int, proba []float64, threshold float64) Confusion {
	var c Confusion
	for i, p := range proba {
		pred := p > threshold
		switch {
		case pred && y[i] == 1:
			c.TP++
		case pred:
			c.FP++
		case y[i] == 1:
			c.FN++
		default:
			c.TN++
		}
	}
	return c
}

// AUC is the area under the ROC curve. It is undefined unless both classes
// are present.
func AUC(y []int, proba []float64) (float64, error) {
	if len(y) != len(proba) {
		return 0, eris.Errorf("evaluate: %d labels but %d scores", len(y), len(proba))
	}
	scores := slices.Clone(proba)
	classes := make([]bool, len(y))
	var pos int
	for i, v := range y {
		classes[i] = v == 1
		if classes[i] {
			pos++
		}
	}
	if pos == 0 || pos == len(y) {
		return 0, eris.New("evaluate: AUC needs both classes in the labels")
	}
	stat.SortWeightedLabeled(scores, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, scores, classes, nil)
	return integrate.Trapezoidal(fpr, tpr), nil
}

// Compute returns the metric set for proba against y at threshold. Every
// metric is checked to be a finite value in [0,1].
func Compute(y []int, proba []float64, threshold float64) (model.MetricSet, error) {
	if len(y) == 0 {
		return model.MetricSet{}, eris.New("evaluate: no rows")
	}
	for i, p := range proba {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return model.MetricSet{}, eris.Errorf("evaluate: row %d has invalid probability %v", i, p)
		}
	}
	auc, err := AUC(y, proba)
	if err != nil {
		return model.MetricSet{}, err
	}
	c := ConfusionAt(y, proba, threshold)
	m := model.MetricSet{
		AUC:       auc,
		F1:        c.F1(),
		Precision: c.Precision(),
		Recall:    c.Recall(),
	}
	if err := m.Validate(); err != nil {
		return model.MetricSet{}, eris.Wrap(err, "evaluate")
	}
	return m, nil
}
