package serving

import (
	"math"
	"sync/atomic"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fraud-pipeline/internal/features"
	"github.com/sells-group/fraud-pipeline/internal/model"
)

// Predictor scores transactions with the current bundle. The bundle is
// swapped atomically, so a request always sees one consistent model and
// scaler pair.
type Predictor struct {
	current   atomic.Pointer[Bundle]
	threshold float64
}

// NewPredictor creates a predictor with no model loaded.
func NewPredictor(threshold float64) *Predictor {
	return &Predictor{threshold: threshold}
}

// Swap installs b and returns the bundle it replaced.
func (p *Predictor) Swap(b *Bundle) *Bundle {
	return p.current.Swap(b)
}

// Bundle returns the current bundle, or nil.
func (p *Predictor) Bundle() *Bundle {
	return p.current.Load()
}

// Predict scales amount and time, builds the input vector in the bundle's
// persisted column order and thresholds the fraud probability.
func (p *Predictor) Predict(req model.Transaction) (model.Prediction, error) {
	const op = "serving: predict"
	b := p.current.Load()
	if b == nil || b.Model == nil {
		return model.Prediction{}, model.NewError(model.KindResolution, op, model.ErrNoModel).
			WithHint("train a model with `fraud-pipeline train` or place a bundle in serving.local_model_dir")
	}
	if err := b.Scaler.Validate(); err != nil {
		return model.Prediction{}, model.NewError(model.KindPrediction, op, err)
	}
	if want := b.Model.NumFeatures(); want != len(b.Columns) {
		return model.Prediction{}, model.NewError(model.KindPrediction, op,
			eris.Errorf("model expects %d inputs but %d columns are persisted", want, len(b.Columns)))
	}

	x, err := features.Vector(req, b.Scaler, b.Columns)
	if err != nil {
		return model.Prediction{}, model.NewError(model.KindPrediction, op, err)
	}
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return model.Prediction{}, model.NewError(model.KindPrediction, op,
				eris.Errorf("input %s is not finite after scaling", b.Columns[i]))
		}
	}
	out, err := b.Model.Predict([][]float64{x})
	if err != nil {
		return model.Prediction{}, model.NewError(model.KindPrediction, op, err)
	}
	proba, err := out.Probabilities()
	if err != nil {
		return model.Prediction{}, model.NewError(model.KindPrediction, op, err)
	}
	if len(proba) != 1 {
		return model.Prediction{}, model.NewError(model.KindPrediction, op,
			eris.Errorf("model returned %d predictions for one record", len(proba)))
	}

	if math.IsNaN(proba[0]) || proba[0] < 0 || proba[0] > 1 {
		return model.Prediction{}, model.NewError(model.KindPrediction, op,
			eris.Errorf("model returned fraud probability %v outside [0,1]", proba[0]))
	}

	pred := model.Prediction{FraudProbability: proba[0]}
	if proba[0] > p.threshold {
		pred.IsFraud = 1
	}
	return pred, nil
}
