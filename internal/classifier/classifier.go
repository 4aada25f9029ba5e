// Package classifier implements the model families trained by the pipeline
// behind one fit/predict-probability contract.
package classifier

import (
	"context"
	"math"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rotisserie/eris"

	"github.com/sells-group/fraud-pipeline/internal/features"
	"github.com/sells-group/fraud-pipeline/internal/model"
)

// Classifier is a binary model producing the probability of the fraud class.
type Classifier interface {
	Family() model.Family
	// Params returns the effective hyperparameters after defaults.
	Params() map[string]any
	// Fit trains on ds. Single-shot families fit in one call.
	Fit(ctx context.Context, ds *features.Dataset) error
	// PredictProba returns one fraud probability per row of x.
	PredictProba(x [][]float64) ([]float64, error)
	// NumFeatures is the input width the model was fit on, 0 before Fit.
	NumFeatures() int
}

// Iterative is a Classifier trained epoch by epoch on mini-batches with
// early stopping on a validation partition. Train drives the loop.
type Iterative interface {
	Classifier
	Schedule() Schedule
	// Init allocates fresh weights for nFeatures inputs.
	Init(nFeatures int)
	// TrainBatch takes one optimisation step on a mini-batch.
	TrainBatch(x [][]float64, y []int)
	// Loss is the mean training objective on x.
	Loss(x [][]float64, y []int) float64
	// Snapshot and Restore save and reinstate the weights.
	Snapshot() []float64
	Restore(weights []float64)
}

// Schedule configures the epoch loop of an Iterative model.
type Schedule struct {
	Epochs             int
	BatchSize          int
	Patience           int
	ValidationFraction float64
	Seed               uint64
}

// New builds an untrained classifier for family from params. Unknown keys and
// out-of-range values are rejected here, before any training starts.
func New(family model.Family, params map[string]any, seed uint64) (Classifier, error) {
	switch family {
	case model.FamilyLinear:
		return NewLinear(params)
	case model.FamilyGBTExact:
		return NewGBTExact(params, seed)
	case model.FamilyGBTHist:
		return NewGBTHist(params, seed)
	case model.FamilyMLP:
		return NewMLP(params, seed)
	default:
		return nil, eris.Errorf("classifier: unknown family %q", family)
	}
}

// decodeParams decodes params over the defaults already in out.
func decodeParams(family model.Family, params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return eris.Wrap(err, "classifier: build decoder")
	}
	if err := dec.Decode(params); err != nil {
		return eris.Wrapf(err, "classifier: %s params", family)
	}
	return nil
}

// encodeParams flattens a params struct into a map keyed by its mapstructure tags.
func encodeParams(p any) map[string]any {
	out := map[string]any{}
	if err := mapstructure.Decode(p, &out); err != nil {
		return map[string]any{}
	}
	return out
}

// paramErrors collects range violations for one family.
type paramErrors struct {
	family model.Family
	msgs   []string
}

func (e *paramErrors) check(ok bool, msg string) {
	if !ok {
		e.msgs = append(e.msgs, msg)
	}
}

func (e *paramErrors) err() error {
	if len(e.msgs) == 0 {
		return nil
	}
	return eris.Errorf("classifier: invalid %s params: %v", e.family, e.msgs)
}

func checkDataset(ds *features.Dataset) error {
	if ds == nil || ds.Len() == 0 {
		return eris.New("classifier: empty training set")
	}
	if len(ds.X) != len(ds.Y) {
		return eris.Errorf("classifier: %d rows but %d labels", len(ds.X), len(ds.Y))
	}
	width := len(ds.X[0])
	for i, row := range ds.X {
		if len(row) != width {
			return eris.Errorf("classifier: row %d has %d features, want %d", i, len(row), width)
		}
	}
	pos := ds.Positives()
	if pos == 0 || pos == ds.Len() {
		return eris.New("classifier: training set needs both classes")
	}
	return nil
}

func checkInput(x [][]float64, width int) error {
	if width == 0 {
		return eris.New("classifier: model is not fitted")
	}
	for i, row := range x {
		if len(row) != width {
			return eris.Errorf("classifier: row %d has %d features, model expects %d", i, len(row), width)
		}
	}
	return nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// logit is the inverse of sigmoid, clamped away from 0 and 1.
func logit(p float64) float64 {
	p = math.Min(math.Max(p, 1e-15), 1-1e-15)
	return math.Log(p / (1 - p))
}

// balancedWeights returns the per-class sample weights n/(2*n_c).
func balancedWeights(y []int) [2]float64 {
	var counts [2]float64
	for _, v := range y {
		counts[v]++
	}
	n := float64(len(y))
	return [2]float64{n / (2 * counts[0]), n / (2 * counts[1])}
}
