// Package features turns feature view rows into model inputs: the stratified
// train/test split, the standard scaler over amount and time, and the ordered
// input vector shared by training and inference.
package features

import (
	"encoding/json"
	"math"
	"os"
	"slices"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/fraud-pipeline/internal/model"
)

// ScalerInputs is the fixed fit order of the scaler: amount, then time.
var ScalerInputs = []string{model.ColumnAmount, model.ColumnTime}

// Scaler standardises amount and time with the mean and population standard
// deviation of the training partition.
type Scaler struct {
	Inputs  []string  `json:"inputs"`
	Outputs []string  `json:"outputs"`
	Mean    []float64 `json:"mean"`
	Scale   []float64 `json:"scale"`
}

// FitScaler fits the scaler on the amount and time of rows.
func FitScaler(rows []model.FeatureRecord) (*Scaler, error) {
	if len(rows) == 0 {
		return nil, eris.New("scaler: no rows to fit")
	}
	amounts := make([]float64, len(rows))
	times := make([]float64, len(rows))
	for i, r := range rows {
		amounts[i] = r.Amount
		times[i] = r.Time
	}

	s := &Scaler{
		Inputs:  slices.Clone(ScalerInputs),
		Outputs: []string{model.ScaledColumns[0], model.ScaledColumns[1]},
		Mean:    make([]float64, 2),
		Scale:   make([]float64, 2),
	}
	for i, col := range [][]float64{amounts, times} {
		mean, std := stat.PopMeanStdDev(col, nil)
		if math.IsNaN(mean) || math.IsInf(mean, 0) {
			return nil, eris.Errorf("scaler: non-finite %s mean", s.Inputs[i])
		}
		// A constant column is centred but not scaled.
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		s.Mean[i], s.Scale[i] = mean, std
	}
	return s, nil
}

// Validate asserts the persisted column contract.
func (s *Scaler) Validate() error {
	if s == nil {
		return eris.New("scaler: missing")
	}
	if !slices.Equal(s.Inputs, ScalerInputs) {
		return eris.Errorf("scaler: inputs %v, want %v", s.Inputs, ScalerInputs)
	}
	if !slices.Equal(s.Outputs, []string{model.ScaledColumns[0], model.ScaledColumns[1]}) {
		return eris.Errorf("scaler: outputs %v, want %v", s.Outputs, model.ScaledColumns)
	}
	if len(s.Mean) != 2 || len(s.Scale) != 2 {
		return eris.New("scaler: mean and scale must have two entries")
	}
	for _, v := range s.Scale {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return eris.Errorf("scaler: invalid scale %v", v)
		}
	}
	return nil
}

// Transform scales one amount/time pair.
func (s *Scaler) Transform(amount, time float64) (scaledAmount, scaledTime float64) {
	return (amount - s.Mean[0]) / s.Scale[0], (time - s.Mean[1]) / s.Scale[1]
}

// Save writes the scaler as JSON.
func (s *Scaler) Save(path string) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return eris.Wrap(err, "scaler: marshal")
	}
	return eris.Wrap(os.WriteFile(path, b, 0o644), "scaler: write")
}

// LoadScaler reads and validates a scaler written by Save.
func LoadScaler(path string) (*Scaler, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "scaler: read")
	}
	var s Scaler
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, eris.Wrap(err, "scaler: decode")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
