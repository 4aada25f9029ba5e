package features

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/fraud-pipeline/internal/model"
)

// Source yields raw input values by column name.
type Source interface {
	Value(column string) (float64, bool)
}

// Vector builds the model input for src in the given column order. Scaled
// columns are computed with s; every other column is looked up by name, so the
// order never depends on how src was produced.
func Vector(src Source, s *Scaler, columns []string) ([]float64, error) {
	amount, ok := src.Value(model.ColumnAmount)
	if !ok {
		return nil, eris.New("features: amount is missing")
	}
	time, ok := src.Value(model.ColumnTime)
	if !ok {
		return nil, eris.New("features: time is missing")
	}
	scaledAmount, scaledTime := s.Transform(amount, time)

	out := make([]float64, len(columns))
	for i, col := range columns {
		switch col {
		case model.ColumnScaledAmount:
			out[i] = scaledAmount
		case model.ColumnScaledTime:
			out[i] = scaledTime
		default:
			v, ok := src.Value(col)
			if !ok {
				return nil, eris.Errorf("features: unknown input column %q", col)
			}
			out[i] = v
		}
	}
	return out, nil
}
