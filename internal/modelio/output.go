package modelio

import (
	"github.com/rotisserie/eris"
)

// Shape is the layout of a loaded model's raw prediction output.
type Shape int

const (
	// ProbaMatrix has one row per record and one column per class.
	ProbaMatrix Shape = iota
	// FlatColumn has one row per record holding the positive-class probability.
	FlatColumn
	// Frame is a named-column table. The positive class is the "fraud" column;
	// an unnamed frame with several columns holds it second.
	Frame
)

func (s Shape) String() string {
	switch s {
	case ProbaMatrix:
		return "proba_matrix"
	case FlatColumn:
		return "flat_column"
	case Frame:
		return "frame"
	default:
		return "unknown"
	}
}

// Output is a model's raw prediction for a batch.
type Output struct {
	Shape   Shape
	Columns []string // Frame only
	Rows    [][]float64
}

// FraudColumn names the positive-class column of a Frame.
const FraudColumn = "fraud"

// Probabilities reduces the output to one fraud probability per record.
func (o Output) Probabilities() ([]float64, error) {
	named := -1
	for i, c := range o.Columns {
		if c == FraudColumn {
			named = i
			break
		}
	}
	out := make([]float64, len(o.Rows))
	for i, row := range o.Rows {
		var col int
		switch o.Shape {
		case ProbaMatrix:
			if len(row) != 2 {
				return nil, eris.Errorf("modelio: probability matrix row %d has %d columns, want 2", i, len(row))
			}
			col = 1
		case FlatColumn:
			if len(row) != 1 {
				return nil, eris.Errorf("modelio: flat output row %d has %d values, want 1", i, len(row))
			}
		case Frame:
			switch {
			case len(row) == 0:
				return nil, eris.Errorf("modelio: frame row %d is empty", i)
			case named >= 0:
				if named >= len(row) {
					return nil, eris.Errorf("modelio: frame row %d has %d values, %q is column %d", i, len(row), FraudColumn, named)
				}
				col = named
			case len(row) > 1:
				col = 1
			}
		default:
			return nil, eris.Errorf("modelio: unknown output shape %d", o.Shape)
		}
		out[i] = row[col]
	}
	return out, nil
}
