package etl

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fraud-pipeline/internal/warehouse"
)

// ValidationReport describes the class balance of the feature view.
type ValidationReport struct {
	Total        int64 `json:"total"`
	Fraud        int64 `json:"fraud"`
	Legit        int64 `json:"legit"`
	MinFraudRows int64 `json:"min_fraud_rows"`
	// Sufficient is false when the fraud class has fewer rows than MinFraudRows.
	Sufficient bool `json:"sufficient"`
}

// FraudRate returns the fraction of fraud rows, or 0 for an empty view.
func (r ValidationReport) FraudRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Fraud) / float64(r.Total)
}

// Validate counts feature rows per class. Too few fraud rows is reported as a
// warning, not an error; an empty view is an error.
func Validate(ctx context.Context, wh warehouse.Warehouse, minFraudRows int) (*ValidationReport, error) {
	counts, err := wh.CountByClass(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "etl: validate")
	}

	r := &ValidationReport{
		Fraud:        counts[1],
		Legit:        counts[0],
		MinFraudRows: int64(minFraudRows),
	}
	r.Total = r.Fraud + r.Legit
	if r.Total == 0 {
		return r, eris.New("etl: validate: feature view is empty")
	}
	r.Sufficient = r.Fraud >= r.MinFraudRows

	log := zap.L().With(zap.String("component", "etl"))
	if !r.Sufficient {
		log.Warn("etl: low fraud sample count",
			zap.Int64("fraud", r.Fraud),
			zap.Int64("min", r.MinFraudRows),
		)
	} else {
		log.Info("etl: data validated",
			zap.Int64("total", r.Total),
			zap.Int64("fraud", r.Fraud),
			zap.Float64("fraud_rate", r.FraudRate()),
		)
	}
	return r, nil
}
