package classifier

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/sells-group/fraud-pipeline/internal/features"
	"github.com/sells-group/fraud-pipeline/internal/model"
)

// LinearParams are the logistic regression hyperparameters.
type LinearParams struct {
	// C is the inverse L2 regularisation strength.
	C           float64 `mapstructure:"c"`
	MaxIter     int     `mapstructure:"max_iter"`
	Tol         float64 `mapstructure:"tol"`
	ClassWeight string  `mapstructure:"class_weight"` // "balanced" or "none"
}

func defaultLinearParams() LinearParams {
	return LinearParams{C: 1.0, MaxIter: 200, Tol: 1e-6, ClassWeight: "balanced"}
}

// Linear is an L2-regularised logistic regression fit with L-BFGS.
type Linear struct {
	params  LinearParams
	Weights []float64
	Bias    float64
}

// NewLinear validates params and returns an untrained model.
func NewLinear(params map[string]any) (*Linear, error) {
	p := defaultLinearParams()
	if err := decodeParams(model.FamilyLinear, params, &p); err != nil {
		return nil, err
	}
	errs := paramErrors{family: model.FamilyLinear}
	errs.check(p.C > 0, "c must be positive")
	errs.check(p.MaxIter > 0, "max_iter must be positive")
	errs.check(p.Tol > 0, "tol must be positive")
	errs.check(p.ClassWeight == "balanced" || p.ClassWeight == "none", `class_weight must be "balanced" or "none"`)
	if err := errs.err(); err != nil {
		return nil, err
	}
	return &Linear{params: p}, nil
}

// NewLinearFromWeights rebuilds a fitted model from its coefficients.
func NewLinearFromWeights(weights []float64, bias float64) *Linear {
	return &Linear{params: defaultLinearParams(), Weights: weights, Bias: bias}
}

func (m *Linear) Family() model.Family   { return model.FamilyLinear }
func (m *Linear) Params() map[string]any { return encodeParams(m.params) }
func (m *Linear) NumFeatures() int       { return len(m.Weights) }

func (m *Linear) Fit(ctx context.Context, ds *features.Dataset) error {
	if err := checkDataset(ds); err != nil {
		return err
	}
	n, dim := ds.Len(), len(ds.X[0])

	sw := make([]float64, n)
	cw := [2]float64{1, 1}
	if m.params.ClassWeight == "balanced" {
		cw = balancedWeights(ds.Y)
	}
	for i, y := range ds.Y {
		sw[i] = cw[y]
	}
	// Objective is the weighted mean log loss plus ||w||^2 / (2*C*n), which
	// has the same minimiser as C*sum(loss) + ||w||^2/2.
	l2 := 1 / (m.params.C * float64(n))

	// x[:dim] are the weights, x[dim] the bias.
	margin := make([]float64, n)
	eval := func(x []float64) {
		w, b := x[:dim], x[dim]
		for i, row := range ds.X {
			margin[i] = floats.Dot(w, row) + b
		}
	}
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			if ctx.Err() != nil {
				return math.NaN()
			}
			eval(x)
			var loss float64
			for i, y := range ds.Y {
				z := margin[i]
				// log(1+exp(-z)) for y=1, log(1+exp(z)) for y=0, computed stably.
				if y == 0 {
					z = -z
				}
				loss += sw[i] * softplus(-z)
			}
			w := x[:dim]
			return loss/float64(n) + 0.5*l2*floats.Dot(w, w)
		},
		Grad: func(grad, x []float64) {
			eval(x)
			for j := range grad {
				grad[j] = 0
			}
			for i, row := range ds.X {
				r := sw[i] * (sigmoid(margin[i]) - float64(ds.Y[i])) / float64(n)
				floats.AddScaled(grad[:dim], r, row)
				grad[dim] += r
			}
			floats.AddScaled(grad[:dim], l2, x[:dim])
		},
	}

	res, err := optimize.Minimize(problem, make([]float64, dim+1), &optimize.Settings{
		GradientThreshold: m.params.Tol,
		MajorIterations:   m.params.MaxIter,
	}, &optimize.LBFGS{})
	if ctx.Err() != nil {
		return eris.Wrap(ctx.Err(), "linear: fit")
	}
	if res == nil || !finite(res.X) {
		return eris.Wrap(err, "linear: fit did not produce finite coefficients")
	}
	if err != nil {
		// An iteration limit or stalled line search still leaves a usable optimum.
		zap.L().Warn("linear: optimiser stopped early",
			zap.String("status", res.Status.String()),
			zap.Int("iterations", res.MajorIterations),
		)
	}

	m.Weights = append([]float64(nil), res.X[:dim]...)
	m.Bias = res.X[dim]
	return nil
}

func (m *Linear) PredictProba(x [][]float64) ([]float64, error) {
	if err := checkInput(x, len(m.Weights)); err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	for i, row := range x {
		out[i] = sigmoid(floats.Dot(m.Weights, row) + m.Bias)
	}
	return out, nil
}

// softplus computes log(1+exp(z)) without overflow.
func softplus(z float64) float64 {
	if z > 30 {
		return z
	}
	return math.Log1p(math.Exp(z))
}

func finite(xs []float64) bool {
	for _, v := range xs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
