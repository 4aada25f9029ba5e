package classifier

import (
	"context"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"

	"github.com/sells-group/fraud-pipeline/internal/features"
	"github.com/sells-group/fraud-pipeline/internal/model"
)

// MLPParams configure the feed-forward network and its training schedule.
type MLPParams struct {
	HiddenLayers       []int   `mapstructure:"hidden_layers"`
	LearningRate       float64 `mapstructure:"learning_rate"`
	Epochs             int     `mapstructure:"epochs"`
	BatchSize          int     `mapstructure:"batch_size"`
	Patience           int     `mapstructure:"patience"`
	ValidationFraction float64 `mapstructure:"validation_fraction"`
	L2                 float64 `mapstructure:"l2"`
	ClassWeight        string  `mapstructure:"class_weight"`
}

var defaultHiddenLayers = []int{32, 16}

func defaultMLPParams() MLPParams {
	return MLPParams{
		LearningRate:       1e-3,
		Epochs:             20,
		BatchSize:          256,
		Patience:           3,
		ValidationFraction: 0.1,
		ClassWeight:        "balanced",
	}
}

const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

// MLP is a fully connected network with ReLU hidden layers and a single
// sigmoid output, trained with Adam on weighted binary cross-entropy.
type MLP struct {
	params MLPParams
	seed   uint64

	// Sizes are the layer widths from input to output; the last is always 1.
	Sizes []int
	// Weights holds every layer's row-major weight matrix followed by its bias.
	Weights []float64

	cw         [2]float64
	m, v, grad []float64
	step       int
}

// NewMLP validates params and returns an untrained network.
func NewMLP(params map[string]any, seed uint64) (*MLP, error) {
	p := defaultMLPParams()
	if err := decodeParams(model.FamilyMLP, params, &p); err != nil {
		return nil, err
	}
	if p.HiddenLayers == nil {
		p.HiddenLayers = slices.Clone(defaultHiddenLayers)
	}
	errs := paramErrors{family: model.FamilyMLP}
	for _, w := range p.HiddenLayers {
		errs.check(w > 0, "hidden_layers widths must be positive")
	}
	errs.check(p.LearningRate > 0, "learning_rate must be positive")
	errs.check(p.Epochs > 0, "epochs must be positive")
	errs.check(p.BatchSize > 0, "batch_size must be positive")
	errs.check(p.Patience >= 0, "patience must be non-negative")
	errs.check(p.ValidationFraction >= 0 && p.ValidationFraction < 0.5, "validation_fraction must be in [0, 0.5)")
	errs.check(p.L2 >= 0, "l2 must be non-negative")
	errs.check(p.ClassWeight == "balanced" || p.ClassWeight == "none", `class_weight must be "balanced" or "none"`)
	if err := errs.err(); err != nil {
		return nil, err
	}
	return &MLP{params: p, seed: seed, cw: [2]float64{1, 1}}, nil
}

// NewMLPFromWeights rebuilds a trained network from its layer sizes and flat weights.
func NewMLPFromWeights(sizes []int, weights []float64) (*MLP, error) {
	if len(sizes) < 2 || sizes[len(sizes)-1] != 1 {
		return nil, eris.Errorf("classifier: invalid network sizes %v", sizes)
	}
	for _, s := range sizes {
		if s <= 0 {
			return nil, eris.Errorf("classifier: invalid network sizes %v", sizes)
		}
	}
	if want := paramCount(sizes); len(weights) != want {
		return nil, eris.Errorf("classifier: network %v needs %d weights, got %d", sizes, want, len(weights))
	}
	p := defaultMLPParams()
	p.HiddenLayers = slices.Clone(sizes[1 : len(sizes)-1])
	return &MLP{params: p, Sizes: slices.Clone(sizes), Weights: slices.Clone(weights), cw: [2]float64{1, 1}}, nil
}

func (m *MLP) Family() model.Family   { return model.FamilyMLP }
func (m *MLP) Params() map[string]any { return encodeParams(m.params) }

func (m *MLP) NumFeatures() int {
	if len(m.Sizes) == 0 {
		return 0
	}
	return m.Sizes[0]
}

func (m *MLP) Schedule() Schedule {
	return Schedule{
		Epochs:             m.params.Epochs,
		BatchSize:          m.params.BatchSize,
		Patience:           m.params.Patience,
		ValidationFraction: m.params.ValidationFraction,
		Seed:               m.seed,
	}
}

// Fit sets class weights from ds and runs the epoch loop.
func (m *MLP) Fit(ctx context.Context, ds *features.Dataset) error {
	if err := checkDataset(ds); err != nil {
		return err
	}
	m.cw = [2]float64{1, 1}
	if m.params.ClassWeight == "balanced" {
		m.cw = balancedWeights(ds.Y)
	}
	return TrainIterative(ctx, m, ds)
}

func paramCount(sizes []int) int {
	n := 0
	for l := 0; l+1 < len(sizes); l++ {
		n += sizes[l+1]*sizes[l] + sizes[l+1]
	}
	return n
}

// Init draws He-initialised weights for nFeatures inputs and resets Adam state.
func (m *MLP) Init(nFeatures int) {
	m.Sizes = append([]int{nFeatures}, m.params.HiddenLayers...)
	m.Sizes = append(m.Sizes, 1)
	n := paramCount(m.Sizes)
	m.Weights = make([]float64, n)
	m.m = make([]float64, n)
	m.v = make([]float64, n)
	m.grad = make([]float64, n)
	m.step = 0

	rng := rand.New(rand.NewPCG(m.seed, m.seed+1))
	off := 0
	for l := 0; l+1 < len(m.Sizes); l++ {
		in, out := m.Sizes[l], m.Sizes[l+1]
		std := math.Sqrt(2 / float64(in))
		for i := 0; i < in*out; i++ {
			m.Weights[off+i] = rng.NormFloat64() * std
		}
		off += in*out + out
	}
}

// forward returns the output logit and the activations of every layer.
func (m *MLP) forward(x []float64) (float64, [][]float64) {
	acts := make([][]float64, len(m.Sizes))
	acts[0] = x
	off := 0
	for l := 0; l+1 < len(m.Sizes); l++ {
		in, out := m.Sizes[l], m.Sizes[l+1]
		w := m.Weights[off : off+in*out]
		b := m.Weights[off+in*out : off+in*out+out]
		a := make([]float64, out)
		for k := 0; k < out; k++ {
			z := floats.Dot(w[k*in:(k+1)*in], acts[l]) + b[k]
			if l+2 < len(m.Sizes) && z < 0 {
				z = 0
			}
			a[k] = z
		}
		acts[l+1] = a
		off += in*out + out
	}
	return acts[len(acts)-1][0], acts
}

// TrainBatch accumulates gradients over the batch and takes one Adam step.
func (m *MLP) TrainBatch(x [][]float64, y []int) {
	if len(x) == 0 {
		return
	}
	for i := range m.grad {
		m.grad[i] = 0
	}
	layers := len(m.Sizes) - 1
	offsets := make([]int, layers)
	for l, off := 0, 0; l < layers; l++ {
		offsets[l] = off
		off += m.Sizes[l]*m.Sizes[l+1] + m.Sizes[l+1]
	}

	scale := 1 / float64(len(x))
	for r, row := range x {
		z, acts := m.forward(row)
		delta := []float64{m.cw[y[r]] * (sigmoid(z) - float64(y[r])) * scale}
		for l := layers - 1; l >= 0; l-- {
			in, out := m.Sizes[l], m.Sizes[l+1]
			off := offsets[l]
			gw := m.grad[off : off+in*out]
			gb := m.grad[off+in*out : off+in*out+out]
			w := m.Weights[off : off+in*out]
			var prev []float64
			if l > 0 {
				prev = make([]float64, in)
			}
			for k := 0; k < out; k++ {
				if delta[k] == 0 {
					continue
				}
				floats.AddScaled(gw[k*in:(k+1)*in], delta[k], acts[l])
				gb[k] += delta[k]
				if prev != nil {
					floats.AddScaled(prev, delta[k], w[k*in:(k+1)*in])
				}
			}
			if prev != nil {
				for j := range prev {
					if acts[l][j] <= 0 {
						prev[j] = 0
					}
				}
			}
			delta = prev
		}
	}

	m.step++
	lr := m.params.LearningRate
	c1 := 1 - math.Pow(adamBeta1, float64(m.step))
	c2 := 1 - math.Pow(adamBeta2, float64(m.step))
	for i, g := range m.grad {
		g += m.params.L2 * m.Weights[i]
		m.m[i] = adamBeta1*m.m[i] + (1-adamBeta1)*g
		m.v[i] = adamBeta2*m.v[i] + (1-adamBeta2)*g*g
		m.Weights[i] -= lr * (m.m[i] / c1) / (math.Sqrt(m.v[i]/c2) + adamEps)
	}
}

// Loss is the mean class-weighted binary cross-entropy on x.
func (m *MLP) Loss(x [][]float64, y []int) float64 {
	if len(x) == 0 {
		return 0
	}
	var loss float64
	for i, row := range x {
		z, _ := m.forward(row)
		loss += m.cw[y[i]] * (softplus(z) - float64(y[i])*z)
	}
	return loss / float64(len(x))
}

func (m *MLP) Snapshot() []float64 { return slices.Clone(m.Weights) }

func (m *MLP) Restore(weights []float64) { copy(m.Weights, weights) }

func (m *MLP) PredictProba(x [][]float64) ([]float64, error) {
	if err := checkInput(x, m.NumFeatures()); err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	for i, row := range x {
		z, _ := m.forward(row)
		out[i] = sigmoid(z)
	}
	return out, nil
}
