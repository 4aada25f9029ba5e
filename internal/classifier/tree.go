package classifier

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fraud-pipeline/internal/features"
)

// Node is one node of a regression tree stored in a flat slice. Rows with
// x[Feature] <= Threshold go to Left.
type Node struct {
	Leaf      bool    `json:"leaf,omitempty" yaml:"leaf,omitempty"`
	Value     float64 `json:"value,omitempty" yaml:"value,omitempty"`
	Feature   int     `json:"feature,omitempty" yaml:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Left      int     `json:"left,omitempty" yaml:"left,omitempty"`
	Right     int     `json:"right,omitempty" yaml:"right,omitempty"`
}

// Tree is a regression tree rooted at Nodes[0].
type Tree struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
}

func (t Tree) predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Ensemble is an additive tree model on the log-odds scale. Leaf values
// already include the learning rate.
type Ensemble struct {
	BaseScore   float64 `json:"base_score" yaml:"base_score"`
	NumFeatures int     `json:"num_features" yaml:"num_features"`
	Trees       []Tree  `json:"trees" yaml:"trees"`
}

// Validate checks the tree structure is well formed for NumFeatures inputs.
func (e *Ensemble) Validate() error {
	if e.NumFeatures <= 0 {
		return eris.New("classifier: ensemble has no input features")
	}
	for ti, t := range e.Trees {
		if len(t.Nodes) == 0 {
			return eris.Errorf("classifier: tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.Leaf {
				continue
			}
			if n.Feature < 0 || n.Feature >= e.NumFeatures {
				return eris.Errorf("classifier: tree %d node %d splits on feature %d", ti, ni, n.Feature)
			}
			// Children always follow their parent, so this also rules out cycles.
			if n.Left <= ni || n.Right <= ni || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return eris.Errorf("classifier: tree %d node %d has invalid children", ti, ni)
			}
		}
	}
	return nil
}

func (e *Ensemble) margin(x []float64) float64 {
	m := e.BaseScore
	for _, t := range e.Trees {
		m += t.predict(x)
	}
	return m
}

func (e *Ensemble) predictProba(x [][]float64) ([]float64, error) {
	if err := checkInput(x, e.NumFeatures); err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	for i, row := range x {
		out[i] = sigmoid(e.margin(row))
	}
	return out, nil
}

// growFunc fits one tree to gradients g and hessians h over the sampled rows.
type growFunc func(g, h []float64, rows []int) Tree

// boostConfig is the part of the boosting loop shared by both tree families.
type boostConfig struct {
	rounds    int
	subsample float64
	posWeight float64
	seed      uint64
}

// boost runs Newton boosting on the log loss.
func boost(ctx context.Context, ds *features.Dataset, cfg boostConfig, grow growFunc) (*Ensemble, error) {
	n := ds.Len()
	w := make([]float64, n)
	var wPos, wAll float64
	for i, y := range ds.Y {
		w[i] = 1
		if y == 1 {
			w[i] = cfg.posWeight
			wPos += w[i]
		}
		wAll += w[i]
	}

	ens := &Ensemble{BaseScore: logit(wPos / wAll), NumFeatures: len(ds.X[0])}
	margin := make([]float64, n)
	for i := range margin {
		margin[i] = ens.BaseScore
	}

	rng := rand.New(rand.NewPCG(cfg.seed, cfg.seed^0x9e3779b97f4a7c15))
	g := make([]float64, n)
	h := make([]float64, n)
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}

	for round := 0; round < cfg.rounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrapf(err, "classifier: boosting round %d", round)
		}
		for i, y := range ds.Y {
			p := sigmoid(margin[i])
			g[i] = w[i] * (p - float64(y))
			h[i] = math.Max(w[i]*p*(1-p), 1e-16)
		}
		rows := all
		if cfg.subsample < 1 {
			rows = sample(rng, n, cfg.subsample)
		}
		t := grow(g, h, rows)
		for i, row := range ds.X {
			margin[i] += t.predict(row)
		}
		ens.Trees = append(ens.Trees, t)
	}
	zap.L().Debug("classifier: boosting complete", zap.Int("trees", len(ens.Trees)))
	return ens, nil
}

// sample draws a sorted row subset of size ceil(n*frac).
func sample(rng *rand.Rand, n int, frac float64) []int {
	k := int(math.Ceil(float64(n) * frac))
	perm := rng.Perm(n)[:k]
	mark := make([]bool, n)
	for _, i := range perm {
		mark[i] = true
	}
	rows := make([]int, 0, k)
	for i, ok := range mark {
		if ok {
			rows = append(rows, i)
		}
	}
	return rows
}

// leafValue is the Newton step for a leaf, scaled by the learning rate.
func leafValue(g, h, lambda, lr float64) float64 {
	return -g / (h + lambda) * lr
}

// splitGain is the loss reduction of splitting (g, h) into a left and right child.
func splitGain(gl, hl, gr, hr, lambda float64) float64 {
	return 0.5 * (gl*gl/(hl+lambda) + gr*gr/(hr+lambda) - (gl+gr)*(gl+gr)/(hl+hr+lambda))
}
