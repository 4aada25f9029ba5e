package classifier

import (
	"context"
	"slices"
	"sort"

	"github.com/sells-group/fraud-pipeline/internal/features"
	"github.com/sells-group/fraud-pipeline/internal/model"
)

// GBTHistParams configure leaf-wise boosting over quantile histograms.
type GBTHistParams struct {
	NEstimators   int     `mapstructure:"n_estimators"`
	NumLeaves     int     `mapstructure:"num_leaves"`
	MaxDepth      int     `mapstructure:"max_depth"` // <= 0 means unlimited
	LearningRate  float64 `mapstructure:"learning_rate"`
	MinDataInLeaf int     `mapstructure:"min_data_in_leaf"`
	MaxBins       int     `mapstructure:"max_bins"`
	LambdaL2      float64 `mapstructure:"lambda_l2"`
	Subsample     float64 `mapstructure:"subsample"`
	IsUnbalance   bool    `mapstructure:"is_unbalance"`
}

func defaultGBTHistParams() GBTHistParams {
	return GBTHistParams{
		NEstimators:   100,
		NumLeaves:     31,
		MaxDepth:      -1,
		LearningRate:  0.1,
		MinDataInLeaf: 20,
		MaxBins:       255,
		Subsample:     1,
	}
}

// GBTHist is a gradient-boosted tree ensemble grown best-first: the leaf with
// the largest gain is split next until NumLeaves is reached.
type GBTHist struct {
	params  GBTHistParams
	seed    uint64
	Booster *Ensemble
}

// NewGBTHist validates params and returns an untrained model.
func NewGBTHist(params map[string]any, seed uint64) (*GBTHist, error) {
	p := defaultGBTHistParams()
	if err := decodeParams(model.FamilyGBTHist, params, &p); err != nil {
		return nil, err
	}
	errs := paramErrors{family: model.FamilyGBTHist}
	errs.check(p.NEstimators > 0, "n_estimators must be positive")
	errs.check(p.NumLeaves >= 2, "num_leaves must be at least 2")
	errs.check(p.LearningRate > 0 && p.LearningRate <= 1, "learning_rate must be in (0, 1]")
	errs.check(p.MinDataInLeaf >= 1, "min_data_in_leaf must be positive")
	errs.check(p.MaxBins >= 2 && p.MaxBins <= 256, "max_bins must be in [2, 256]")
	errs.check(p.LambdaL2 >= 0, "lambda_l2 must be non-negative")
	errs.check(p.Subsample > 0 && p.Subsample <= 1, "subsample must be in (0, 1]")
	if err := errs.err(); err != nil {
		return nil, err
	}
	return &GBTHist{params: p, seed: seed}, nil
}

// NewGBTHistFromEnsemble wraps a previously trained ensemble.
func NewGBTHistFromEnsemble(e *Ensemble) *GBTHist {
	return &GBTHist{params: defaultGBTHistParams(), Booster: e}
}

func (m *GBTHist) Family() model.Family   { return model.FamilyGBTHist }
func (m *GBTHist) Params() map[string]any { return encodeParams(m.params) }

func (m *GBTHist) NumFeatures() int {
	if m.Booster == nil {
		return 0
	}
	return m.Booster.NumFeatures
}

func (m *GBTHist) Fit(ctx context.Context, ds *features.Dataset) error {
	if err := checkDataset(ds); err != nil {
		return err
	}
	b := newBinned(ds.X, m.params.MaxBins)

	posWeight := 1.0
	if m.params.IsUnbalance {
		cw := balancedWeights(ds.Y)
		posWeight = cw[1] / cw[0]
	}
	grow := func(g, h []float64, rows []int) Tree {
		return m.grow(b, g, h, rows)
	}
	ens, err := boost(ctx, ds, boostConfig{
		rounds:    m.params.NEstimators,
		subsample: m.params.Subsample,
		posWeight: posWeight,
		seed:      m.seed,
	}, grow)
	if err != nil {
		return err
	}
	m.Booster = ens
	return nil
}

func (m *GBTHist) PredictProba(x [][]float64) ([]float64, error) {
	if m.Booster == nil {
		return nil, checkInput(x, 0)
	}
	return m.Booster.predictProba(x)
}

// binned holds every feature discretised into quantile bins. Bin b of
// feature f covers values in (edges[f][b-1], edges[f][b]].
type binned struct {
	edges [][]float64
	bins  [][]uint8 // [feature][row]
}

func newBinned(x [][]float64, maxBins int) *binned {
	nFeat := len(x[0])
	b := &binned{edges: make([][]float64, nFeat), bins: make([][]uint8, nFeat)}
	col := make([]float64, len(x))
	for f := 0; f < nFeat; f++ {
		for i, row := range x {
			col[i] = row[f]
		}
		sorted := slices.Clone(col)
		sort.Float64s(sorted)

		var edges []float64
		for k := 1; k < maxBins; k++ {
			v := sorted[k*len(sorted)/maxBins]
			// The maximum never separates anything.
			if v == sorted[len(sorted)-1] {
				break
			}
			if len(edges) == 0 || v > edges[len(edges)-1] {
				edges = append(edges, v)
			}
		}
		b.edges[f] = edges

		bins := make([]uint8, len(x))
		for i, v := range col {
			bins[i] = uint8(sort.SearchFloat64s(edges, v))
		}
		b.bins[f] = bins
	}
	return b
}

type histBin struct {
	g, h  float64
	count int
}

type histSplit struct {
	gain    float64
	feature int
	bin     int
}

type histLeaf struct {
	node  int
	depth int
	rows  []int
	g, h  float64
	best  histSplit
}

func (m *GBTHist) grow(b *binned, g, h []float64, rows []int) Tree {
	p := m.params
	t := Tree{Nodes: []Node{{}}}

	root := &histLeaf{node: 0, rows: rows}
	for _, i := range rows {
		root.g += g[i]
		root.h += h[i]
	}
	m.findSplit(b, g, h, root)
	leaves := []*histLeaf{root}

	for len(leaves) < p.NumLeaves {
		bestIdx := -1
		for i, l := range leaves {
			if l.best.feature < 0 {
				continue
			}
			if bestIdx < 0 || l.best.gain > leaves[bestIdx].best.gain {
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		parent := leaves[bestIdx]
		f, bin := parent.best.feature, parent.best.bin

		left := &histLeaf{node: len(t.Nodes), depth: parent.depth + 1}
		right := &histLeaf{node: len(t.Nodes) + 1, depth: parent.depth + 1}
		t.Nodes = append(t.Nodes, Node{}, Node{})
		t.Nodes[parent.node] = Node{
			Feature:   f,
			Threshold: b.edges[f][bin],
			Left:      left.node,
			Right:     right.node,
		}
		for _, i := range parent.rows {
			child := right
			if int(b.bins[f][i]) <= bin {
				child = left
			}
			child.rows = append(child.rows, i)
			child.g += g[i]
			child.h += h[i]
		}
		m.findSplit(b, g, h, left)
		m.findSplit(b, g, h, right)
		leaves[bestIdx] = left
		leaves = append(leaves, right)
	}

	for _, l := range leaves {
		t.Nodes[l.node] = Node{Leaf: true, Value: leafValue(l.g, l.h, p.LambdaL2, p.LearningRate)}
	}
	return t
}

// findSplit records the best histogram split of l, or feature -1 when the
// leaf must stay a leaf.
func (m *GBTHist) findSplit(b *binned, g, h []float64, l *histLeaf) {
	p := m.params
	l.best = histSplit{feature: -1}
	if len(l.rows) < 2*p.MinDataInLeaf || (p.MaxDepth > 0 && l.depth >= p.MaxDepth) {
		return
	}
	for f, edges := range b.edges {
		if len(edges) == 0 {
			continue
		}
		hist := make([]histBin, len(edges)+1)
		for _, i := range l.rows {
			hb := &hist[b.bins[f][i]]
			hb.g += g[i]
			hb.h += h[i]
			hb.count++
		}
		var gl, hl float64
		var nl int
		// The last bin has no upper edge to split on.
		for bin := 0; bin < len(edges); bin++ {
			gl += hist[bin].g
			hl += hist[bin].h
			nl += hist[bin].count
			nr := len(l.rows) - nl
			if nl < p.MinDataInLeaf {
				continue
			}
			if nr < p.MinDataInLeaf {
				break
			}
			gain := splitGain(gl, hl, l.g-gl, l.h-hl, p.LambdaL2)
			if gain > 1e-12 && gain > l.best.gain {
				l.best = histSplit{gain: gain, feature: f, bin: bin}
			}
		}
	}
}
