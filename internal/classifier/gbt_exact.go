package classifier

import (
	"context"
	"sort"

	"github.com/sells-group/fraud-pipeline/internal/features"
	"github.com/sells-group/fraud-pipeline/internal/model"
)

// GBTExactParams configure depth-wise boosting with exact greedy splits.
type GBTExactParams struct {
	NEstimators    int     `mapstructure:"n_estimators"`
	MaxDepth       int     `mapstructure:"max_depth"`
	LearningRate   float64 `mapstructure:"learning_rate"`
	MinChildWeight float64 `mapstructure:"min_child_weight"`
	Lambda         float64 `mapstructure:"lambda"`
	Gamma          float64 `mapstructure:"gamma"`
	Subsample      float64 `mapstructure:"subsample"`
	ScalePosWeight float64 `mapstructure:"scale_pos_weight"`
}

func defaultGBTExactParams() GBTExactParams {
	return GBTExactParams{
		NEstimators:    100,
		MaxDepth:       4,
		LearningRate:   0.1,
		MinChildWeight: 1,
		Lambda:         1,
		Subsample:      1,
		ScalePosWeight: 1,
	}
}

// GBTExact is a gradient-boosted tree ensemble grown level by level, scanning
// every distinct feature value for the best split.
type GBTExact struct {
	params  GBTExactParams
	seed    uint64
	Booster *Ensemble
}

// NewGBTExact validates params and returns an untrained model.
func NewGBTExact(params map[string]any, seed uint64) (*GBTExact, error) {
	p := defaultGBTExactParams()
	if err := decodeParams(model.FamilyGBTExact, params, &p); err != nil {
		return nil, err
	}
	errs := paramErrors{family: model.FamilyGBTExact}
	errs.check(p.NEstimators > 0, "n_estimators must be positive")
	errs.check(p.MaxDepth > 0 && p.MaxDepth <= 16, "max_depth must be in [1, 16]")
	errs.check(p.LearningRate > 0 && p.LearningRate <= 1, "learning_rate must be in (0, 1]")
	errs.check(p.MinChildWeight >= 0, "min_child_weight must be non-negative")
	errs.check(p.Lambda >= 0, "lambda must be non-negative")
	errs.check(p.Gamma >= 0, "gamma must be non-negative")
	errs.check(p.Subsample > 0 && p.Subsample <= 1, "subsample must be in (0, 1]")
	errs.check(p.ScalePosWeight > 0, "scale_pos_weight must be positive")
	if err := errs.err(); err != nil {
		return nil, err
	}
	return &GBTExact{params: p, seed: seed}, nil
}

// NewGBTExactFromEnsemble wraps a previously trained ensemble.
func NewGBTExactFromEnsemble(e *Ensemble) *GBTExact {
	return &GBTExact{params: defaultGBTExactParams(), Booster: e}
}

func (m *GBTExact) Family() model.Family   { return model.FamilyGBTExact }
func (m *GBTExact) Params() map[string]any { return encodeParams(m.params) }

func (m *GBTExact) NumFeatures() int {
	if m.Booster == nil {
		return 0
	}
	return m.Booster.NumFeatures
}

func (m *GBTExact) Fit(ctx context.Context, ds *features.Dataset) error {
	if err := checkDataset(ds); err != nil {
		return err
	}
	nFeat := len(ds.X[0])
	// Row order per feature is computed once and reused by every tree.
	sorted := make([][]int, nFeat)
	for f := range sorted {
		idx := make([]int, ds.Len())
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return ds.X[idx[a]][f] < ds.X[idx[b]][f] })
		sorted[f] = idx
	}

	grow := func(g, h []float64, rows []int) Tree {
		return m.grow(ds.X, sorted, g, h, rows)
	}
	ens, err := boost(ctx, ds, boostConfig{
		rounds:    m.params.NEstimators,
		subsample: m.params.Subsample,
		posWeight: m.params.ScalePosWeight,
		seed:      m.seed,
	}, grow)
	if err != nil {
		return err
	}
	m.Booster = ens
	return nil
}

func (m *GBTExact) PredictProba(x [][]float64) ([]float64, error) {
	if m.Booster == nil {
		return nil, checkInput(x, 0)
	}
	return m.Booster.predictProba(x)
}

type exactSplit struct {
	gain      float64
	feature   int
	threshold float64
}

// exactNode accumulates per-node statistics during one level's scan.
type exactNode struct {
	g, h   float64
	gl, hl float64
	last   float64
	seen   bool
	best   exactSplit
}

func (m *GBTExact) grow(x [][]float64, sorted [][]int, g, h []float64, rows []int) Tree {
	p := m.params
	t := Tree{Nodes: []Node{{}}}

	// pos[i] is the frontier node row i currently sits in, -1 when inactive.
	pos := make([]int, len(x))
	for i := range pos {
		pos[i] = -1
	}
	for _, i := range rows {
		pos[i] = 0
	}
	frontier := []int{0}

	for depth := 0; len(frontier) > 0; depth++ {
		slot := make(map[int]int, len(frontier))
		stats := make([]exactNode, len(frontier))
		for s, id := range frontier {
			slot[id] = s
			stats[s].best.gain = p.Gamma
			stats[s].best.feature = -1
		}
		for _, i := range rows {
			if s, ok := slot[pos[i]]; ok {
				stats[s].g += g[i]
				stats[s].h += h[i]
			}
		}

		if depth < p.MaxDepth {
			for f := range sorted {
				for s := range stats {
					stats[s].gl, stats[s].hl, stats[s].seen = 0, 0, false
				}
				for _, i := range sorted[f] {
					s, ok := slot[pos[i]]
					if !ok {
						continue
					}
					st := &stats[s]
					v := x[i][f]
					if st.seen && v > st.last {
						hr := st.h - st.hl
						if st.hl >= p.MinChildWeight && hr >= p.MinChildWeight {
							gain := splitGain(st.gl, st.hl, st.g-st.gl, hr, p.Lambda)
							if gain > st.best.gain {
								st.best = exactSplit{gain: gain, feature: f, threshold: (st.last + v) / 2}
							}
						}
					}
					st.gl += g[i]
					st.hl += h[i]
					st.last = v
					st.seen = true
				}
			}
		}

		var next []int
		for s, id := range frontier {
			st := stats[s]
			if st.best.feature < 0 {
				t.Nodes[id] = Node{Leaf: true, Value: leafValue(st.g, st.h, p.Lambda, p.LearningRate)}
				continue
			}
			left := len(t.Nodes)
			t.Nodes = append(t.Nodes, Node{}, Node{})
			t.Nodes[id] = Node{Feature: st.best.feature, Threshold: st.best.threshold, Left: left, Right: left + 1}
			next = append(next, left, left+1)
		}
		for _, i := range rows {
			id := pos[i]
			if id < 0 || t.Nodes[id].Leaf {
				continue
			}
			n := t.Nodes[id]
			if x[i][n.Feature] <= n.Threshold {
				pos[i] = n.Left
			} else {
				pos[i] = n.Right
			}
		}
		frontier = next
	}
	return t
}
