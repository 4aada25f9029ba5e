package modelio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/fraud-pipeline/internal/classifier"
	"github.com/sells-group/fraud-pipeline/internal/model"
)

const (
	linearFile  = "linear.json"
	treeJSON    = "trees.json"
	treeYAML    = "trees.yaml"
	networkFile = "network.json"
)

type linearState struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// networkState is the architecture file; weights live in per-layer .npy files.
type networkState struct {
	Sizes  []int          `json:"sizes"`
	Layers []networkLayer `json:"layers"`
}

type networkLayer struct {
	Weight string `json:"weight"`
	Bias   string `json:"bias"`
}

// saveNative writes clf's native files into dir and returns the entry file name.
func saveNative(dir string, clf classifier.Classifier) (string, error) {
	switch c := clf.(type) {
	case *classifier.Linear:
		return linearFile, writeJSON(filepath.Join(dir, linearFile), linearState{Weights: c.Weights, Bias: c.Bias})
	case *classifier.GBTExact:
		return treeJSON, writeJSON(filepath.Join(dir, treeJSON), c.Booster)
	case *classifier.GBTHist:
		b, err := yaml.Marshal(c.Booster)
		if err != nil {
			return "", eris.Wrap(err, "modelio: marshal trees")
		}
		return treeYAML, eris.Wrap(os.WriteFile(filepath.Join(dir, treeYAML), b, 0o644), "modelio: write trees")
	case *classifier.MLP:
		return networkFile, saveNetwork(dir, c)
	default:
		return "", eris.Errorf("modelio: no native format for %T", clf)
	}
}

func saveNetwork(dir string, m *classifier.MLP) error {
	state := networkState{Sizes: m.Sizes}
	off := 0
	for l := 0; l+1 < len(m.Sizes); l++ {
		in, out := m.Sizes[l], m.Sizes[l+1]
		layer := networkLayer{
			Weight: fmt.Sprintf("layer_%d_weight.npy", l),
			Bias:   fmt.Sprintf("layer_%d_bias.npy", l),
		}
		w := mat.NewDense(out, in, m.Weights[off:off+in*out])
		if err := writeNPY(filepath.Join(dir, layer.Weight), w); err != nil {
			return err
		}
		if err := writeNPY(filepath.Join(dir, layer.Bias), m.Weights[off+in*out:off+in*out+out]); err != nil {
			return err
		}
		state.Layers = append(state.Layers, layer)
		off += in*out + out
	}
	return writeJSON(filepath.Join(dir, networkFile), state)
}

// loadNative rebuilds the classifier stored natively for type t.
func loadNative(dir string, t model.ModelType, man *Manifest) (classifier.Classifier, error) {
	switch t {
	case model.ModelTypeLinear:
		var s linearState
		if err := readJSON(filepath.Join(dir, linearFile), &s); err != nil {
			return nil, err
		}
		if len(s.Weights) == 0 {
			return nil, eris.New("modelio: linear model has no weights")
		}
		return classifier.NewLinearFromWeights(s.Weights, s.Bias), nil
	case model.ModelTypeTreeEnsembleA:
		var e classifier.Ensemble
		if err := readJSON(filepath.Join(dir, treeJSON), &e); err != nil {
			return nil, err
		}
		if err := e.Validate(); err != nil {
			return nil, err
		}
		return classifier.NewGBTExactFromEnsemble(&e), nil
	case model.ModelTypeTreeEnsembleB:
		b, err := os.ReadFile(filepath.Join(dir, treeYAML))
		if err != nil {
			return nil, eris.Wrap(err, "modelio: read trees")
		}
		var e classifier.Ensemble
		if err := yaml.Unmarshal(b, &e); err != nil {
			return nil, eris.Wrap(err, "modelio: decode trees")
		}
		if err := e.Validate(); err != nil {
			return nil, err
		}
		return classifier.NewGBTHistFromEnsemble(&e), nil
	case model.ModelTypeNeuralNet:
		return loadNetwork(dir)
	default:
		return nil, eris.Errorf("modelio: no native loader for model type %s (family %s)", t, man.Family)
	}
}

func loadNetwork(dir string) (*classifier.MLP, error) {
	var state networkState
	if err := readJSON(filepath.Join(dir, networkFile), &state); err != nil {
		return nil, err
	}
	if len(state.Layers) != len(state.Sizes)-1 {
		return nil, eris.Errorf("modelio: network has %d layer files for sizes %v", len(state.Layers), state.Sizes)
	}
	var weights []float64
	for l, layer := range state.Layers {
		in, out := state.Sizes[l], state.Sizes[l+1]
		w, err := readNPY(filepath.Join(dir, layer.Weight), []int{out, in})
		if err != nil {
			return nil, err
		}
		b, err := readNPY(filepath.Join(dir, layer.Bias), []int{out})
		if err != nil {
			return nil, err
		}
		weights = append(weights, w...)
		weights = append(weights, b...)
	}
	return classifier.NewMLPFromWeights(state.Sizes, weights)
}

func writeNPY(path string, val any) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "modelio: create npy")
	}
	if err := npyio.Write(f, val); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrapf(err, "modelio: write %s", filepath.Base(path))
	}
	return eris.Wrap(f.Close(), "modelio: close npy")
}

// readNPY reads a float64 array and checks its shape.
func readNPY(path string, shape []int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "modelio: open npy")
	}
	defer f.Close() //nolint:errcheck

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, eris.Wrapf(err, "modelio: read %s header", filepath.Base(path))
	}
	got := r.Header.Descr.Shape
	if len(got) != len(shape) {
		return nil, eris.Errorf("modelio: %s has shape %v, want %v", filepath.Base(path), got, shape)
	}
	for i := range got {
		if got[i] != shape[i] {
			return nil, eris.Errorf("modelio: %s has shape %v, want %v", filepath.Base(path), got, shape)
		}
	}
	var data []float64
	if err := r.Read(&data); err != nil {
		return nil, eris.Wrapf(err, "modelio: read %s", filepath.Base(path))
	}
	return data, nil
}

func writeJSON(path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "modelio: marshal %s", filepath.Base(path))
	}
	return eris.Wrapf(os.WriteFile(path, b, 0o644), "modelio: write %s", filepath.Base(path))
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "modelio: read %s", filepath.Base(path))
	}
	return eris.Wrapf(json.Unmarshal(b, v), "modelio: decode %s", filepath.Base(path))
}
