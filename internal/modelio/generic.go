package modelio

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sells-group/fraud-pipeline/internal/classifier"
	"github.com/sells-group/fraud-pipeline/internal/model"
)

const genericFile = "model.pb"

// genericModel is the family-independent encoding. It is stored as a
// protobuf Struct so readers need no schema beyond the family field.
type genericModel struct {
	Family   model.Family         `json:"family"`
	Linear   *linearState         `json:"linear,omitempty"`
	Ensemble *classifier.Ensemble `json:"ensemble,omitempty"`
	Network  *genericNetwork      `json:"network,omitempty"`
}

type genericNetwork struct {
	Sizes   []int     `json:"sizes"`
	Weights []float64 `json:"weights"`
}

func saveGeneric(dir string, clf classifier.Classifier) (string, error) {
	g := genericModel{Family: clf.Family()}
	switch c := clf.(type) {
	case *classifier.Linear:
		g.Linear = &linearState{Weights: c.Weights, Bias: c.Bias}
	case *classifier.GBTExact:
		g.Ensemble = c.Booster
	case *classifier.GBTHist:
		g.Ensemble = c.Booster
	case *classifier.MLP:
		g.Network = &genericNetwork{Sizes: c.Sizes, Weights: c.Weights}
	default:
		return "", eris.Errorf("modelio: no generic encoding for %T", clf)
	}

	js, err := json.Marshal(g)
	if err != nil {
		return "", eris.Wrap(err, "modelio: marshal generic model")
	}
	s := &structpb.Struct{}
	if err := s.UnmarshalJSON(js); err != nil {
		return "", eris.Wrap(err, "modelio: build generic struct")
	}
	b, err := proto.Marshal(s)
	if err != nil {
		return "", eris.Wrap(err, "modelio: encode generic model")
	}
	if err := os.WriteFile(filepath.Join(dir, genericFile), b, 0o644); err != nil {
		return "", eris.Wrap(err, "modelio: write generic model")
	}
	return genericFile, nil
}

func loadGeneric(dir, file string) (classifier.Classifier, error) {
	b, err := os.ReadFile(filepath.Join(dir, file))
	if err != nil {
		return nil, eris.Wrap(err, "modelio: read generic model")
	}
	s := &structpb.Struct{}
	if err := proto.Unmarshal(b, s); err != nil {
		return nil, eris.Wrap(err, "modelio: decode generic model")
	}
	js, err := s.MarshalJSON()
	if err != nil {
		return nil, eris.Wrap(err, "modelio: convert generic model")
	}
	var g genericModel
	if err := json.Unmarshal(js, &g); err != nil {
		return nil, eris.Wrap(err, "modelio: decode generic model")
	}

	switch {
	case g.Linear != nil:
		if len(g.Linear.Weights) == 0 {
			return nil, eris.New("modelio: generic linear model has no weights")
		}
		return classifier.NewLinearFromWeights(g.Linear.Weights, g.Linear.Bias), nil
	case g.Ensemble != nil:
		if err := g.Ensemble.Validate(); err != nil {
			return nil, err
		}
		if g.Family == model.FamilyGBTHist {
			return classifier.NewGBTHistFromEnsemble(g.Ensemble), nil
		}
		return classifier.NewGBTExactFromEnsemble(g.Ensemble), nil
	case g.Network != nil:
		return classifier.NewMLPFromWeights(g.Network.Sizes, g.Network.Weights)
	default:
		return nil, eris.Errorf("modelio: generic model for family %q has no payload", g.Family)
	}
}
