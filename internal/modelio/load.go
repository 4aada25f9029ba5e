package modelio

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fraud-pipeline/internal/classifier"
	"github.com/sells-group/fraud-pipeline/internal/features"
	"github.com/sells-group/fraud-pipeline/internal/model"
)

// Model is a loaded model producing raw output in its own layout.
type Model interface {
	NumFeatures() int
	Predict(x [][]float64) (Output, error)
}

// Loaded is a model together with the manifest it was loaded from.
type Loaded struct {
	Model    Model
	Manifest *Manifest
	Flavor   string
}

// Columns returns the persisted input column order.
func (l *Loaded) Columns() []string { return l.Manifest.Columns }

// Scaler returns the scaler fit alongside the model.
func (l *Loaded) Scaler() *features.Scaler { return l.Manifest.Scaler }

// shaped adapts a classifier to the output layout of the format it was read from.
type shaped struct {
	clf     classifier.Classifier
	shape   Shape
	columns []string
}

func (s shaped) NumFeatures() int { return s.clf.NumFeatures() }

func (s shaped) Predict(x [][]float64) (Output, error) {
	p, err := s.clf.PredictProba(x)
	if err != nil {
		return Output{}, err
	}
	rows := make([][]float64, len(p))
	for i, v := range p {
		switch {
		case s.shape == ProbaMatrix || len(s.columns) == 2:
			rows[i] = []float64{1 - v, v}
		default:
			rows[i] = []float64{v}
		}
	}
	return Output{Shape: s.shape, Columns: s.columns, Rows: rows}, nil
}

// nativeShape is the output layout of each native format.
func nativeShape(t model.ModelType) Shape {
	switch t {
	case model.ModelTypeLinear, model.ModelTypeTreeEnsembleB:
		return ProbaMatrix
	default:
		return FlatColumn
	}
}

// genericColumns are the frame columns of the generic encoding. Families
// whose native output is per-class keep both columns.
func genericColumns(f model.Family) []string {
	switch f {
	case model.FamilyLinear, model.FamilyGBTHist:
		return []string{"legit", FraudColumn}
	default:
		return []string{FraudColumn}
	}
}

// LoadNative loads dir with the native loader for model type t.
func LoadNative(dir string, t model.ModelType) (*Loaded, error) {
	man, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	if man.Native == "" {
		return nil, eris.New("modelio: artifact has no native encoding")
	}
	clf, err := loadNative(dir, t, man)
	if err != nil {
		return nil, err
	}
	if err := checkWidth(clf, man); err != nil {
		return nil, err
	}
	return &Loaded{
		Model:    shaped{clf: clf, shape: nativeShape(t)},
		Manifest: man,
		Flavor:   NativeFlavor(clf.Family()),
	}, nil
}

// LoadGeneric loads dir from its generic encoding, whatever the family.
func LoadGeneric(dir string) (*Loaded, error) {
	man, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	if man.Generic == "" {
		return nil, eris.New("modelio: artifact has no generic encoding")
	}
	clf, err := loadGeneric(dir, man.Generic)
	if err != nil {
		return nil, err
	}
	if err := checkWidth(clf, man); err != nil {
		return nil, err
	}
	return &Loaded{
		Model:    shaped{clf: clf, shape: Frame, columns: genericColumns(clf.Family())},
		Manifest: man,
		Flavor:   FlavorGeneric,
	}, nil
}

func checkWidth(clf classifier.Classifier, man *Manifest) error {
	if clf.NumFeatures() != man.NumFeatures {
		return eris.Errorf("modelio: model takes %d inputs but manifest lists %d columns", clf.NumFeatures(), man.NumFeatures)
	}
	return nil
}

// Artifact is a fitted classifier with the feature contract it was trained
// under. It satisfies the tracking store's artifact interface.
type Artifact struct {
	Classifier classifier.Classifier
	Columns    []string
	Scaler     *features.Scaler
	ModelType  string
	// GenericOnly skips the native files, as for the local fallback bundle.
	GenericOnly bool
}

// Flavor returns the artifact's primary encoding.
func (a *Artifact) Flavor() string {
	if a.GenericOnly {
		return FlavorGeneric
	}
	return NativeFlavor(a.Classifier.Family())
}

// Save writes the manifest and encodings into dir, which must exist.
func (a *Artifact) Save(dir string) error {
	if a.Classifier == nil {
		return eris.New("modelio: artifact has no model")
	}
	man := &Manifest{
		FormatVersion: formatVersion,
		Family:        a.Classifier.Family(),
		ModelType:     a.ModelType,
		NumFeatures:   a.Classifier.NumFeatures(),
		Columns:       a.Columns,
		Scaler:        a.Scaler,
		CreatedAt:     time.Now().UTC(),
	}
	if err := man.Validate(); err != nil {
		return err
	}

	var err error
	if !a.GenericOnly {
		man.NativeFlavor = NativeFlavor(man.Family)
		if man.Native, err = saveNative(dir, a.Classifier); err != nil {
			return err
		}
	}
	if man.Generic, err = saveGeneric(dir, a.Classifier); err != nil {
		return err
	}
	return writeManifest(dir, man)
}
