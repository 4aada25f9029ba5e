// Package modelio persists trained classifiers as self-describing artifact
// directories and loads them back for serving.
//
// An artifact directory holds an MLmodel.yaml manifest (family, model type,
// input columns and the fitted scaler), the family's native files, and a
// family-independent generic encoding. Any model can therefore be loaded
// twice over: natively by type, or generically from the manifest alone.
package modelio

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/fraud-pipeline/internal/features"
	"github.com/sells-group/fraud-pipeline/internal/model"
)

// ManifestFile is the manifest's name inside an artifact directory.
const ManifestFile = "MLmodel.yaml"

const formatVersion = 1

// Flavors name the on-disk encodings.
const (
	FlavorLinearJSON = "linear_json"
	FlavorTreeJSON   = "tree_json"
	FlavorTreeYAML   = "tree_yaml"
	FlavorNetworkNPY = "network_npy"
	FlavorGeneric    = "generic_pb"
)

// NativeFlavor returns the native encoding used for family.
func NativeFlavor(f model.Family) string {
	switch f {
	case model.FamilyLinear:
		return FlavorLinearJSON
	case model.FamilyGBTExact:
		return FlavorTreeJSON
	case model.FamilyGBTHist:
		return FlavorTreeYAML
	case model.FamilyMLP:
		return FlavorNetworkNPY
	default:
		return FlavorGeneric
	}
}

// Manifest describes an artifact directory.
type Manifest struct {
	FormatVersion int              `yaml:"format_version"`
	Family        model.Family     `yaml:"family"`
	ModelType     string           `yaml:"model_type"`
	NumFeatures   int              `yaml:"num_features"`
	Columns       []string         `yaml:"columns"`
	Scaler        *features.Scaler `yaml:"scaler"`
	// Native and Generic are file names relative to the directory. Either
	// may be empty; the local fallback bundle only carries Generic.
	NativeFlavor string    `yaml:"native_flavor,omitempty"`
	Native       string    `yaml:"native,omitempty"`
	Generic      string    `yaml:"generic,omitempty"`
	CreatedAt    time.Time `yaml:"created_at"`
}

// Validate checks the column contract and the scaler.
func (m *Manifest) Validate() error {
	if m.FormatVersion != formatVersion {
		return eris.Errorf("modelio: unsupported manifest version %d", m.FormatVersion)
	}
	if len(m.Columns) == 0 {
		return eris.New("modelio: manifest has no input columns")
	}
	if m.NumFeatures != len(m.Columns) {
		return eris.Errorf("modelio: manifest lists %d columns for a %d-input model", len(m.Columns), m.NumFeatures)
	}
	seen := make(map[string]bool, len(m.Columns))
	for _, c := range m.Columns {
		if seen[c] {
			return eris.Errorf("modelio: duplicate input column %q", c)
		}
		seen[c] = true
	}
	if err := m.Scaler.Validate(); err != nil {
		return eris.Wrap(err, "modelio: manifest")
	}
	return nil
}

func writeManifest(dir string, m *Manifest) error {
	b, err := yaml.Marshal(m)
	if err != nil {
		return eris.Wrap(err, "modelio: marshal manifest")
	}
	return eris.Wrap(os.WriteFile(filepath.Join(dir, ManifestFile), b, 0o644), "modelio: write manifest")
}

// ReadManifest reads and validates the manifest in dir.
func ReadManifest(dir string) (*Manifest, error) {
	b, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, eris.Wrap(err, "modelio: read manifest")
	}
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, eris.Wrap(err, "modelio: decode manifest")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
