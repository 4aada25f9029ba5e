package training

import (
	"bytes"
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/fraud-pipeline/internal/model"
)

//go:embed default_models.yaml
var defaultModels []byte

type modelsFile struct {
	Models []model.ModelConfig `yaml:"models"`
}

// DefaultModelConfigs returns the built-in configuration for every family.
func DefaultModelConfigs() ([]model.ModelConfig, error) {
	return parseModelConfigs(defaultModels)
}

// LoadModelConfigs reads model configurations from path, or the built-in
// defaults when path is empty.
func LoadModelConfigs(path string) ([]model.ModelConfig, error) {
	if path == "" {
		return DefaultModelConfigs()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "training: read models file")
	}
	return parseModelConfigs(b)
}

func parseModelConfigs(b []byte) ([]model.ModelConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var f modelsFile
	if err := dec.Decode(&f); err != nil {
		return nil, eris.Wrap(err, "training: decode models file")
	}
	if err := model.ValidateConfigs(f.Models); err != nil {
		return nil, err
	}
	return f.Models, nil
}
