package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Family identifies one of the supported classifier families.
type Family string

const (
	FamilyLinear   Family = "linear"    // logistic regression
	FamilyGBTExact Family = "gbt_exact" // gradient-boosted trees, exact depth-wise splits
	FamilyGBTHist  Family = "gbt_hist"  // gradient-boosted trees, histogram leaf-wise growth
	FamilyMLP      Family = "mlp"       // feed-forward neural network
)

// Families lists every supported family in declaration order.
var Families = []Family{FamilyLinear, FamilyGBTExact, FamilyGBTHist, FamilyMLP}

// ParseFamily validates a family identifier.
func ParseFamily(s string) (Family, error) {
	f := Family(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Families {
		if f == known {
			return f, nil
		}
	}
	return "", eris.Errorf("unknown model family %q", s)
}

// ModelType returns the model type a family's artifacts are tagged with.
func (f Family) ModelType() ModelType {
	switch f {
	case FamilyLinear:
		return ModelTypeLinear
	case FamilyGBTExact:
		return ModelTypeTreeEnsembleA
	case FamilyGBTHist:
		return ModelTypeTreeEnsembleB
	case FamilyMLP:
		return ModelTypeNeuralNet
	default:
		return ModelTypeUnknown
	}
}

// ModelType is the closed set of load strategies the serving layer understands.
type ModelType int

const (
	ModelTypeUnknown ModelType = iota
	ModelTypeLinear
	ModelTypeTreeEnsembleA
	ModelTypeTreeEnsembleB
	ModelTypeNeuralNet
)

func (t ModelType) String() string {
	switch t {
	case ModelTypeLinear:
		return "linear"
	case ModelTypeTreeEnsembleA:
		return "gbt_exact"
	case ModelTypeTreeEnsembleB:
		return "gbt_hist"
	case ModelTypeNeuralNet:
		return "neural_net"
	default:
		return "unknown"
	}
}

// modelTypeAliases maps free-form model_type tag values to the closed enumeration.
// Tags written by older pipelines used the producing library's name.
var modelTypeAliases = map[string]ModelType{
	"linear":              ModelTypeLinear,
	"logistic_regression": ModelTypeLinear,
	"sklearn":             ModelTypeLinear,
	"gbt_exact":           ModelTypeTreeEnsembleA,
	"xgboost":             ModelTypeTreeEnsembleA,
	"gbt_hist":            ModelTypeTreeEnsembleB,
	"lightgbm":            ModelTypeTreeEnsembleB,
	"neural_net":          ModelTypeNeuralNet,
	"mlp":                 ModelTypeNeuralNet,
	"tensorflow":          ModelTypeNeuralNet,
	"keras":               ModelTypeNeuralNet,
}

// ParseModelType maps a free-form tag to a ModelType. Unrecognized values map to
// ModelTypeUnknown rather than failing.
func ParseModelType(tag string) ModelType {
	key := strings.ToLower(strings.TrimSpace(tag))
	key = strings.ReplaceAll(key, "-", "_")
	if t, ok := modelTypeAliases[key]; ok {
		return t
	}
	return ModelTypeUnknown
}

// ModelConfig declares one model to train.
type ModelConfig struct {
	Name   string            `yaml:"name" json:"name"`
	Family Family            `yaml:"family" json:"family"`
	Params map[string]any    `yaml:"params" json:"params,omitempty"`
	Tags   map[string]string `yaml:"tags" json:"tags,omitempty"`
}

// ModelTypeTag returns the mandatory model_type tag value.
func (c ModelConfig) ModelTypeTag() string {
	return c.Tags[TagModelType]
}

// Validate checks the config-level invariants. Family-specific params are
// validated by the classifier constructor.
func (c ModelConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return eris.New("model config: name is required")
	}
	if _, err := ParseFamily(string(c.Family)); err != nil {
		return eris.Wrapf(err, "model config %s", c.Name)
	}
	if strings.TrimSpace(c.ModelTypeTag()) == "" {
		return eris.Errorf("model config %s: tag %q is required", c.Name, TagModelType)
	}
	return nil
}

// ValidateConfigs validates each config and checks that names are unique.
func ValidateConfigs(cfgs []ModelConfig) error {
	if len(cfgs) == 0 {
		return eris.New("model config: at least one model is required")
	}
	seen := make(map[string]bool, len(cfgs))
	for _, c := range cfgs {
		if err := c.Validate(); err != nil {
			return err
		}
		if seen[c.Name] {
			return eris.Errorf("model config: duplicate name %q", c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}
