package model

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStatusValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status RunStatus
		want   string
	}{
		{RunStatusRunning, "running"},
		{RunStatusFinished, "finished"},
		{RunStatusFailed, "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, string(tt.status))
		})
	}
}

func TestMetricSet_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, MetricSet{AUC: 0.9, F1: 0.8, Precision: 0.7, Recall: 1}.Validate())
	assert.Error(t, MetricSet{AUC: 1.1}.Validate())
	assert.Error(t, MetricSet{F1: -0.1}.Validate())
	assert.Error(t, MetricSet{Precision: math.NaN()}.Validate())
}

func TestMetricSet_MapRoundTrip(t *testing.T) {
	t.Parallel()

	m := MetricSet{AUC: 0.91, F1: 0.82, Precision: 0.77, Recall: 0.88}
	assert.Equal(t, m, MetricSetFromMap(m.Map()))
}

func TestRun_ModelTypeAndArtifact(t *testing.T) {
	t.Parallel()

	r := Run{
		Tags:        map[string]string{TagModelType: "XGBoost"},
		ArtifactURI: "/tmp/a",
	}
	assert.Equal(t, ModelTypeTreeEnsembleA, r.ModelType())
	assert.True(t, r.HasArtifact())

	r.Tags[TagArtifactStatus] = ArtifactStatusMissing
	assert.False(t, r.HasArtifact())
}

func TestParseModelType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tag  string
		want ModelType
	}{
		{"linear", ModelTypeLinear},
		{"sklearn", ModelTypeLinear},
		{"gbt_exact", ModelTypeTreeEnsembleA},
		{"LightGBM", ModelTypeTreeEnsembleB},
		{"gbt-hist", ModelTypeTreeEnsembleB},
		{" tensorflow ", ModelTypeNeuralNet},
		{"neural_net", ModelTypeNeuralNet},
		{"random_forest", ModelTypeUnknown},
		{"", ModelTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ParseModelType(tt.tag))
		})
	}
}

func TestFamily_ModelTypeRoundTrip(t *testing.T) {
	t.Parallel()

	for _, f := range Families {
		assert.Equal(t, f.ModelType(), ParseModelType(f.ModelType().String()), "family %s", f)
	}
}

func TestValidateConfigs(t *testing.T) {
	t.Parallel()

	ok := ModelConfig{Name: "lr", Family: FamilyLinear, Tags: map[string]string{TagModelType: "linear"}}
	require.NoError(t, ValidateConfigs([]ModelConfig{ok}))

	assert.Error(t, ValidateConfigs(nil))
	assert.Error(t, ValidateConfigs([]ModelConfig{ok, ok}), "duplicate names")

	noTag := ok
	noTag.Name = "no-tag"
	noTag.Tags = nil
	err := ValidateConfigs([]ModelConfig{noTag})
	require.Error(t, err)
	assert.Contains(t, err.Error(), TagModelType)

	badFamily := ok
	badFamily.Family = "random_forest"
	assert.Error(t, ValidateConfigs([]ModelConfig{badFamily}))
}

func TestTrainingColumns(t *testing.T) {
	t.Parallel()

	cols := TrainingColumns()
	require.Len(t, cols, NumAnonymized+2)
	assert.Equal(t, "v1", cols[0])
	assert.Equal(t, "v28", cols[27])
	assert.Equal(t, ColumnScaledAmount, cols[28])
	assert.Equal(t, ColumnScaledTime, cols[29])
}

func TestTransaction_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	body := `{"amount": 120.5, "Time": 45000, "v2": 1.24, "v1": -0.96`
	for i := 3; i <= NumAnonymized; i++ {
		body += `, "` + AnonymizedColumn(i) + `": 0`
	}
	body += "}"

	var tx Transaction
	require.NoError(t, json.Unmarshal([]byte(body), &tx))
	assert.Equal(t, 45000.0, tx.Time)
	assert.Equal(t, 120.5, tx.Amount)
	assert.Equal(t, -0.96, tx.V[0])
	assert.Equal(t, 1.24, tx.V[1])

	v, ok := tx.Value("v2")
	assert.True(t, ok)
	assert.Equal(t, 1.24, v)
	_, ok = tx.Value("v29")
	assert.False(t, ok)
}

func TestTransaction_UnmarshalJSON_MissingField(t *testing.T) {
	t.Parallel()

	var tx Transaction
	err := json.Unmarshal([]byte(`{"time": 1, "amount": 2}`), &tx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"v1"`)
}

func TestTransaction_UnmarshalJSON_CaseCollision(t *testing.T) {
	t.Parallel()

	body := `{"time": 1, "amount": 2, "v1": 0.5, "V1": -0.5`
	for i := 2; i <= NumAnonymized; i++ {
		body += `, "` + AnonymizedColumn(i) + `": 0`
	}
	body += "}"

	var tx Transaction
	err := json.Unmarshal([]byte(body), &tx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"v1" given more than once`)
}

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	base := errors.New("relation does not exist")
	err := NewError(KindSchema, "warehouse: read features", base).WithHint("run view rebuild")

	assert.True(t, IsKind(err, KindSchema))
	assert.False(t, IsKind(err, KindTraining))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "hint: run view rebuild")
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
	assert.False(t, IsKind(nil, KindSchema))

	assert.ErrorIs(t, eris.Wrap(ErrNoViableModel, "selector"), ErrNoViableModel)
}
