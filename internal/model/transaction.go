package model

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// Transaction is an inference request: time, amount and the named anonymized features.
// Fields are addressed by name so the wire order of keys is irrelevant.
type Transaction struct {
	Time   float64
	Amount float64
	V      [NumAnonymized]float64
}

// Value returns a named raw input column (time, amount, v1..v28).
func (t Transaction) Value(column string) (float64, bool) {
	return inputValue(t.Time, t.Amount, &t.V, column)
}

// UnmarshalJSON decodes the request body. Keys are matched case-insensitively
// and a key repeated under different casing is rejected. time, amount and all
// of v1..v28 are required.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var raw map[string]*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "transaction: decode")
	}
	fields := make(map[string]*float64, len(raw))
	for k, v := range raw {
		key := strings.ToLower(k)
		if _, dup := fields[key]; dup {
			return eris.Errorf("transaction: field %q given more than once", key)
		}
		fields[key] = v
	}

	get := func(name string) (float64, error) {
		v, ok := fields[name]
		if !ok || v == nil {
			return 0, eris.Errorf("transaction: field %q is required", name)
		}
		return *v, nil
	}

	var err error
	if t.Time, err = get(ColumnTime); err != nil {
		return err
	}
	if t.Amount, err = get(ColumnAmount); err != nil {
		return err
	}
	for i := range t.V {
		if t.V[i], err = get(AnonymizedColumn(i + 1)); err != nil {
			return err
		}
	}
	return nil
}

// MarshalJSON encodes the transaction with lower-case field names.
func (t Transaction) MarshalJSON() ([]byte, error) {
	m := make(map[string]float64, NumAnonymized+2)
	m[ColumnTime] = t.Time
	m[ColumnAmount] = t.Amount
	for i, v := range t.V {
		m[AnonymizedColumn(i+1)] = v
	}
	return json.Marshal(m)
}

// Prediction is the inference result for one transaction.
type Prediction struct {
	IsFraud          int     `json:"is_fraud"`
	FraudProbability float64 `json:"fraud_probability"`
}
