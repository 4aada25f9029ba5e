package model

import (
	"strconv"
	"strings"
)

// NumAnonymized is the number of anonymized PCA components per transaction.
const NumAnonymized = 28

// Column names shared by the raw table, the feature view and model artifacts.
const (
	ColumnTime         = "time"
	ColumnAmount       = "amount"
	ColumnClass        = "class"
	ColumnScaledAmount = "scaled_amount"
	ColumnScaledTime   = "scaled_time"
)

// AnonymizedColumn returns the name of the i-th anonymized feature (1-based).
func AnonymizedColumn(i int) string {
	return "v" + strconv.Itoa(i)
}

// AnonymizedColumns returns v1..v28 in order.
func AnonymizedColumns() []string {
	cols := make([]string, NumAnonymized)
	for i := range cols {
		cols[i] = AnonymizedColumn(i + 1)
	}
	return cols
}

// ScaledColumns lists the scaler's inputs and outputs in fit order: amount first, then time.
var ScaledColumns = [2]string{ColumnScaledAmount, ColumnScaledTime}

// TrainingColumns returns the model input columns in training order: the anonymized
// features followed by the derived scaled columns. Raw time and amount are dropped.
func TrainingColumns() []string {
	cols := AnonymizedColumns()
	return append(cols, ScaledColumns[0], ScaledColumns[1])
}

// FeatureRecord is one row of the feature view.
type FeatureRecord struct {
	Time   float64
	Amount float64
	V      [NumAnonymized]float64
	Class  int
}

// Value returns a named raw input column (time, amount, v1..v28).
func (r FeatureRecord) Value(column string) (float64, bool) {
	return inputValue(r.Time, r.Amount, &r.V, column)
}

// IsFraud reports whether the record's label is the positive class.
func (r FeatureRecord) IsFraud() bool {
	return r.Class == 1
}

// RawRecord is one row of the raw transactions table. Time, amount and class are
// nullable; the feature view filters rows where any of them is null.
type RawRecord struct {
	Time   *float64
	Amount *float64
	V      [NumAnonymized]float64
	Class  *int
}

// Values returns the record in raw table column order (see RawColumns).
func (r RawRecord) Values() []any {
	vals := make([]any, 0, NumAnonymized+3)
	vals = append(vals, r.Time)
	for _, v := range r.V {
		vals = append(vals, v)
	}
	vals = append(vals, r.Amount, r.Class)
	return vals
}

// RawColumns returns the raw table columns in storage order.
func RawColumns() []string {
	cols := make([]string, 0, NumAnonymized+3)
	cols = append(cols, ColumnTime)
	cols = append(cols, AnonymizedColumns()...)
	return append(cols, ColumnAmount, ColumnClass)
}

// inputValue resolves a raw input column name.
func inputValue(time, amount float64, v *[NumAnonymized]float64, column string) (float64, bool) {
	switch column {
	case ColumnTime:
		return time, true
	case ColumnAmount:
		return amount, true
	}
	n, ok := strings.CutPrefix(column, "v")
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(n)
	if err != nil || i < 1 || i > NumAnonymized || n != strconv.Itoa(i) {
		return 0, false
	}
	return v[i-1], true
}
