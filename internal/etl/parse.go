package etl

import (
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fraud-pipeline/internal/model"
)

// columnIndex maps the lower-cased CSV header to the raw columns. Every raw
// column must be present; extra columns are ignored.
type columnIndex struct {
	time, amount, class int
	v                   [model.NumAnonymized]int
}

func mapColumns(header []string) (columnIndex, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(strings.Trim(h, `"`)))] = i
	}

	var idx columnIndex
	var missing []string
	lookup := func(name string) int {
		i, ok := pos[name]
		if !ok {
			missing = append(missing, name)
			return -1
		}
		return i
	}

	idx.time = lookup(model.ColumnTime)
	for i := range idx.v {
		idx.v[i] = lookup(model.AnonymizedColumn(i + 1))
	}
	idx.amount = lookup(model.ColumnAmount)
	idx.class = lookup(model.ColumnClass)

	if len(missing) > 0 {
		return idx, model.NewError(model.KindSchema, "etl: map columns",
			eris.Errorf("source is missing columns %s", strings.Join(missing, ", "))).
			WithHint("the source must be the credit card transactions CSV with Time, V1..V28, Amount and Class")
	}
	return idx, nil
}

// parseRecord converts one CSV row. Empty time, amount and class become nulls,
// which the feature view filters; anonymized features are required.
func (idx columnIndex) parseRecord(row []string) (model.RawRecord, error) {
	var rec model.RawRecord
	var err error

	if rec.Time, err = optionalFloat(row, idx.time); err != nil {
		return rec, eris.Wrap(err, model.ColumnTime)
	}
	if rec.Amount, err = optionalFloat(row, idx.amount); err != nil {
		return rec, eris.Wrap(err, model.ColumnAmount)
	}
	if rec.Class, err = optionalClass(row, idx.class); err != nil {
		return rec, eris.Wrap(err, model.ColumnClass)
	}
	for i, col := range idx.v {
		s := field(row, col)
		if s == "" {
			return rec, eris.Errorf("%s: empty value", model.AnonymizedColumn(i+1))
		}
		if rec.V[i], err = strconv.ParseFloat(s, 64); err != nil {
			return rec, eris.Wrap(err, model.AnonymizedColumn(i+1))
		}
		if math.IsNaN(rec.V[i]) || math.IsInf(rec.V[i], 0) {
			return rec, eris.Errorf("%s: non-finite value %q", model.AnonymizedColumn(i+1), s)
		}
	}
	return rec, nil
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(strings.Trim(row[i], `"`))
}

func optionalFloat(row []string, i int) (*float64, error) {
	s := field(row, i)
	if s == "" || strings.EqualFold(s, "nan") {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	if math.IsInf(f, 0) {
		return nil, eris.Errorf("non-finite value %q", s)
	}
	return &f, nil
}

func optionalClass(row []string, i int) (*int, error) {
	f, err := optionalFloat(row, i)
	if err != nil || f == nil {
		return nil, err
	}
	switch *f {
	case 0, 1:
		c := int(*f)
		return &c, nil
	default:
		return nil, eris.Errorf("label must be 0 or 1, got %v", *f)
	}
}
