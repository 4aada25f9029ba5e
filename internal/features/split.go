package features

import (
	"math"
	"math/rand/v2"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fraud-pipeline/internal/model"
)

// Dataset is a feature matrix with binary labels. Columns names X's columns.
type Dataset struct {
	Columns []string
	X       [][]float64
	Y       []int
}

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.Y) }

// Positives returns the number of fraud rows.
func (d *Dataset) Positives() int {
	n := 0
	for _, y := range d.Y {
		n += y
	}
	return n
}

// Split is a scaled train/test partition and the scaler fit on the train side.
type Split struct {
	Train  *Dataset
	Test   *Dataset
	Scaler *Scaler
}

// Columns returns the model input columns shared by both partitions.
func (s *Split) Columns() []string { return s.Train.Columns }

// StratifiedSplit partitions rows so each class keeps the same test ratio.
// The shuffle is seeded, so equal inputs always give equal partitions; row
// order within each partition follows the input.
func StratifiedSplit(rows []model.FeatureRecord, testRatio float64, seed uint64) (train, test []model.FeatureRecord, err error) {
	if testRatio <= 0 || testRatio >= 1 {
		return nil, nil, eris.Errorf("split: test ratio must be in (0,1), got %v", testRatio)
	}

	byClass := map[int][]int{}
	for i, r := range rows {
		byClass[r.Class] = append(byClass[r.Class], i)
	}
	for _, class := range []int{0, 1} {
		if len(byClass[class]) < 2 {
			return nil, nil, eris.Errorf("split: class %d has %d rows, need at least 2", class, len(byClass[class]))
		}
	}
	if len(byClass) != 2 {
		return nil, nil, eris.New("split: labels must be 0 or 1")
	}

	rng := rand.New(rand.NewPCG(seed, seed))
	var trainIdx, testIdx []int
	for _, class := range []int{0, 1} {
		idx := byClass[class]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		nTest := int(math.Ceil(float64(len(idx)) * testRatio))
		nTest = min(max(nTest, 1), len(idx)-1)
		testIdx = append(testIdx, idx[:nTest]...)
		trainIdx = append(trainIdx, idx[nTest:]...)
	}
	slices.Sort(trainIdx)
	slices.Sort(testIdx)

	pick := func(idx []int) []model.FeatureRecord {
		out := make([]model.FeatureRecord, len(idx))
		for i, j := range idx {
			out[i] = rows[j]
		}
		return out
	}
	return pick(trainIdx), pick(testIdx), nil
}

// Prepare splits rows, fits the scaler on the training partition and builds
// both datasets in training column order.
func Prepare(rows []model.FeatureRecord, testRatio float64, seed uint64) (*Split, error) {
	train, test, err := StratifiedSplit(rows, testRatio, seed)
	if err != nil {
		return nil, err
	}
	scaler, err := FitScaler(train)
	if err != nil {
		return nil, err
	}
	columns := model.TrainingColumns()

	trainDS, err := Build(train, scaler, columns)
	if err != nil {
		return nil, err
	}
	testDS, err := Build(test, scaler, columns)
	if err != nil {
		return nil, err
	}
	return &Split{Train: trainDS, Test: testDS, Scaler: scaler}, nil
}

// Build transforms rows into a Dataset with the given columns.
func Build(rows []model.FeatureRecord, s *Scaler, columns []string) (*Dataset, error) {
	ds := &Dataset{
		Columns: slices.Clone(columns),
		X:       make([][]float64, len(rows)),
		Y:       make([]int, len(rows)),
	}
	for i := range rows {
		x, err := Vector(rows[i], s, columns)
		if err != nil {
			return nil, err
		}
		ds.X[i] = x
		ds.Y[i] = rows[i].Class
	}
	return ds, nil
}
