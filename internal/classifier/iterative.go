package classifier

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fraud-pipeline/internal/features"
)

// minImprovement is the validation loss decrease that resets patience.
const minImprovement = 1e-6

// TrainIterative drives m through its schedule: a seeded validation hold-out,
// shuffled mini-batches per epoch, and early stopping once validation loss
// has not improved for Patience epochs. The best weights seen are restored.
func TrainIterative(ctx context.Context, m Iterative, ds *features.Dataset) error {
	if err := checkDataset(ds); err != nil {
		return err
	}
	s := m.Schedule()
	if s.Epochs <= 0 || s.BatchSize <= 0 {
		return eris.Errorf("classifier: invalid schedule %+v", s)
	}
	log := zap.L().With(zap.String("component", "classifier"), zap.String("family", string(m.Family())))
	rng := rand.New(rand.NewPCG(s.Seed, s.Seed+1))

	idx := rng.Perm(ds.Len())
	nVal := int(float64(ds.Len()) * s.ValidationFraction)
	if nVal >= ds.Len() {
		nVal = 0
	}
	valIdx, trainIdx := idx[:nVal], idx[nVal:]
	gather := func(ids []int) ([][]float64, []int) {
		x := make([][]float64, len(ids))
		y := make([]int, len(ids))
		for i, id := range ids {
			x[i], y[i] = ds.X[id], ds.Y[id]
		}
		return x, y
	}
	valX, valY := gather(valIdx)
	if nVal == 0 {
		// No hold-out: stop on training loss instead.
		valX, valY = gather(trainIdx)
	}

	m.Init(len(ds.X[0]))
	best := math.Inf(1)
	var bestWeights []float64
	stale := 0

	for epoch := 1; epoch <= s.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return eris.Wrapf(err, "classifier: epoch %d", epoch)
		}
		rng.Shuffle(len(trainIdx), func(i, j int) { trainIdx[i], trainIdx[j] = trainIdx[j], trainIdx[i] })
		for start := 0; start < len(trainIdx); start += s.BatchSize {
			end := min(start+s.BatchSize, len(trainIdx))
			bx, by := gather(trainIdx[start:end])
			m.TrainBatch(bx, by)
		}

		loss := m.Loss(valX, valY)
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return eris.Errorf("classifier: validation loss diverged at epoch %d", epoch)
		}
		log.Debug("classifier: epoch complete", zap.Int("epoch", epoch), zap.Float64("val_loss", loss))

		if loss < best-minImprovement {
			best = loss
			bestWeights = m.Snapshot()
			stale = 0
			continue
		}
		stale++
		if s.Patience > 0 && stale >= s.Patience {
			log.Info("classifier: early stopping",
				zap.Int("epoch", epoch),
				zap.Float64("best_val_loss", best),
			)
			break
		}
	}

	if bestWeights != nil {
		m.Restore(bestWeights)
	}
	return nil
}
