package serving

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Refresher periodically re-resolves the experiment's best model and swaps
// it into the predictor.
type Refresher struct {
	resolver   *Resolver
	predictor  *Predictor
	experiment string
	interval   time.Duration
}

// NewRefresher creates a refresher. An interval of zero disables the loop.
func NewRefresher(r *Resolver, p *Predictor, experiment string, interval time.Duration) *Refresher {
	return &Refresher{resolver: r, predictor: p, experiment: experiment, interval: interval}
}

// Refresh resolves once. On failure the current bundle stays in place.
func (r *Refresher) Refresh(ctx context.Context) error {
	b, err := r.resolver.ResolveAndLoad(ctx, r.experiment)
	if err != nil {
		if r.predictor.Bundle() != nil {
			zap.L().Warn("serving: refresh failed, keeping current model", zap.Error(err))
		}
		return err
	}
	old := r.predictor.Swap(b)
	if old == nil || old.RunID != b.RunID || old.Source != b.Source {
		zap.L().Info("serving: model swapped",
			zap.String("source", string(b.Source)),
			zap.String("run_id", b.RunID),
			zap.String("model_type", b.ModelType.String()),
		)
	}
	return nil
}

// Run refreshes every interval until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	if r.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// The TTL cache would otherwise hide a newer best run.
			r.resolver.Invalidate(r.experiment)
			r.Refresh(ctx) //nolint:errcheck
		}
	}
}
