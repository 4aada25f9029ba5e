package serving

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fraud-pipeline/internal/config"
	"github.com/sells-group/fraud-pipeline/internal/model"
	"github.com/sells-group/fraud-pipeline/internal/modelio"
	"github.com/sells-group/fraud-pipeline/internal/resilience"
	"github.com/sells-group/fraud-pipeline/internal/tracking"
)

// RunSource is the read side of the tracking surface.
type RunSource interface {
	GetExperimentByName(ctx context.Context, name string) (*model.Experiment, error)
	SearchRuns(ctx context.Context, experiment, orderByMetric string, limit int) ([]model.Run, error)
}

// Resolver finds the best run of an experiment and loads its model, falling
// back to the local bundle when tracking has nothing loadable.
type Resolver struct {
	runs          RunSource
	localDir      string
	lookupTimeout time.Duration
	best          *cache.Cache
	breaker       *resilience.CircuitBreaker
	onLoad        func(Source)
}

// NewResolver creates a resolver from the serving config.
func NewResolver(runs RunSource, cfg config.ServingConfig) *Resolver {
	ttl := cfg.BestRunTTL()
	if ttl <= 0 {
		ttl = time.Minute
	}
	timeout := cfg.LookupTimeout()
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	bc := resilience.DefaultCircuitBreakerConfig()
	// A missing experiment is an answer, not an outage.
	bc.ShouldTrip = func(err error) bool {
		return !errors.Is(err, tracking.ErrExperimentNotFound)
	}
	bc.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("serving: tracking lookup breaker changed state",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return &Resolver{
		runs:          runs,
		localDir:      cfg.LocalModelDir,
		lookupTimeout: timeout,
		best:          cache.New(ttl, 2*ttl),
		breaker:       resilience.NewCircuitBreaker(bc),
	}
}

// OnLoad registers a callback invoked with the source of each loaded bundle.
func (r *Resolver) OnLoad(fn func(Source)) { r.onLoad = fn }

// ResolveAndLoad returns the model to serve for experiment:
//
//	lookup experiment -> best run -> model type tag -> native/generic load
//
// and, when any step yields nothing, the local fallback bundle. It fails
// with model.ErrNoModel only when the fallback is unusable too.
func (r *Resolver) ResolveAndLoad(ctx context.Context, experiment string) (*Bundle, error) {
	log := zap.L().With(zap.String("component", "resolver"), zap.String("experiment", experiment))

	run := r.bestRun(ctx, experiment)
	if run != nil {
		if b := r.loadRun(run, log); b != nil {
			r.loaded(b.Source)
			return b, nil
		}
		log.Warn("serving: best run not loadable, using local fallback", zap.String("run_id", run.ID))
	}

	l, err := modelio.LoadLocal(r.localDir)
	if err != nil {
		log.Error("serving: no model available", zap.String("local_dir", r.localDir), zap.Error(err))
		return nil, model.NewError(model.KindResolution, "serving: resolve", eris.Wrap(model.ErrNoModel, err.Error()))
	}
	log.Info("serving: loaded local fallback model", zap.String("dir", r.localDir))
	r.loaded(SourceLocal)
	return newBundle(l, SourceLocal, nil), nil
}

func (r *Resolver) loaded(src Source) {
	if r.onLoad != nil {
		r.onLoad(src)
	}
}

// Invalidate drops the cached best run so the next resolve queries tracking.
func (r *Resolver) Invalidate(experiment string) {
	r.best.Delete(experiment)
}

// bestRun returns the highest-f1 finished run, or nil when tracking has none
// or cannot answer within the lookup timeout.
func (r *Resolver) bestRun(ctx context.Context, experiment string) *model.Run {
	if v, ok := r.best.Get(experiment); ok {
		return v.(*model.Run)
	}
	log := zap.L().With(zap.String("component", "resolver"), zap.String("experiment", experiment))

	run, err := resilience.ExecuteVal(ctx, r.breaker, func(ctx context.Context) (*model.Run, error) {
		ctx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
		defer cancel()

		if _, err := r.runs.GetExperimentByName(ctx, experiment); err != nil {
			return nil, err
		}
		runs, err := r.runs.SearchRuns(ctx, experiment, model.MetricF1, 1)
		if err != nil {
			return nil, err
		}
		if len(runs) == 0 {
			return nil, nil
		}
		return &runs[0], nil
	})
	switch {
	case errors.Is(err, tracking.ErrExperimentNotFound):
		log.Info("serving: experiment not found")
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("serving: tracking lookup timed out", zap.Duration("timeout", r.lookupTimeout))
		return nil
	case err != nil:
		log.Warn("serving: tracking lookup failed", zap.Error(err))
		return nil
	case run == nil:
		log.Info("serving: experiment has no finished runs")
		return nil
	}
	r.best.Set(experiment, run, cache.DefaultExpiration)
	return run
}

// loadRun dispatches on the run's model type. Native loads that fail are
// retried once through the generic loader.
func (r *Resolver) loadRun(run *model.Run, log *zap.Logger) *Bundle {
	log = log.With(zap.String("run_id", run.ID))
	if !run.HasArtifact() {
		log.Warn("serving: best run has no model artifact")
		return nil
	}
	dir, err := tracking.LocalPath(run.ArtifactURI)
	if err != nil {
		log.Warn("serving: artifact uri not loadable", zap.Error(err))
		return nil
	}

	t := run.ModelType()
	if t != model.ModelTypeUnknown {
		l, err := modelio.LoadNative(dir, t)
		if err == nil {
			log.Info("serving: loaded model", zap.String("model_type", t.String()), zap.String("flavor", l.Flavor))
			return newBundle(l, SourceTracking, run)
		}
		log.Warn("serving: native load failed, trying generic", zap.String("model_type", t.String()), zap.Error(err))
	}

	l, err := modelio.LoadGeneric(dir)
	if err != nil {
		log.Warn("serving: generic load failed", zap.Error(err))
		return nil
	}
	log.Info("serving: loaded model via generic loader", zap.String("model_type", t.String()))
	return newBundle(l, SourceTrackingGeneric, run)
}
