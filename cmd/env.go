package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fraud-pipeline/internal/model"
	"github.com/sells-group/fraud-pipeline/internal/orchestrate"
	"github.com/sells-group/fraud-pipeline/internal/resilience"
	"github.com/sells-group/fraud-pipeline/internal/tracking"
	"github.com/sells-group/fraud-pipeline/internal/warehouse"
)

// connectRetry retries only connection failures; schema and config errors
// surface on the first attempt.
func connectRetry(op string) resilience.RetryConfig {
	rc := resilience.DefaultRetryConfig()
	rc.ShouldRetry = func(err error) bool {
		return model.IsKind(err, model.KindConnection) || resilience.IsTransient(err)
	}
	rc.OnRetry = resilience.RetryLogger("cmd", op)
	return rc
}

func openWarehouse(ctx context.Context) (warehouse.Warehouse, error) {
	tables := warehouse.Tables{Raw: cfg.ETL.RawTable, View: cfg.ETL.FeatureView}
	wh, err := resilience.DoVal(ctx, connectRetry("open warehouse"), func(ctx context.Context) (warehouse.Warehouse, error) {
		return warehouse.Open(ctx, cfg.Database, tables)
	})
	if err != nil {
		return nil, eris.Wrap(err, "open warehouse")
	}
	if err := resilience.Do(ctx, connectRetry("ping warehouse"), wh.Ping); err != nil {
		_ = wh.Close()
		return nil, model.NewError(model.KindConnection, "ping warehouse", err).
			WithHint("check database.* settings or FRAUD_DATABASE_URL")
	}
	zap.L().Debug("warehouse ready", zap.String("driver", cfg.Database.Driver))
	return wh, nil
}

func openTracker(ctx context.Context) (*tracking.Tracker, error) {
	tr, err := resilience.DoVal(ctx, connectRetry("open tracker"), func(ctx context.Context) (*tracking.Tracker, error) {
		return tracking.Open(ctx, cfg.Tracking)
	})
	if err != nil {
		return nil, eris.Wrap(err, "open tracker")
	}
	return tr, nil
}

// pipelineEnv holds the stores a pipeline stage command needs.
type pipelineEnv struct {
	Warehouse warehouse.Warehouse
	Tracker   *tracking.Tracker
	Steps     *orchestrate.Steps
}

// Close releases both stores.
func (e *pipelineEnv) Close() {
	if e.Tracker != nil {
		_ = e.Tracker.Close()
	}
	if e.Warehouse != nil {
		_ = e.Warehouse.Close()
	}
}

func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate("train"); err != nil {
		return nil, err
	}
	wh, err := openWarehouse(ctx)
	if err != nil {
		return nil, err
	}
	tr, err := openTracker(ctx)
	if err != nil {
		_ = wh.Close()
		return nil, err
	}
	return &pipelineEnv{
		Warehouse: wh,
		Tracker:   tr,
		Steps:     orchestrate.NewSteps(wh, tr, cfg),
	}, nil
}
