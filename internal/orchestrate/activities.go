package orchestrate

import (
	"context"

	"go.temporal.io/sdk/temporal"

	"github.com/sells-group/fraud-pipeline/internal/etl"
	"github.com/sells-group/fraud-pipeline/internal/model"
)

// Activities exposes Stages to Temporal. Schema and training failures are
// returned as non-retryable: rerunning them cannot change the outcome.
type Activities struct {
	stages Stages
}

// NewActivities wraps st for worker registration.
func NewActivities(st Stages) *Activities {
	return &Activities{stages: st}
}

func (a *Activities) CheckStore(ctx context.Context) error {
	return activityError(a.stages.CheckStore(ctx))
}

func (a *Activities) LoadRaw(ctx context.Context, source string) (*etl.LoadResult, error) {
	res, err := a.stages.LoadRaw(ctx, source)
	return res, activityError(err)
}

func (a *Activities) RebuildView(ctx context.Context) error {
	return activityError(a.stages.RebuildView(ctx))
}

func (a *Activities) Train(ctx context.Context, pipelineID string) (*TrainSummary, error) {
	res, err := a.stages.Train(ctx, pipelineID)
	return res, activityError(err)
}

func (a *Activities) Validate(ctx context.Context) (*etl.ValidationReport, error) {
	res, err := a.stages.Validate(ctx)
	return res, activityError(err)
}

func (a *Activities) Cleanup(ctx context.Context) (int, error) {
	n, err := a.stages.Cleanup(ctx)
	return n, activityError(err)
}

func activityError(err error) error {
	if err == nil {
		return nil
	}
	switch kind := model.KindOf(err); kind {
	case model.KindSchema, model.KindTraining:
		return temporal.NewNonRetryableApplicationError(err.Error(), string(kind), err)
	default:
		return err
	}
}
