package orchestrate

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	// WorkflowName is the registered name of PipelineWorkflow.
	WorkflowName = "FraudPipeline"
	// WorkflowID is the fixed id of on-demand executions. Starting a second
	// execution while one is open fails, which keeps view rebuilds single-writer.
	WorkflowID = "fraud-pipeline"
)

var (
	// Store checks, view rebuilds, validation and cleanup are short.
	storeActivityOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    30 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	}

	// Loads download the source; training fits every configured model.
	longActivityOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Hour,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: 5 * time.Minute,
			MaximumAttempts: 2,
		},
	}
)

// PipelineWorkflow runs the pipeline stages as activities in the same order
// as Run.
func PipelineWorkflow(ctx workflow.Context, in Input) (*Result, error) {
	var a *Activities
	if in.PipelineID == "" {
		in.PipelineID = workflow.GetInfo(ctx).WorkflowExecution.RunID
	}
	start := workflow.Now(ctx)
	log := workflow.GetLogger(ctx)
	res := &Result{PipelineID: in.PipelineID}

	storeCtx := workflow.WithActivityOptions(ctx, storeActivityOptions)
	longCtx := workflow.WithActivityOptions(ctx, longActivityOptions)

	if err := workflow.ExecuteActivity(storeCtx, a.CheckStore).Get(ctx, nil); err != nil {
		return nil, err
	}
	if in.Source != "" {
		if err := workflow.ExecuteActivity(longCtx, a.LoadRaw, in.Source).Get(ctx, &res.Load); err != nil {
			return nil, err
		}
	}
	if err := workflow.ExecuteActivity(storeCtx, a.RebuildView).Get(ctx, nil); err != nil {
		return nil, err
	}
	if err := workflow.ExecuteActivity(longCtx, a.Train, in.PipelineID).Get(ctx, &res.Training); err != nil {
		return nil, err
	}
	if err := workflow.ExecuteActivity(storeCtx, a.Validate).Get(ctx, &res.Validation); err != nil {
		return nil, err
	}
	if err := workflow.ExecuteActivity(storeCtx, a.Cleanup).Get(ctx, &res.Cleaned); err != nil {
		log.Warn("cleanup incomplete", "error", err)
	}

	res.Duration = workflow.Now(ctx).Sub(start)
	log.Info("pipeline complete", "pipeline_id", in.PipelineID, "best_run_id", res.Training.BestRunID)
	return res, nil
}
