package orchestrate

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/fraud-pipeline/internal/config"
)

// Dial connects to the Temporal frontend.
func Dial(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    newLogger(zap.L()),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "orchestrate: dial temporal %s", cfg.HostPort)
	}
	return c, nil
}

// NewWorker creates a worker on taskQueue running the pipeline workflow
// against st.
func NewWorker(c client.Client, taskQueue string, st Stages) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{
		// One pipeline at a time per worker.
		MaxConcurrentActivityExecutionSize: 1,
	})
	w.RegisterWorkflowWithOptions(PipelineWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	w.RegisterActivity(NewActivities(st))
	return w
}

// Start begins an on-demand execution under the fixed workflow id. It fails
// when another execution is still open.
func Start(ctx context.Context, c client.Client, taskQueue string, in Input) (client.WorkflowRun, error) {
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       WorkflowID,
		TaskQueue:                taskQueue,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_FAIL,
		WorkflowIDReusePolicy:    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}, WorkflowName, in)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrate: start pipeline")
	}
	zap.L().Info("orchestrate: pipeline started",
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
	)
	return run, nil
}

// scheduleOptions builds the recurring schedule. Overlapping actions are
// skipped so a slow run is never joined by the next one.
func scheduleOptions(cfg config.TemporalConfig, in Input) client.ScheduleOptions {
	every := time.Duration(cfg.ScheduleEveryHours) * time.Hour
	if every <= 0 {
		every = 24 * time.Hour
	}
	return client.ScheduleOptions{
		ID: cfg.ScheduleID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: every}},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        WorkflowID,
			Workflow:  WorkflowName,
			Args:      []interface{}{in},
			TaskQueue: cfg.TaskQueue,
		},
		Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
	}
}

// EnsureSchedule creates the recurring pipeline schedule. It reports false
// when the schedule already exists.
func EnsureSchedule(ctx context.Context, c client.Client, cfg config.TemporalConfig, in Input) (bool, error) {
	opts := scheduleOptions(cfg, in)
	_, err := c.ScheduleClient().Create(ctx, opts)
	switch {
	case errors.Is(err, temporal.ErrScheduleAlreadyRunning):
		zap.L().Info("orchestrate: schedule already exists", zap.String("schedule_id", cfg.ScheduleID))
		return false, nil
	case err != nil:
		return false, eris.Wrapf(err, "orchestrate: create schedule %s", cfg.ScheduleID)
	}
	zap.L().Info("orchestrate: schedule created",
		zap.String("schedule_id", cfg.ScheduleID),
		zap.Duration("every", opts.Spec.Intervals[0].Every),
	)
	return true, nil
}

// DeleteSchedule removes the recurring pipeline schedule.
func DeleteSchedule(ctx context.Context, c client.Client, scheduleID string) error {
	if err := c.ScheduleClient().GetHandle(ctx, scheduleID).Delete(ctx); err != nil {
		return eris.Wrapf(err, "orchestrate: delete schedule %s", scheduleID)
	}
	return nil
}

// zapLogger adapts zap to the Temporal SDK logger.
type zapLogger struct {
	s *zap.SugaredLogger
}

func newLogger(l *zap.Logger) tlog.Logger {
	return zapLogger{s: l.With(zap.String("component", "temporal")).Sugar()}
}

func (z zapLogger) Debug(msg string, keyvals ...interface{}) { z.s.Debugw(msg, keyvals...) }
func (z zapLogger) Info(msg string, keyvals ...interface{})  { z.s.Infow(msg, keyvals...) }
func (z zapLogger) Warn(msg string, keyvals ...interface{})  { z.s.Warnw(msg, keyvals...) }
func (z zapLogger) Error(msg string, keyvals ...interface{}) { z.s.Errorw(msg, keyvals...) }

func (z zapLogger) With(keyvals ...interface{}) tlog.Logger {
	return zapLogger{s: z.s.With(keyvals...)}
}
