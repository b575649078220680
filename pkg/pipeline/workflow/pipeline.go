package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/canopy-network/celltowers/pkg/pipeline/types"
)

// CellTowersWorkflow runs the monthly pipeline for one period: fetch, load raw, deduplicate
// into staging and publish the mart. Progress is checkpointed after every state so a failed
// run resumes where it stopped. A published period is a no-op unless in.Force is set.
func (wc *Context) CellTowersWorkflow(ctx workflow.Context, in types.RunInput) (*types.RunResult, error) {
	logger := workflow.GetLogger(ctx)
	started := workflow.Now(ctx)

	period := in.Period
	if period == "" {
		period = types.PeriodKey(started)
	}

	// No retries: a failing step fails the run and the next run resumes from the checkpoint.
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 3 * time.Hour,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
		TaskQueue: workflow.GetInfo(ctx).TaskQueueName,
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var lock types.LockOutput
	if err := workflow.ExecuteActivity(ctx, wc.ActivityContext.AcquireRunLock, types.PeriodInput{Period: period}).Get(ctx, &lock); err != nil {
		logger.Warn("Run lock not acquired", "period", period, "error", err)
		return nil, err
	}
	defer func() {
		// Release even when ctx was cancelled.
		releaseCtx, cancel := workflow.NewDisconnectedContext(ctx)
		defer cancel()
		release := types.LockInput{Period: period, Token: lock.Token}
		if err := workflow.ExecuteActivity(releaseCtx, wc.ActivityContext.ReleaseRunLock, release).Get(releaseCtx, nil); err != nil {
			logger.Warn("Run lock release failed", "period", period, "error", err)
		}
	}()

	var cp types.Checkpoint
	if err := workflow.ExecuteActivity(ctx, wc.ActivityContext.LoadCheckpoint, types.PeriodInput{Period: period}).Get(ctx, &cp); err != nil {
		return nil, err
	}

	result := &types.RunResult{Period: period}
	if cp.State == types.StatePublished && !in.Force {
		logger.Info("Period already published, nothing to do", "period", period)
		result.State = cp.State
		result.Skipped = true
		result.RowsLoaded = cp.RowsLoaded
		result.RowsRejected = cp.RowsRejected
		result.RowsStaged = cp.RowsStaged
		return result, nil
	}
	if in.Force {
		cp = types.Checkpoint{Period: period, State: types.StateInit}
	}
	cp.FencingToken = lock.Token
	cp.Error = ""

	logger.Info("Running pipeline", "period", period, "from", cp.State.String(), "token", lock.Token)

	var csvPath string
	for _, ps := range types.Plan(cp.State) {
		if err := wc.runStep(ctx, ps.Step, &cp, &csvPath); err != nil {
			logger.Error("Pipeline step failed", "period", period, "step", string(ps.Step), "error", err)
			cp.Error = fmt.Sprintf("%s: %v", ps.Step, err)
			if saveErr := workflow.ExecuteActivity(ctx, wc.ActivityContext.SaveCheckpoint, cp).Get(ctx, nil); saveErr != nil {
				logger.Warn("Failed to record step failure", "period", period, "error", saveErr)
			}
			return nil, err
		}

		if ps.Completes == "" {
			continue
		}
		cp.State = ps.Completes
		if err := workflow.ExecuteActivity(ctx, wc.ActivityContext.SaveCheckpoint, cp).Get(ctx, nil); err != nil {
			return nil, err
		}
	}

	var tables []types.TableStats
	if err := workflow.ExecuteActivity(ctx, wc.ActivityContext.CollectTableStats).Get(ctx, &tables); err != nil {
		logger.Warn("Table stats unavailable", "period", period, "error", err)
	}

	if err := workflow.ExecuteActivity(ctx, wc.ActivityContext.NotifyPublished, cp).Get(ctx, nil); err != nil {
		logger.Warn("Publication event failed", "period", period, "error", err)
	}

	result.State = cp.State
	result.RowsLoaded = cp.RowsLoaded
	result.RowsRejected = cp.RowsRejected
	result.RowsStaged = cp.RowsStaged
	result.Tables = tables
	result.Duration = workflow.Now(ctx).Sub(started)

	logger.Info("Pipeline finished",
		"period", period,
		"rowsLoaded", cp.RowsLoaded,
		"rowsRejected", cp.RowsRejected,
		"rowsStaged", cp.RowsStaged)
	return result, nil
}

// runStep executes one step and folds its output into cp.
func (wc *Context) runStep(ctx workflow.Context, step types.Step, cp *types.Checkpoint, csvPath *string) error {
	ac := wc.ActivityContext

	switch step {
	case types.StepFetch:
		var out types.FetchOutput
		if err := workflow.ExecuteActivity(ctx, ac.Fetch, types.PeriodInput{Period: cp.Period}).Get(ctx, &out); err != nil {
			return err
		}
		*csvPath = out.CSVPath
	case types.StepInitSource:
		return workflow.ExecuteActivity(ctx, ac.InitSourceTable).Get(ctx, nil)
	case types.StepLoad:
		var out types.LoadOutput
		in := types.LoadInput{Period: cp.Period, CSVPath: *csvPath}
		if err := workflow.ExecuteActivity(ctx, ac.LoadRaw, in).Get(ctx, &out); err != nil {
			return err
		}
		cp.RowsLoaded = out.RowsLoaded
		cp.RowsRejected = out.RowsRejected
	case types.StepInitStaging:
		return workflow.ExecuteActivity(ctx, ac.InitStagingTable).Get(ctx, nil)
	case types.StepDeduplicate:
		var out types.DedupOutput
		if err := workflow.ExecuteActivity(ctx, ac.Deduplicate).Get(ctx, &out); err != nil {
			return err
		}
		cp.RowsStaged = out.RowsStaged
	case types.StepPublish:
		return workflow.ExecuteActivity(ctx, ac.PublishMart).Get(ctx, nil)
	default:
		return fmt.Errorf("unknown pipeline step %q", step)
	}
	return nil
}
