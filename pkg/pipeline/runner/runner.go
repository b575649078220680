// Package runner executes the pipeline in-process, without Temporal. It walks the same plan
// and checkpoints as the workflow, calling the activities directly.
package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/canopy-network/celltowers/pkg/metrics"
	"github.com/canopy-network/celltowers/pkg/pipeline/activity"
	"github.com/canopy-network/celltowers/pkg/pipeline/types"
)

type Runner struct {
	Activities *activity.Context
	Logger     *zap.Logger

	now func() time.Time
}

func New(ac *activity.Context) *Runner {
	return &Runner{Activities: ac, Logger: ac.Logger, now: time.Now}
}

// Run executes one run for in.Period, or the period of the current time when empty.
func (r *Runner) Run(ctx context.Context, in types.RunInput) (*types.RunResult, error) {
	ac := r.Activities
	started := r.now()

	period := in.Period
	if period == "" {
		period = types.PeriodKey(started)
	}
	logger := r.Logger.With(zap.String("period", period))

	lock, err := ac.AcquireRunLock(ctx, types.PeriodInput{Period: period})
	if err != nil {
		return nil, err
	}
	defer func() {
		// Release even when ctx was cancelled.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_ = ac.ReleaseRunLock(releaseCtx, types.LockInput{Period: period, Token: lock.Token})
	}()

	loaded, err := ac.LoadCheckpoint(ctx, types.PeriodInput{Period: period})
	if err != nil {
		return nil, err
	}
	cp := *loaded

	result := &types.RunResult{Period: period}
	if cp.State == types.StatePublished && !in.Force {
		logger.Info("Period already published, nothing to do")
		metrics.RunOutcomes.WithLabelValues(metrics.ResultSkipped).Inc()
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

	logger.Info("Running pipeline", zap.Stringer("from", cp.State), zap.Uint64("token", lock.Token))

	var csvPath string
	for _, ps := range types.Plan(cp.State) {
		if err := r.runStep(ctx, ps.Step, &cp, &csvPath); err != nil {
			logger.Error("Pipeline step failed", zap.String("step", string(ps.Step)), zap.Error(err))
			cp.Error = fmt.Sprintf("%s: %v", ps.Step, err)
			// the failure is recorded even when ctx is done
			saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			if saveErr := ac.SaveCheckpoint(saveCtx, cp); saveErr != nil {
				logger.Warn("Failed to record step failure", zap.Error(saveErr))
			}
			cancel()
			return nil, err
		}

		if ps.Completes == "" {
			continue
		}
		cp.State = ps.Completes
		if err := ac.SaveCheckpoint(ctx, cp); err != nil {
			return nil, err
		}
	}

	tables, err := ac.CollectTableStats(ctx)
	if err != nil {
		logger.Warn("Table stats unavailable", zap.Error(err))
	}
	if err := ac.NotifyPublished(ctx, cp); err != nil {
		logger.Warn("Publication event failed", zap.Error(err))
	}

	result.State = cp.State
	result.RowsLoaded = cp.RowsLoaded
	result.RowsRejected = cp.RowsRejected
	result.RowsStaged = cp.RowsStaged
	result.Tables = tables
	result.Duration = r.now().Sub(started)

	logger.Info("Pipeline finished",
		zap.Uint64("rowsLoaded", cp.RowsLoaded),
		zap.Uint64("rowsRejected", cp.RowsRejected),
		zap.Uint64("rowsStaged", cp.RowsStaged),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (r *Runner) runStep(ctx context.Context, step types.Step, cp *types.Checkpoint, csvPath *string) error {
	ac := r.Activities

	switch step {
	case types.StepFetch:
		out, err := ac.Fetch(ctx, types.PeriodInput{Period: cp.Period})
		if err != nil {
			return err
		}
		*csvPath = out.CSVPath
	case types.StepInitSource:
		return ac.InitSourceTable(ctx)
	case types.StepLoad:
		out, err := ac.LoadRaw(ctx, types.LoadInput{Period: cp.Period, CSVPath: *csvPath})
		if err != nil {
			return err
		}
		cp.RowsLoaded = out.RowsLoaded
		cp.RowsRejected = out.RowsRejected
	case types.StepInitStaging:
		return ac.InitStagingTable(ctx)
	case types.StepDeduplicate:
		out, err := ac.Deduplicate(ctx)
		if err != nil {
			return err
		}
		cp.RowsStaged = out.RowsStaged
	case types.StepPublish:
		return ac.PublishMart(ctx)
	default:
		return fmt.Errorf("unknown pipeline step %q", step)
	}
	return nil
}
