package activity

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/canopy-network/celltowers/pkg/dataset"
	"github.com/canopy-network/celltowers/pkg/db/models/celltowers"
	"github.com/canopy-network/celltowers/pkg/metrics"
	"github.com/canopy-network/celltowers/pkg/pipeline/types"
	"github.com/canopy-network/celltowers/pkg/redis"
)

// LoadCheckpoint returns where the period's previous run stopped. A period that never ran
// starts at INIT. A FETCHED checkpoint whose CSV is gone is downgraded to INIT so the dataset
// is fetched again.
func (c *Context) LoadCheckpoint(ctx context.Context, in types.PeriodInput) (*types.Checkpoint, error) {
	run, err := c.Store.GetRun(ctx, in.Period)
	if err != nil {
		return nil, failure(err)
	}
	if run == nil {
		return &types.Checkpoint{Period: in.Period, State: types.StateInit}, nil
	}

	state, err := types.ParseState(run.State)
	if err != nil {
		return nil, failure(err)
	}

	cp := &types.Checkpoint{
		Period:       run.Period,
		State:        state,
		FencingToken: run.FencingToken,
		RowsLoaded:   run.RowsLoaded,
		RowsRejected: run.RowsRejected,
		RowsStaged:   run.RowsStaged,
		Error:        run.Error,
	}

	if state == types.StateFetched {
		path := dataset.CSVPath(c.Settings.StagingDir)
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			c.Logger.Warn("Fetched dataset is gone, fetching again",
				zap.String("period", in.Period),
				zap.String("path", path))
			cp.State = types.StateInit
		}
	}

	c.Logger.Info("Checkpoint loaded",
		zap.String("period", cp.Period),
		zap.String("state", cp.State.String()),
		zap.String("lastError", cp.Error))
	return cp, nil
}

// SaveCheckpoint persists in. A checkpoint written by a newer run (higher fencing token)
// is never overwritten.
func (c *Context) SaveCheckpoint(ctx context.Context, in types.Checkpoint) error {
	current, err := c.Store.GetRun(ctx, in.Period)
	if err != nil {
		return failure(err)
	}
	if current != nil && current.FencingToken > in.FencingToken {
		err := fmt.Errorf("%w: checkpoint of %s owned by token %d, ours is %d",
			redis.ErrLocked, in.Period, current.FencingToken, in.FencingToken)
		return failure(err)
	}

	run := &celltowers.Run{
		Period:       in.Period,
		State:        in.State.String(),
		FencingToken: in.FencingToken,
		RowsLoaded:   in.RowsLoaded,
		RowsRejected: in.RowsRejected,
		RowsStaged:   in.RowsStaged,
		Error:        in.Error,
	}
	if err := c.Store.SaveRun(ctx, run); err != nil {
		return failure(err)
	}
	if in.Error != "" {
		metrics.RunOutcomes.WithLabelValues(metrics.ResultError).Inc()
	}

	c.Logger.Info("Checkpoint saved",
		zap.String("period", in.Period),
		zap.String("state", in.State.String()),
		zap.Uint64("token", in.FencingToken),
		zap.Bool("failed", in.Error != ""))
	return nil
}
