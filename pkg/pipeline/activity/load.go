package activity

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/canopy-network/celltowers/pkg/dataset"
	"github.com/canopy-network/celltowers/pkg/db/models/celltowers"
	"github.com/canopy-network/celltowers/pkg/metrics"
	"github.com/canopy-network/celltowers/pkg/pipeline/types"
)

// LoadRaw streams the decompressed CSV into the raw table in batches. Malformed rows are
// skipped within the error budget.
func (c *Context) LoadRaw(ctx context.Context, in types.LoadInput) (out *types.LoadOutput, err error) {
	start := time.Now()
	defer func() { observe(types.StepLoad, start, err) }()

	path := in.CSVPath
	if path == "" {
		path = dataset.CSVPath(c.Settings.StagingDir)
	}

	c.Logger.Info("Loading dataset into raw table",
		zap.String("period", in.Period),
		zap.String("path", path),
		zap.Int("batchSize", c.Settings.BatchSize))

	heartbeat := activity.IsActivity(ctx)
	sink := func(ctx context.Context, rows []*celltowers.CellTower) error {
		if err := c.Store.InsertRaw(ctx, rows); err != nil {
			return err
		}
		if heartbeat {
			activity.RecordHeartbeat(ctx, len(rows))
		}
		return nil
	}

	stats, err := dataset.LoadFile(ctx, path, dataset.LoadOptions{
		BatchSize: c.Settings.BatchSize,
		Budget:    c.Settings.Budget,
		Logger:    c.Logger,
	}, sink)

	metrics.RowsLoaded.Add(float64(stats.Loaded))
	metrics.RowsRejected.Add(float64(stats.Rejected))

	if err != nil {
		c.Logger.Error("Load failed",
			zap.String("period", in.Period),
			zap.Uint64("rowsRead", stats.Rows),
			zap.Uint64("rowsLoaded", stats.Loaded),
			zap.Uint64("rowsRejected", stats.Rejected),
			zap.Error(err))
		return nil, failure(err)
	}

	c.Logger.Info("Raw table loaded",
		zap.String("period", in.Period),
		zap.Uint64("rowsRead", stats.Rows),
		zap.Uint64("rowsLoaded", stats.Loaded),
		zap.Uint64("rowsRejected", stats.Rejected),
		zap.Int("batches", stats.Batches),
		zap.Duration("elapsed", time.Since(start)))

	return &types.LoadOutput{
		RowsRead:     stats.Rows,
		RowsLoaded:   stats.Loaded,
		RowsRejected: stats.Rejected,
	}, nil
}
