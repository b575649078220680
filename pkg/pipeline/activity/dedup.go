package activity

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/canopy-network/celltowers/pkg/metrics"
	"github.com/canopy-network/celltowers/pkg/pipeline/types"
)

// Deduplicate copies the latest row of every tower from raw into staging.
func (c *Context) Deduplicate(ctx context.Context) (out *types.DedupOutput, err error) {
	start := time.Now()
	defer func() { observe(types.StepDeduplicate, start, err) }()

	staged, err := c.Store.Deduplicate(ctx, c.Settings.PartitionKey)
	if err != nil {
		return nil, failure(err)
	}
	metrics.RowsStaged.Add(float64(staged))

	if c.Settings.OptimizeStaging {
		if err := c.Store.OptimizeStaging(ctx); err != nil {
			return nil, failure(err)
		}
	}

	c.Logger.Info("Staging table refreshed",
		zap.Uint64("rowsStaged", staged),
		zap.Duration("elapsed", time.Since(start)))
	return &types.DedupOutput{RowsStaged: staged}, nil
}

// PublishMart (re)defines the mart view.
func (c *Context) PublishMart(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { observe(types.StepPublish, start, err) }()

	return failure(c.Store.PublishMart(ctx, c.Settings.MartRule))
}
