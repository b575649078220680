package activity

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/canopy-network/celltowers/pkg/metrics"
	"github.com/canopy-network/celltowers/pkg/pipeline/types"
)

// NotifyPublished announces a published period on Redis. Without Redis it only logs.
func (c *Context) NotifyPublished(ctx context.Context, in types.Checkpoint) error {
	event := types.PublishedEvent{
		Period:       in.Period,
		RowsLoaded:   in.RowsLoaded,
		RowsRejected: in.RowsRejected,
		Staged:       in.RowsStaged,
		PublishedAt:  time.Now().UTC(),
	}
	metrics.RunOutcomes.WithLabelValues(metrics.ResultOK).Inc()

	if c.Publisher == nil {
		c.Logger.Debug("Redis disabled, publication event not sent", zap.String("period", in.Period))
		return nil
	}

	c.Publisher.Publish(ctx, PublishedChannel, event)
	id := c.Publisher.XAdd(ctx, EventsStream, event)
	c.Logger.Info("Publication event sent",
		zap.String("period", in.Period),
		zap.String("channel", PublishedChannel),
		zap.String("streamId", id))
	return nil
}
