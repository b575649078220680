package activity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/canopy-network/celltowers/pkg/db/models/celltowers"
	"github.com/canopy-network/celltowers/pkg/metrics"
	"github.com/canopy-network/celltowers/pkg/pipeline/types"
)

// CollectTableStats gathers row counts and part health for the raw and staging tables, plus
// the number of mart areas, concurrently. Errors are logged and reported, never fatal to the
// caller's run state.
func (c *Context) CollectTableStats(ctx context.Context) ([]types.TableStats, error) {
	group := c.workerPool().NewGroupContext(ctx)
	groupCtx := group.Context()

	var (
		mu    sync.Mutex
		stats = make([]types.TableStats, 0, 2)
		errs  []error
	)
	record := func(s types.TableStats, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			errs = append(errs, err)
			return
		}
		stats = append(stats, s)
	}

	tables := []struct {
		name  string
		count func(context.Context) (uint64, error)
	}{
		{name: celltowers.SourceTableName, count: c.Store.CountRaw},
		{name: celltowers.StagingTableName, count: c.Store.CountStaging},
	}
	for _, t := range tables {
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				return
			}
			record(c.tableStats(groupCtx, t.name, t.count))
		})
	}

	var areas int
	group.Submit(func() {
		if err := groupCtx.Err(); err != nil {
			return
		}
		list, err := c.Store.MartAreas(groupCtx)
		if err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("mart areas: %w", err))
			mu.Unlock()
			return
		}
		areas = len(list)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		c.Logger.Warn("table stats collection encountered error", zap.Error(err))
	}

	for _, s := range stats {
		metrics.TableRows.WithLabelValues(s.Table).Set(float64(s.Rows))
		metrics.TableCompressedBytes.WithLabelValues(s.Table).Set(float64(s.CompressedBytes))
		metrics.TableActiveParts.WithLabelValues(s.Table).Set(float64(s.ActiveParts))
		c.Logger.Info("Table stats",
			zap.String("table", s.Table),
			zap.Uint64("rows", s.Rows),
			zap.Uint64("compressedBytes", s.CompressedBytes),
			zap.Uint64("activeParts", s.ActiveParts),
			zap.Float64("compression", s.Compression))
	}
	metrics.MartAreas.Set(float64(areas))
	c.Logger.Info("Mart stats", zap.Int("areas", areas))

	if err := errors.Join(errs...); err != nil {
		return stats, failure(err)
	}
	return stats, nil
}

func (c *Context) tableStats(ctx context.Context, table string, count func(context.Context) (uint64, error)) (types.TableStats, error) {
	rows, err := count(ctx)
	if err != nil {
		return types.TableStats{}, err
	}
	health, err := c.Store.TableHealth(ctx, table)
	if err != nil {
		return types.TableStats{}, err
	}
	return types.TableStats{
		Table:           table,
		Rows:            rows,
		CompressedBytes: health.CompressedBytes,
		ActiveParts:     health.ActiveParts,
		Compression:     health.CompressionRatio(),
	}, nil
}
