package activity

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/canopy-network/celltowers/pkg/metrics"
	"github.com/canopy-network/celltowers/pkg/pipeline/types"
)

// Fetch downloads and decompresses the dataset into the staging directory.
func (c *Context) Fetch(ctx context.Context, in types.PeriodInput) (out *types.FetchOutput, err error) {
	start := time.Now()
	defer func() { observe(types.StepFetch, start, err) }()

	c.Logger.Info("Fetching dataset",
		zap.String("period", in.Period),
		zap.String("url", c.Settings.DatasetURL),
		zap.String("dir", c.Settings.StagingDir))

	res, err := c.fetcher().Fetch(ctx, c.Settings.DatasetURL, c.Settings.StagingDir)
	if err != nil {
		return nil, failureOr(err, types.ErrTypeFetchFailed)
	}

	metrics.DatasetBytes.WithLabelValues("compressed").Set(float64(res.CompressedBytes))
	metrics.DatasetBytes.WithLabelValues("csv").Set(float64(res.CSVBytes))

	return &types.FetchOutput{
		CSVPath:         res.CSVPath,
		CompressedBytes: res.CompressedBytes,
		CSVBytes:        res.CSVBytes,
	}, nil
}

func observe(step types.Step, start time.Time, err error) {
	metrics.StepDuration.WithLabelValues(string(step), metrics.ResultLabel(err)).Observe(time.Since(start).Seconds())
}
