package activity

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/canopy-network/celltowers/pkg/pipeline/types"
)

// DefaultLockTTL bounds how long a crashed run keeps its period locked.
const DefaultLockTTL = 6 * time.Hour

// AcquireRunLock locks the period and returns the fencing token of this run.
func (c *Context) AcquireRunLock(ctx context.Context, in types.PeriodInput) (*types.LockOutput, error) {
	ttl := c.Settings.LockTTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}

	token, err := c.Locker.Acquire(ctx, in.Period, ttl)
	if err != nil {
		c.Logger.Warn("Run lock not acquired", zap.String("period", in.Period), zap.Error(err))
		return nil, failureOr(err, types.ErrTypeRunLocked)
	}

	c.Logger.Info("Run lock acquired",
		zap.String("period", in.Period),
		zap.Uint64("token", token),
		zap.Duration("ttl", ttl))
	return &types.LockOutput{Token: token}, nil
}

// ReleaseRunLock frees the period lock if this run still holds it.
func (c *Context) ReleaseRunLock(ctx context.Context, in types.LockInput) error {
	if err := c.Locker.Release(ctx, in.Period, in.Token); err != nil {
		c.Logger.Warn("Run lock release failed",
			zap.String("period", in.Period),
			zap.Uint64("token", in.Token),
			zap.Error(err))
		return failureOr(err, types.ErrTypeRunLocked)
	}
	c.Logger.Debug("Run lock released", zap.String("period", in.Period), zap.Uint64("token", in.Token))
	return nil
}
