package redis

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/redis/go-redis/v9"
)

const (
	fenceKey      = "celltowers:fence"
	lockKeyPrefix = "celltowers:lock:"
	// TablesLockKey guards the raw and staging tables, which every period shares.
	TablesLockKey = lockKeyPrefix + "tables"
)

// ErrLocked is returned when another run already holds the lock for a period or the tables.
var ErrLocked = errors.New("run lock held")

// Locker serializes runs. Acquire takes the period lock and the tables lock together under
// one fencing token, so at most one run of any period touches the tables. Tokens increase
// with every attempted acquisition; Release only frees locks still holding token.
type Locker interface {
	Acquire(ctx context.Context, period string, ttl time.Duration) (uint64, error)
	Release(ctx context.Context, period string, token uint64) error
}

// acquireScript sets every key to the token, or none of them when one is already held.
// It returns the index (1-based) of the first held key, 0 on success.
var acquireScript = redis.NewScript(`
for i, key in ipairs(KEYS) do
	if redis.call("EXISTS", key) == 1 then
		return i
	end
end
for _, key in ipairs(KEYS) do
	redis.call("SET", key, ARGV[1], "PX", ARGV[2])
end
return 0
`)

// releaseScript deletes each key only if it still holds the caller's token.
var releaseScript = redis.NewScript(`
local n = 0
for _, key in ipairs(KEYS) do
	if redis.call("GET", key) == ARGV[1] then
		n = n + redis.call("DEL", key)
	end
end
return n
`)

// RunLock is a Locker backed by Redis.
type RunLock struct {
	client *redis.Client
}

// NewRunLock returns a Redis backed Locker using c's connection.
func NewRunLock(c *Client) *RunLock {
	return &RunLock{client: c.client}
}

// LockKey returns the Redis key guarding period.
func LockKey(period string) string {
	return lockKeyPrefix + period
}

// Acquire takes the period and tables locks for ttl in one step.
func (l *RunLock) Acquire(ctx context.Context, period string, ttl time.Duration) (uint64, error) {
	token, err := l.client.Incr(ctx, fenceKey).Uint64()
	if err != nil {
		return 0, fmt.Errorf("increment fence: %w", err)
	}

	keys := []string{LockKey(period), TablesLockKey}
	held, err := acquireScript.Run(ctx, l.client, keys, token, ttl.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("set lock %s: %w", period, err)
	}
	if held > 0 {
		key := keys[held-1]
		holder, _ := l.client.Get(ctx, key).Result()
		return 0, fmt.Errorf("%w: %s held by token %s", ErrLocked, key, holder)
	}
	return token, nil
}

// Release frees the period and tables locks that still carry token. A lock that expired or
// was taken over is left alone.
func (l *RunLock) Release(ctx context.Context, period string, token uint64) error {
	keys := []string{LockKey(period), TablesLockKey}
	if err := releaseScript.Run(ctx, l.client, keys, token).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", period, err)
	}
	return nil
}

// LocalLock is an in-process Locker for deployments without Redis.
type LocalLock struct {
	fence atomic.Uint64
	held  *xsync.Map[string, localEntry]
	now   func() time.Time
}

type localEntry struct {
	token   uint64
	period  string
	expires time.Time
}

// NewLocalLock returns an empty in-process Locker.
func NewLocalLock() *LocalLock {
	return &LocalLock{
		held: xsync.NewMap[string, localEntry](),
		now:  time.Now,
	}
}

// Acquire takes the tables lock, then the period lock, for ttl. Holding the tables lock
// first means no other acquirer can race for the period key.
func (l *LocalLock) Acquire(_ context.Context, period string, ttl time.Duration) (uint64, error) {
	token := l.fence.Add(1)
	entry := localEntry{token: token, period: period, expires: l.now().Add(ttl)}

	if holder, ok := l.take(TablesLockKey, entry); !ok {
		return 0, fmt.Errorf("%w: tables held by period %s (token %d)", ErrLocked, holder.period, holder.token)
	}
	if holder, ok := l.take(LockKey(period), entry); !ok {
		l.drop(TablesLockKey, token)
		return 0, fmt.Errorf("%w: period %s held by token %d", ErrLocked, period, holder.token)
	}
	return token, nil
}

// take stores entry under key unless a live entry is there; the live entry is returned then.
func (l *LocalLock) take(key string, entry localEntry) (localEntry, bool) {
	now := l.now()
	var holder localEntry
	taken := true
	_, _ = l.held.Compute(key, func(old localEntry, loaded bool) (localEntry, xsync.ComputeOp) {
		if loaded && now.Before(old.expires) {
			holder, taken = old, false
			return old, xsync.CancelOp
		}
		return entry, xsync.UpdateOp
	})
	return holder, taken
}

// drop deletes key when it still carries token.
func (l *LocalLock) drop(key string, token uint64) {
	l.held.Compute(key, func(old localEntry, loaded bool) (localEntry, xsync.ComputeOp) {
		if loaded && old.token == token {
			return old, xsync.DeleteOp
		}
		return old, xsync.CancelOp
	})
}

// Release frees the period and tables locks that still carry token.
func (l *LocalLock) Release(_ context.Context, period string, token uint64) error {
	l.drop(LockKey(period), token)
	l.drop(TablesLockKey, token)
	return nil
}
