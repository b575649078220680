package activity

import (
	"context"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/canopy-network/celltowers/pkg/dataset"
	celltowersdb "github.com/canopy-network/celltowers/pkg/db/celltowers"
	"github.com/canopy-network/celltowers/pkg/redis"
)

const (
	// PublishedChannel receives a JSON PublishedEvent every time a period is published.
	PublishedChannel = "celltowers:published"
	// EventsStream keeps the recent publication events for readers that were not subscribed.
	EventsStream = "celltowers:events"
)

// Fetcher retrieves the dataset into a local directory.
type Fetcher interface {
	Fetch(ctx context.Context, url, dir string) (*dataset.FetchResult, error)
}

// Publisher announces finished runs. Both calls are best effort.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any)
	XAdd(ctx context.Context, stream string, payload any) string
}

// Settings are the tunables of the pipeline steps.
type Settings struct {
	DatasetURL   string
	StagingDir   string
	BatchSize    int
	Budget       dataset.ErrorBudget
	PartitionKey celltowersdb.PartitionKey
	MartRule     celltowersdb.MartRule
	LockTTL      time.Duration
	// OptimizeStaging runs OPTIMIZE ... FINAL on staging after every deduplication.
	OptimizeStaging bool
}

// Context holds the dependencies shared by every pipeline activity.
type Context struct {
	Logger *zap.Logger
	Store  celltowersdb.Store
	Locker redis.Locker
	// Fetcher downloads the dataset. Defaults to dataset.NewFetcher.
	Fetcher Fetcher
	// Publisher is nil when Redis is disabled.
	Publisher Publisher
	Settings  Settings

	statsPoolOnce sync.Once
	statsPool     pond.Pool
}

func (c *Context) fetcher() Fetcher {
	if c.Fetcher == nil {
		c.Fetcher = dataset.NewFetcher(c.Logger)
	}
	return c.Fetcher
}

// workerPool returns the pool used to collect table statistics concurrently.
func (c *Context) workerPool() pond.Pool {
	c.statsPoolOnce.Do(func() {
		c.statsPool = pond.NewPool(4, pond.WithQueueSize(16))
	})
	return c.statsPool
}

// Close stops the worker pool.
func (c *Context) Close() {
	if c.statsPool != nil {
		c.statsPool.StopAndWait()
	}
}
