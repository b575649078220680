package celltowers

import (
	"context"

	"github.com/canopy-network/celltowers/pkg/db/clickhouse"
	"github.com/canopy-network/celltowers/pkg/db/models/celltowers"
)

// Store exposes the database operations used by the pipeline activities and the HTTP server.
type Store interface {
	Close() error
	DatabaseName() string
	Ping(ctx context.Context) error

	// --- Pipeline steps

	InitSourceTable(ctx context.Context) error
	InsertRaw(ctx context.Context, rows []*celltowers.CellTower) error
	InitStagingTable(ctx context.Context) error
	Deduplicate(ctx context.Context, key PartitionKey) (uint64, error)
	OptimizeStaging(ctx context.Context) error
	PublishMart(ctx context.Context, rule MartRule) error

	// --- Reads

	CountRaw(ctx context.Context) (uint64, error)
	CountStaging(ctx context.Context) (uint64, error)
	MartAreas(ctx context.Context) ([]int32, error)
	TableHealth(ctx context.Context, table string) (*clickhouse.TableHealthStatus, error)

	// --- Checkpoints

	GetRun(ctx context.Context, period string) (*celltowers.Run, error)
	SaveRun(ctx context.Context, run *celltowers.Run) error
}

var _ Store = (*DB)(nil)
