package celltowers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/canopy-network/celltowers/pkg/db/clickhouse"
	"github.com/canopy-network/celltowers/pkg/db/models/celltowers"
)

// InitSourceTable clears the raw table if it exists and creates it if it does not.
// Running it twice in a row leaves an empty raw table both times.
func (db *DB) InitSourceTable(ctx context.Context) error {
	db.Logger.Info("Initializing source table",
		zap.String("database", db.Name),
		zap.String("table", celltowers.SourceTableName))

	if err := db.Exec(ctx, truncateSourceSQL(db.Name, db.OnCluster())); err != nil {
		return fmt.Errorf("truncate %s: %w", celltowers.SourceTableName, err)
	}
	if err := db.Exec(ctx, sourceTableSQL(db.Name, db.OnCluster())); err != nil {
		return fmt.Errorf("create %s: %w", celltowers.SourceTableName, err)
	}
	return nil
}

// InitStagingTable creates the staging table if missing. Existing rows are kept.
func (db *DB) InitStagingTable(ctx context.Context) error {
	db.Logger.Info("Initializing staging table",
		zap.String("database", db.Name),
		zap.String("table", celltowers.StagingTableName))

	if err := db.Exec(ctx, stagingTableSQL(db.Name, db.OnCluster())); err != nil {
		return fmt.Errorf("create %s: %w", celltowers.StagingTableName, err)
	}
	return nil
}

func (db *DB) initRuns(ctx context.Context) error {
	return db.Exec(ctx, runsTableSQL(db.Name, db.OnCluster()))
}

// TableHealth reports part and size metrics for one of the pipeline tables.
func (db *DB) TableHealth(ctx context.Context, table string) (*clickhouse.TableHealthStatus, error) {
	return db.CheckTableHealth(ctx, db.Name, table)
}
