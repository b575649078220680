package celltowers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/canopy-network/celltowers/pkg/db/models/celltowers"
)

// Deduplicate inserts the latest raw row of every partition into staging and returns the
// number of rows inserted. Staging rows from earlier runs are never removed; rows with the
// same (cell, area, radio) collapse when the ReplacingMergeTree merges them.
func (db *DB) Deduplicate(ctx context.Context, key PartitionKey) (uint64, error) {
	if len(key) == 0 {
		key = DefaultPartitionKey
	}

	var expected uint64
	if err := db.QueryRow(ctx, dedupCountSQL(db.Name, key)).Scan(&expected); err != nil {
		return 0, fmt.Errorf("count dedup partitions: %w", err)
	}

	db.Logger.Info("Deduplicating raw rows into staging",
		zap.String("database", db.Name),
		zap.Strings("partition_by", key),
		zap.Uint64("partitions", expected))

	if err := db.Exec(ctx, dedupSQL(db.Name, key)); err != nil {
		return 0, fmt.Errorf("insert into %s: %w", celltowers.StagingTableName, err)
	}
	return expected, nil
}

// OptimizeStaging merges every staging part with FINAL, collapsing the rows that
// ReplacingMergeTree would otherwise only drop on a later background merge.
func (db *DB) OptimizeStaging(ctx context.Context) error {
	return db.OptimizeTable(ctx, db.Name, celltowers.StagingTableName, true)
}

// CountStaging returns the number of distinct staging rows, reading with FINAL.
func (db *DB) CountStaging(ctx context.Context) (uint64, error) {
	var count uint64
	query := fmt.Sprintf("SELECT count() FROM %s FINAL", qualified(db.Name, celltowers.StagingTableName))
	if err := db.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", celltowers.StagingTableName, err)
	}
	return count, nil
}
