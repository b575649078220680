package celltowers

import (
	"context"
	"fmt"

	"github.com/canopy-network/celltowers/pkg/db/models/celltowers"
)

// InsertRaw appends one batch of rows to the raw table.
func (db *DB) InsertRaw(ctx context.Context, rows []*celltowers.CellTower) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := db.PrepareBatch(ctx, insertRawSQL(db.Name))
	if err != nil {
		return fmt.Errorf("prepare raw batch: %w", err)
	}
	defer func() { _ = batch.Close() }()

	for _, row := range rows {
		if err := batch.Append(row.Values()...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append raw row cell=%d: %w", row.Cell, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send raw batch of %d rows: %w", len(rows), err)
	}
	return nil
}

// CountRaw returns the number of rows in the raw table.
func (db *DB) CountRaw(ctx context.Context) (uint64, error) {
	var count uint64
	query := fmt.Sprintf("SELECT count() FROM %s", qualified(db.Name, celltowers.SourceTableName))
	if err := db.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", celltowers.SourceTableName, err)
	}
	return count, nil
}
