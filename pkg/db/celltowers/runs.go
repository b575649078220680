package celltowers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/canopy-network/celltowers/pkg/db/models/celltowers"
)

// GetRun returns the latest checkpoint of a period, or nil when the period never ran.
func (db *DB) GetRun(ctx context.Context, period string) (*celltowers.Run, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s FINAL
		WHERE "period" = ?
		LIMIT 1
	`, strings.Join(celltowers.ColumnsToNameList(celltowers.RunColumns), ", "),
		qualified(db.Name, celltowers.RunsTableName))

	var runs []celltowers.Run
	if err := db.SelectWithFinal(ctx, &runs, query, period); err != nil {
		return nil, fmt.Errorf("get run %s: %w", period, err)
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// SaveRun records a checkpoint. ReplacingMergeTree(updated_at) keeps the newest row per period.
func (db *DB) SaveRun(ctx context.Context, run *celltowers.Run) error {
	run.UpdatedAt = time.Now().UTC()

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		qualified(db.Name, celltowers.RunsTableName),
		strings.Join(celltowers.ColumnsToNameList(celltowers.RunColumns), ", "))

	err := db.Exec(ctx, query,
		run.Period,
		run.State,
		run.FencingToken,
		run.RowsLoaded,
		run.RowsRejected,
		run.RowsStaged,
		run.Error,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.Period, err)
	}
	return nil
}
