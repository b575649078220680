package celltowers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/canopy-network/celltowers/pkg/db/models/celltowers"
)

// PublishMart (re)defines the mart view. The view stores nothing, so republishing only
// recompiles the definition.
func (db *DB) PublishMart(ctx context.Context, rule MartRule) error {
	db.Logger.Info("Publishing mart view",
		zap.String("database", db.Name),
		zap.String("view", celltowers.MartViewName),
		zap.Int32("mcc", rule.MCC),
		zap.Uint64("min_cells", rule.MinCells),
		zap.String("excluded_radio", rule.ExcludedRadio))

	if err := db.Exec(ctx, martViewSQL(db.Name, db.OnCluster(), rule)); err != nil {
		return fmt.Errorf("create view %s: %w", celltowers.MartViewName, err)
	}
	return nil
}

// MartAreas returns the areas currently selected by the mart view, ascending. Before the
// first publish the view is missing and the list is empty.
func (db *DB) MartAreas(ctx context.Context) ([]int32, error) {
	exists, err := db.TableExists(ctx, db.Name, celltowers.MartViewName)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []int32{}, nil
	}

	query := fmt.Sprintf(`SELECT "area" FROM %s ORDER BY "area"`, qualified(db.Name, celltowers.MartViewName))
	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", celltowers.MartViewName, err)
	}
	defer func() { _ = rows.Close() }()

	areas := make([]int32, 0)
	for rows.Next() {
		var area int32
		if err := rows.Scan(&area); err != nil {
			return nil, fmt.Errorf("scan %s: %w", celltowers.MartViewName, err)
		}
		areas = append(areas, area)
	}
	return areas, rows.Err()
}
