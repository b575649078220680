package celltowers

import (
	"fmt"
	"strings"

	"github.com/canopy-network/celltowers/pkg/db/models/celltowers"
)

// PartitionKey lists the columns whose combination identifies one tower in the deduplicator.
type PartitionKey []string

var (
	// DefaultPartitionKey keeps one row per (cell, radio), ignoring the area.
	DefaultPartitionKey = PartitionKey{"cell", "radio"}
	// AreaPartitionKey aligns deduplication with the staging sort key.
	AreaPartitionKey = PartitionKey{"cell", "area", "radio"}
)

// SQL renders the key as a comma separated column list.
func (k PartitionKey) SQL() string {
	cols := make([]string, 0, len(k))
	for _, c := range k {
		cols = append(cols, quote(c))
	}
	return strings.Join(cols, ", ")
}

// MartRule parameterizes the area selection of the mart view.
type MartRule struct {
	MCC           int32
	MinCells      uint64
	ExcludedRadio string
}

// DefaultMartRule selects Russian (mcc 250) areas with more than 200 cells and no LTE tower.
var DefaultMartRule = MartRule{MCC: 250, MinCells: 200, ExcludedRadio: "LTE"}

func qualified(database, table string) string {
	return quote(database) + "." + quote(table)
}

// target renders table followed by the ON CLUSTER clause when onCluster is set.
func target(database, table, onCluster string) string {
	if onCluster == "" {
		return qualified(database, table)
	}
	return qualified(database, table) + " " + onCluster
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// stringLiteral escapes s for a single-quoted ClickHouse string.
func stringLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

func truncateSourceSQL(database, onCluster string) string {
	return fmt.Sprintf("TRUNCATE TABLE IF EXISTS %s", target(database, celltowers.SourceTableName, onCluster))
}

// sourceTableSQL creates the raw table. Duplicates are tolerated.
func sourceTableSQL(database, onCluster string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			%s
		) ENGINE = MergeTree
		ORDER BY "cell"
	`, target(database, celltowers.SourceTableName, onCluster), celltowers.ColumnsToSchemaSQL(celltowers.CellTowerColumns))
}

// stagingTableSQL creates the deduplicating table keyed by (cell, area, radio).
func stagingTableSQL(database, onCluster string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			%s
		) ENGINE = ReplacingMergeTree
		PRIMARY KEY ("cell", "area", "radio")
		ORDER BY ("cell", "area", "radio")
	`, target(database, celltowers.StagingTableName, onCluster), celltowers.ColumnsToSchemaSQL(celltowers.CellTowerColumns))
}

func insertRawSQL(database string) string {
	return fmt.Sprintf("INSERT INTO %s (%s)",
		qualified(database, celltowers.SourceTableName),
		strings.Join(celltowers.ColumnsToNameList(celltowers.CellTowerColumns), ", "))
}

// dedupSQL copies the most recently updated raw row of every partition into staging.
// Rows sharing the same updated value are ranked in unspecified order.
func dedupSQL(database string, key PartitionKey) string {
	cols := strings.Join(celltowers.ColumnsToNameList(celltowers.CellTowerColumns), ", ")
	return fmt.Sprintf(`
		INSERT INTO %s (%s)
		SELECT %s
		FROM (
			SELECT *, row_number() OVER (PARTITION BY %s ORDER BY "updated" DESC) AS rn
			FROM %s
		)
		WHERE rn = 1
	`, qualified(database, celltowers.StagingTableName), cols, cols,
		key.SQL(), qualified(database, celltowers.SourceTableName))
}

// dedupCountSQL counts the partitions dedupSQL produces, which is the number of rows it inserts.
func dedupCountSQL(database string, key PartitionKey) string {
	return fmt.Sprintf("SELECT uniqExact(%s) FROM %s", key.SQL(), qualified(database, celltowers.SourceTableName))
}

// martViewSQL defines the view of areas with enough cells for the rule's MCC that contain no
// tower of the excluded radio type. The exclusion applies to every MCC.
func martViewSQL(database, onCluster string, rule MartRule) string {
	stg := qualified(database, celltowers.StagingTableName)
	return fmt.Sprintf(`
		CREATE OR REPLACE VIEW %s AS
		SELECT DISTINCT "area"
		FROM %s
		WHERE "mcc" = %d
		  AND "area" NOT IN (SELECT DISTINCT "area" FROM %s WHERE "radio" = %s)
		GROUP BY "area"
		HAVING count(DISTINCT "cell") > %d
	`, target(database, celltowers.MartViewName, onCluster), stg, rule.MCC, stg,
		stringLiteral(rule.ExcludedRadio), rule.MinCells)
}

func runsTableSQL(database, onCluster string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			%s
		) ENGINE = ReplacingMergeTree("updated_at")
		ORDER BY "period"
	`, target(database, celltowers.RunsTableName, onCluster), celltowers.ColumnsToSchemaSQL(celltowers.RunColumns))
}
