package celltowers

import (
	"fmt"
	"strings"
)

// ColumnDef defines a single column for a table.
// The raw and staging tables share one column list so their schemas cannot drift apart.
type ColumnDef struct {
	// Name is the column name as it appears in the table and the CSV header.
	Name string

	// Type is the ClickHouse data type (e.g., "Int32", "LowCardinality(String)")
	Type string

	// Codec is the optional compression codec (e.g., "ZSTD(1)", "Delta, ZSTD(3)")
	Codec string
}

// SQL returns the full column definition for CREATE TABLE statements.
// Example: "cell Int64 CODEC(Delta, ZSTD(3))"
func (c ColumnDef) SQL() string {
	if c.Codec != "" {
		return fmt.Sprintf("%s %s CODEC(%s)", quoteIdent(c.Name), c.Type, c.Codec)
	}
	return fmt.Sprintf("%s %s", quoteIdent(c.Name), c.Type)
}

// Validate checks if the column definition is valid.
func (c ColumnDef) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("column name cannot be empty")
	}
	if c.Type == "" {
		return fmt.Errorf("column %s: type cannot be empty", c.Name)
	}
	return nil
}

// ColumnsToSchemaSQL converts a list of ColumnDef to a CREATE TABLE schema string.
func ColumnsToSchemaSQL(columns []ColumnDef) string {
	parts := make([]string, 0, len(columns))
	for _, col := range columns {
		parts = append(parts, col.SQL())
	}
	return strings.Join(parts, ",\n\t\t\t")
}

// ColumnsToNameList extracts the quoted column names, ready for INSERT and SELECT lists.
func ColumnsToNameList(columns []ColumnDef) []string {
	names := make([]string, 0, len(columns))
	for _, col := range columns {
		names = append(names, quoteIdent(col.Name))
	}
	return names
}

// ValidateColumns validates all columns in a list.
// Returns the first validation error encountered.
func ValidateColumns(columns []ColumnDef) error {
	for _, col := range columns {
		if err := col.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// quoteIdent wraps a column name in double quotes; "range" and "area" collide with SQL keywords.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
