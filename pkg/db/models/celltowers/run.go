package celltowers

import "time"

const RunsTableName = "pipeline_runs"

// RunColumns defines the schema of the checkpoint table.
var RunColumns = []ColumnDef{
	{Name: "period", Type: "String"},
	{Name: "state", Type: "LowCardinality(String)"},
	{Name: "fencing_token", Type: "UInt64"},
	{Name: "rows_loaded", Type: "UInt64"},
	{Name: "rows_rejected", Type: "UInt64"},
	{Name: "rows_staged", Type: "UInt64"},
	{Name: "error", Type: "String"},
	{Name: "updated_at", Type: "DateTime64(3)"},
}

// Run is the checkpoint of one scheduled period. The latest row per period wins.
type Run struct {
	Period       string    `json:"period" ch:"period"`
	State        string    `json:"state" ch:"state"`
	FencingToken uint64    `json:"fencing_token" ch:"fencing_token"`
	RowsLoaded   uint64    `json:"rows_loaded" ch:"rows_loaded"`
	RowsRejected uint64    `json:"rows_rejected" ch:"rows_rejected"`
	RowsStaged   uint64    `json:"rows_staged" ch:"rows_staged"`
	Error        string    `json:"error,omitempty" ch:"error"`
	UpdatedAt    time.Time `json:"updated_at" ch:"updated_at"`
}
