package types

import "time"

// Error types attached to activity failures.
const (
	ErrTypeFetchFailed        = "fetch_failed"
	ErrTypeDecompressFailed   = "decompress_failed"
	ErrTypeDBConnectFailed    = "db_connect_failed"
	ErrTypeSQLFailed          = "sql_failed"
	ErrTypeLoadBudgetExceeded = "load_budget_exceeded"
	ErrTypeRunLocked          = "run_locked"
)

// RunInput is the input of the pipeline workflow. Scheduled runs leave Period empty and the
// period is taken from the workflow start time.
type RunInput struct {
	Period string `json:"period"`
	// Force reruns every step even when the period was already published.
	Force bool `json:"force"`
}

// RunResult is returned by a finished run.
type RunResult struct {
	Period       string        `json:"period"`
	State        State         `json:"state"`
	Skipped      bool          `json:"skipped"`
	RowsLoaded   uint64        `json:"rowsLoaded"`
	RowsRejected uint64        `json:"rowsRejected"`
	RowsStaged   uint64        `json:"rowsStaged"`
	Tables       []TableStats  `json:"tables,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// PeriodInput names the period an activity works on.
type PeriodInput struct {
	Period string `json:"period"`
}

// LockInput identifies a held run lock.
type LockInput struct {
	Period string `json:"period"`
	Token  uint64 `json:"token"`
}

// LockOutput carries the fencing token of an acquired lock.
type LockOutput struct {
	Token uint64 `json:"token"`
}

// Checkpoint is the persisted progress of a period.
type Checkpoint struct {
	Period       string `json:"period"`
	State        State  `json:"state"`
	FencingToken uint64 `json:"fencingToken"`
	RowsLoaded   uint64 `json:"rowsLoaded"`
	RowsRejected uint64 `json:"rowsRejected"`
	RowsStaged   uint64 `json:"rowsStaged"`
	Error        string `json:"error,omitempty"`
}

// FetchOutput describes the downloaded dataset.
type FetchOutput struct {
	CSVPath         string `json:"csvPath"`
	CompressedBytes int64  `json:"compressedBytes"`
	CSVBytes        int64  `json:"csvBytes"`
}

// LoadInput points the loader at a decompressed dataset.
type LoadInput struct {
	Period  string `json:"period"`
	CSVPath string `json:"csvPath"`
}

// LoadOutput counts the rows of a load.
type LoadOutput struct {
	RowsRead     uint64 `json:"rowsRead"`
	RowsLoaded   uint64 `json:"rowsLoaded"`
	RowsRejected uint64 `json:"rowsRejected"`
}

// DedupOutput counts the rows inserted into staging.
type DedupOutput struct {
	RowsStaged uint64 `json:"rowsStaged"`
}

// TableStats is the size of one pipeline table after a run.
type TableStats struct {
	Table           string  `json:"table"`
	Rows            uint64  `json:"rows"`
	CompressedBytes uint64  `json:"compressedBytes"`
	ActiveParts     uint64  `json:"activeParts"`
	Compression     float64 `json:"compression"`
}

// PublishedEvent is announced once a period reaches PUBLISHED.
type PublishedEvent struct {
	Period       string    `json:"period"`
	RowsLoaded   uint64    `json:"rows_loaded"`
	RowsRejected uint64    `json:"rows_rejected"`
	Staged       uint64    `json:"staged"`
	PublishedAt  time.Time `json:"published_at"`
}
