package celltowers

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SourceTableName  = "src_cell_towers"
	StagingTableName = "stg_cell_towers"
	MartViewName     = "cdm_cell_towers"
)

// CellTowerColumns defines the schema shared by the raw and staging tables.
// Order matters: it is the column order of every INSERT issued against those tables.
var CellTowerColumns = []ColumnDef{
	{Name: "radio", Type: "LowCardinality(String)"},
	{Name: "mcc", Type: "Int32"},
	{Name: "net", Type: "Int32"},
	{Name: "area", Type: "Int32"},
	{Name: "cell", Type: "Int64", Codec: "Delta, ZSTD(3)"},
	{Name: "unit", Type: "Int32"},
	{Name: "lon", Type: "Decimal(10, 4)"},
	{Name: "lat", Type: "Decimal(10, 4)"},
	{Name: "range", Type: "Int32"},
	{Name: "samples", Type: "Int32"},
	{Name: "changeable", Type: "Int32"},
	{Name: "created", Type: "DateTime"},
	{Name: "updated", Type: "DateTime"},
	{Name: "averageSignal", Type: "Int32"},
}

// CellTower is one cellular base station observation from the OpenCelliD export.
// Cell is the only mandatory field; empty CSV fields keep the zero value, which is also the
// ClickHouse column default.
type CellTower struct {
	Radio         string          `json:"radio" ch:"radio"`
	MCC           int32           `json:"mcc" ch:"mcc"`
	Net           int32           `json:"net" ch:"net"`
	Area          int32           `json:"area" ch:"area"`
	Cell          int64           `json:"cell" ch:"cell"`
	Unit          int32           `json:"unit" ch:"unit"`
	Lon           decimal.Decimal `json:"lon" ch:"lon"`
	Lat           decimal.Decimal `json:"lat" ch:"lat"`
	Range         int32           `json:"range" ch:"range"`
	Samples       int32           `json:"samples" ch:"samples"`
	Changeable    int32           `json:"changeable" ch:"changeable"`
	Created       time.Time       `json:"created" ch:"created"`
	Updated       time.Time       `json:"updated" ch:"updated"`
	AverageSignal int32           `json:"averageSignal" ch:"averageSignal"`
}

// Values returns the fields in CellTowerColumns order, for driver.Batch.Append.
func (c *CellTower) Values() []any {
	return []any{
		c.Radio,
		c.MCC,
		c.Net,
		c.Area,
		c.Cell,
		c.Unit,
		c.Lon,
		c.Lat,
		c.Range,
		c.Samples,
		c.Changeable,
		c.Created,
		c.Updated,
		c.AverageSignal,
	}
}
