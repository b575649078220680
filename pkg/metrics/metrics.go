package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "celltowers_build_info",
		Help: "Build information of the cell towers loader",
	}, []string{"version", "mode"})

	RowsLoaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "celltowers_rows_loaded_total", Help: "Total rows inserted into the raw table.",
	})
	RowsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "celltowers_rows_rejected_total", Help: "Total malformed rows skipped while loading.",
	})
	RowsStaged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "celltowers_rows_staged_total", Help: "Total rows inserted into the staging table.",
	})
	DatasetBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "celltowers_dataset_bytes", Help: "Size of the last fetched dataset.",
	}, []string{"kind"})

	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "celltowers_step_duration_seconds",
		Help:    "Duration of pipeline steps.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
	}, []string{"step", "result"})

	RunOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "celltowers_run_outcomes_total", Help: "Pipeline run outcomes.",
	}, []string{"result"})

	TableRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "celltowers_table_rows", Help: "Rows in a pipeline table at the end of the last run.",
	}, []string{"table"})
	TableCompressedBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "celltowers_table_compressed_bytes", Help: "Compressed on-disk size of a pipeline table.",
	}, []string{"table"})
	TableActiveParts = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "celltowers_table_active_parts", Help: "Active parts of a pipeline table.",
	}, []string{"table"})
	MartAreas = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "celltowers_mart_areas", Help: "Areas selected by the mart view after the last run.",
	})
)

// Result labels
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// ResultLabel maps an error to the result label.
func ResultLabel(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
