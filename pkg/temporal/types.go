package temporal

import (
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// Defaults for the cell towers namespace.
const (
	DefaultNamespace     = "celltowers"
	DefaultPipelineQueue = "celltowers"
	DefaultScheduleID    = "cell_towers_loader"
	// DefaultCron fires at noon UTC on the first day of every month.
	DefaultCron = "0 12 1 * *"
	// DefaultRetention keeps finished runs visible for a quarter.
	DefaultRetention = 90 * 24 * time.Hour
)

// PipelineWorkflowName is the registered name of the pipeline workflow.
const PipelineWorkflowName = "CellTowersWorkflow"

// Workflow ID patterns
const (
	// WorkflowIDManualRun identifies a manually started run of a period.
	WorkflowIDManualRun = "cell_towers:%s"
)

// DefaultScheduleStart is the first period the schedule may fire for.
var DefaultScheduleStart = time.Date(2023, 12, 15, 0, 0, 0, 0, time.UTC)

// CronSpec returns a schedule spec firing on cron (UTC) from start on.
func CronSpec(cron string, start time.Time) client.ScheduleSpec {
	return client.ScheduleSpec{
		CronExpressions: []string{cron},
		StartAt:         start,
	}
}

// SchedulePolicies are the overlap and catch-up rules of the pipeline schedule.
type SchedulePolicies struct {
	Overlap       enumspb.ScheduleOverlapPolicy
	CatchupWindow time.Duration
}

// DefaultSchedulePolicies skip a firing while a run is still going and never backfill
// firings missed while the server was down.
var DefaultSchedulePolicies = SchedulePolicies{
	Overlap:       enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
	CatchupWindow: time.Minute,
}
