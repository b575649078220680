package workflow

import (
	"github.com/canopy-network/celltowers/pkg/pipeline/activity"
	"github.com/canopy-network/celltowers/pkg/temporal"
)

type Context struct {
	TemporalClient  *temporal.Client
	ActivityContext *activity.Context
}

// CellTowersWorkflowName is the name the workflow is registered and scheduled under.
const CellTowersWorkflowName = temporal.PipelineWorkflowName
