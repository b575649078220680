package activity

import (
	"context"
	"time"

	"github.com/canopy-network/celltowers/pkg/pipeline/types"
)

// InitSourceTable empties and (re)creates the raw table.
func (c *Context) InitSourceTable(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { observe(types.StepInitSource, start, err) }()

	return failure(c.Store.InitSourceTable(ctx))
}

// InitStagingTable creates the staging table if missing.
func (c *Context) InitStagingTable(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { observe(types.StepInitStaging, start, err) }()

	return failure(c.Store.InitStagingTable(ctx))
}
