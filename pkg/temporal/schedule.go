package temporal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
)

// ScheduleConfig describes the pipeline schedule.
type ScheduleConfig struct {
	Cron    string
	StartAt time.Time
	// Args are passed to every scheduled workflow.
	Args []interface{}
}

// ScheduleOptions builds the create options of the pipeline schedule.
func (c *Client) ScheduleOptions(cfg ScheduleConfig) client.ScheduleOptions {
	return client.ScheduleOptions{
		ID:   c.ScheduleID,
		Spec: CronSpec(cfg.Cron, cfg.StartAt),
		Action: &client.ScheduleWorkflowAction{
			ID:                       c.ScheduleID,
			Workflow:                 PipelineWorkflowName,
			Args:                     cfg.Args,
			TaskQueue:                c.PipelineQueue,
			WorkflowExecutionTimeout: 12 * time.Hour,
			WorkflowTaskTimeout:      time.Minute,
		},
		Overlap:       DefaultSchedulePolicies.Overlap,
		CatchupWindow: DefaultSchedulePolicies.CatchupWindow,
	}
}

// EnsureSchedule creates the pipeline schedule when it does not exist. An existing schedule
// is left untouched so manual pauses survive restarts.
func (c *Client) EnsureSchedule(ctx context.Context, cfg ScheduleConfig) error {
	id := c.ScheduleID
	h := c.TSClient.GetHandle(ctx, id)
	_, err := h.Describe(ctx)
	if err == nil {
		c.logger.Info("Pipeline schedule already exists",
			zap.String("id", id),
			zap.String("namespace", c.Namespace))
		return nil
	}

	var notFound *serviceerror.NotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("describe schedule %s: %w", id, err)
	}

	c.logger.Info("Creating pipeline schedule",
		zap.String("id", id),
		zap.String("namespace", c.Namespace),
		zap.String("cron", cfg.Cron),
		zap.Time("startAt", cfg.StartAt))
	if _, err := c.TSClient.Create(ctx, c.ScheduleOptions(cfg)); err != nil {
		return fmt.Errorf("create schedule %s: %w", id, err)
	}
	return nil
}
