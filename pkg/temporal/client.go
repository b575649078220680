package temporal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	taskqueuepb "go.temporal.io/api/taskqueue/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/canopy-network/celltowers/pkg/retry"
)

// Options describes how to reach Temporal.
type Options struct {
	HostPort      string
	Namespace     string
	PipelineQueue string
	ScheduleID    string
}

type Client struct {
	TClient   client.Client
	TSClient  client.ScheduleClient
	Namespace string
	HostPort  string
	logger    *zap.Logger

	// Task Queues
	PipelineQueue string // celltowers - workflow and activities of the pipeline

	// Schedule IDs
	ScheduleID string // cell_towers_loader
}

type Health struct {
	ConnectionOK  bool                      `json:"connection_ok"`
	PipelineQueue []*taskqueuepb.PollerInfo `json:"pipeline_queue"`
}

// NewClient connects to Temporal, retrying with backoff until the server is healthy.
// The namespace must already exist; see EnsureNamespace.
func NewClient(ctx context.Context, logger *zap.Logger, opts Options) (*Client, error) {
	if opts.HostPort == "" {
		opts.HostPort = "localhost:7233"
	}
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	if opts.PipelineQueue == "" {
		opts.PipelineQueue = DefaultPipelineQueue
	}
	if opts.ScheduleID == "" {
		opts.ScheduleID = DefaultScheduleID
	}

	connCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	loggerWrapper := NewZapAdapter(logger)

	logger.Info("Connecting to Temporal",
		zap.String("host", opts.HostPort),
		zap.String("namespace", opts.Namespace))

	var tClient client.Client
	err := retry.WithBackoff(connCtx, retry.DefaultConfig(), logger, "temporal_connection", func() error {
		var err error
		tClient, err = Dial(connCtx, opts.HostPort, opts.Namespace, loggerWrapper)
		if err != nil {
			return err
		}
		if _, err = tClient.CheckHealth(connCtx, nil); err != nil {
			tClient.Close()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		TClient:       tClient,
		TSClient:      tClient.ScheduleClient(),
		Namespace:     opts.Namespace,
		HostPort:      opts.HostPort,
		logger:        logger,
		PipelineQueue: opts.PipelineQueue,
		ScheduleID:    opts.ScheduleID,
	}, nil
}

// Dial connects to Temporal using the provided hostPort and namespace.
func Dial(ctx context.Context, hostPort, namespace string, logger log.Logger) (client.Client, error) {
	return client.DialContext(
		ctx,
		client.Options{
			HostPort:  hostPort,
			Namespace: namespace,
			Logger:    logger,
		},
	)
}

// EnsureNamespace registers namespace on the server if it does not exist yet.
func EnsureNamespace(ctx context.Context, logger *zap.Logger, hostPort, namespace string, retention time.Duration) error {
	nsClient, err := client.NewNamespaceClient(client.Options{
		HostPort: hostPort,
		Logger:   NewZapAdapter(logger),
	})
	if err != nil {
		return fmt.Errorf("failed to create namespace client: %w", err)
	}
	defer nsClient.Close()

	// Try to describe the namespace first; the server may still be starting
	var described error
	err = retry.WithBackoff(ctx, retry.DefaultConfig(), logger, "temporal_namespace", func() error {
		_, described = nsClient.Describe(ctx, namespace)
		var notFound *serviceerror.NamespaceNotFound
		if described == nil || errors.As(described, &notFound) {
			return nil
		}
		return described
	})
	if err != nil {
		return fmt.Errorf("failed to describe namespace: %w", err)
	}
	if described == nil {
		return nil
	}

	logger.Info("Registering Temporal namespace",
		zap.String("namespace", namespace),
		zap.Duration("retention", retention))
	err = nsClient.Register(ctx, &workflowservice.RegisterNamespaceRequest{
		Namespace:                        namespace,
		WorkflowExecutionRetentionPeriod: durationpb.New(retention),
	})
	var exists *serviceerror.NamespaceAlreadyExists
	if err != nil && !errors.As(err, &exists) {
		return fmt.Errorf("failed to register namespace: %w", err)
	}

	// Wait for namespace to be available
	for i := 0; i < 10; i++ {
		if _, err = nsClient.Describe(ctx, namespace); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("namespace %s not visible after registration: %w", namespace, err)
}

// GetManualRunWorkflowID returns the workflow ID of a manual run of period.
func (c *Client) GetManualRunWorkflowID(period string) string {
	return fmt.Sprintf(WorkflowIDManualRun, period)
}

// Health returns the health of the Temporal client.
func (c *Client) Health(ctx context.Context) (Health, error) {
	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	if _, err := c.TClient.CheckHealth(ctx, nil); err != nil {
		return Health{}, err
	}

	h := Health{ConnectionOK: true}
	svc := c.TClient.WorkflowService()
	if svc != nil {
		if rep, err := svc.DescribeTaskQueue(ctx, &workflowservice.DescribeTaskQueueRequest{
			Namespace:     c.Namespace,
			TaskQueue:     &taskqueuepb.TaskQueue{Name: c.PipelineQueue},
			TaskQueueType: enums.TASK_QUEUE_TYPE_WORKFLOW,
		}); err == nil {
			h.PipelineQueue = rep.GetPollers()
		}
	}
	return h, nil
}

// Close closes the underlying Temporal client connection.
func (c *Client) Close() {
	if c.TClient != nil {
		c.TClient.Close()
	}
}
