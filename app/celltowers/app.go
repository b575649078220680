package celltowers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	temporalworkflow "go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/canopy-network/celltowers/app/celltowers/types"
	"github.com/canopy-network/celltowers/pkg/logging"
	"github.com/canopy-network/celltowers/pkg/metrics"
	pipelinetypes "github.com/canopy-network/celltowers/pkg/pipeline/types"
	"github.com/canopy-network/celltowers/pkg/pipeline/workflow"
	"github.com/canopy-network/celltowers/pkg/redis"
	"github.com/canopy-network/celltowers/pkg/temporal"
)

// Version is set at build time with -ldflags "-X ...celltowers.Version=...".
var Version = "dev"

// App runs the pipeline as a Temporal worker and keeps its schedule in place.
type App struct {
	Config         *types.Config
	Deps           *Deps
	Worker         worker.Worker
	TemporalClient *temporal.Client
	Server         *http.Server
	Logger         *zap.Logger
}

// Start starts the worker and the HTTP server and blocks until the context is canceled.
func (a *App) Start(ctx context.Context) {
	if err := a.Worker.Start(); err != nil {
		a.Logger.Fatal("Unable to start worker", zap.Error(err))
	}
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	<-ctx.Done()
	a.Stop()
}

// Stop stops the worker and closes every connection.
func (a *App) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Server.Shutdown(shutdownCtx)
	a.Worker.Stop()
	a.TemporalClient.Close()
	a.Deps.Close()
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}

// Initialize initializes the application.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}
	logging.Probe(logger, "celltowers")
	metrics.BuildInfo.WithLabelValues(Version, "temporal").Set(1)

	cfg, err := types.LoadConfig()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	if err := temporal.EnsureNamespace(ctx, logger, cfg.Temporal.HostPort, cfg.Temporal.Namespace, cfg.NamespaceRetention); err != nil {
		logger.Fatal("Unable to ensure temporal namespace", zap.Error(err))
	}

	temporalClient, err := temporal.NewClient(ctx, logger, cfg.Temporal)
	if err != nil {
		logger.Fatal("Unable to establish temporal connection", zap.Error(err))
	}

	deps, err := NewDeps(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("Unable to initialize dependencies", zap.Error(err))
	}

	activityContext := deps.Activities
	workflowContext := workflow.Context{
		TemporalClient:  temporalClient,
		ActivityContext: activityContext,
	}

	// One run at a time; the pollers only need to keep up with a handful of sequential steps.
	wkr := worker.New(
		temporalClient.TClient,
		temporalClient.PipelineQueue,
		worker.Options{
			MaxConcurrentWorkflowTaskPollers:   2,
			MaxConcurrentActivityTaskPollers:   2,
			MaxConcurrentActivityExecutionSize: 4,
			WorkerStopTimeout:                  1 * time.Minute,
		},
	)

	// Register the workflow
	wkr.RegisterWorkflowWithOptions(
		workflowContext.CellTowersWorkflow,
		temporalworkflow.RegisterOptions{
			Name: workflow.CellTowersWorkflowName,
		},
	)
	// Register all the activities
	wkr.RegisterActivity(activityContext.AcquireRunLock)
	wkr.RegisterActivity(activityContext.ReleaseRunLock)
	wkr.RegisterActivity(activityContext.LoadCheckpoint)
	wkr.RegisterActivity(activityContext.SaveCheckpoint)
	wkr.RegisterActivity(activityContext.Fetch)
	wkr.RegisterActivity(activityContext.InitSourceTable)
	wkr.RegisterActivity(activityContext.LoadRaw)
	wkr.RegisterActivity(activityContext.InitStagingTable)
	wkr.RegisterActivity(activityContext.Deduplicate)
	wkr.RegisterActivity(activityContext.PublishMart)
	wkr.RegisterActivity(activityContext.CollectTableStats)
	wkr.RegisterActivity(activityContext.NotifyPublished)

	err = temporalClient.EnsureSchedule(ctx, temporal.ScheduleConfig{
		Cron:    cfg.ScheduleCron,
		StartAt: cfg.ScheduleStart,
		// an empty period resolves to the month of the scheduled start time
		Args: []interface{}{pipelinetypes.RunInput{}},
	})
	if err != nil {
		logger.Fatal("Unable to ensure pipeline schedule", zap.Error(err))
	}

	server, ctler, err := newServer(logger, cfg, deps, &temporalTrigger{client: temporalClient})
	if err != nil {
		logger.Fatal("Unable to initialize server", zap.Error(err))
	}
	ctler.Checks["temporal"] = func(ctx context.Context) error {
		_, err := temporalClient.Health(ctx)
		return err
	}

	return &App{
		Config:         cfg,
		Deps:           deps,
		Worker:         wkr,
		TemporalClient: temporalClient,
		Server:         server,
		Logger:         logger,
	}
}

// temporalTrigger starts manual runs as workflows on the pipeline queue.
type temporalTrigger struct {
	client *temporal.Client
}

func (t *temporalTrigger) Trigger(ctx context.Context, in pipelinetypes.RunInput) (string, error) {
	opts := client.StartWorkflowOptions{
		ID:        t.client.GetManualRunWorkflowID(in.Period),
		TaskQueue: t.client.PipelineQueue,
		// a second trigger while the first is running is a conflict, not a join
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	run, err := t.client.TClient.ExecuteWorkflow(ctx, opts, workflow.CellTowersWorkflowName, in)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return "", fmt.Errorf("%w: %s", redis.ErrLocked, opts.ID)
		}
		return "", err
	}
	return run.GetID() + "/" + run.GetRunID(), nil
}
