package celltowers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/canopy-network/celltowers/app/celltowers/types"
	"github.com/canopy-network/celltowers/pkg/logging"
	"github.com/canopy-network/celltowers/pkg/metrics"
	"github.com/canopy-network/celltowers/pkg/pipeline/runner"
	pipelinetypes "github.com/canopy-network/celltowers/pkg/pipeline/types"
	"github.com/canopy-network/celltowers/pkg/redis"
)

// CronApp runs the pipeline in-process on a cron schedule, for deployments without Temporal.
type CronApp struct {
	Config *types.Config
	Deps   *Deps
	Runner *runner.Runner

	// Cron is the scheduler that triggers runs according to Config.ScheduleCron.
	Cron *cron.Cron

	// Running holds the run in progress in this process under runningKey. Every period
	// writes the same tables, so a second run of any period is refused.
	Running *xsync.Map[string, ActiveRun]

	// manual runs triggered over HTTP, one at a time
	manual pond.Pool

	Server *http.Server
	Logger *zap.Logger

	runCtx    context.Context
	cancelRun context.CancelFunc
	now       func() time.Time
}

// runningKey is the single slot in CronApp.Running.
const runningKey = "tables"

// ActiveRun describes the run in progress.
type ActiveRun struct {
	Period string
	Since  time.Time
}

func newCronApp(ctx context.Context, logger *zap.Logger, cfg *types.Config, r *runner.Runner) *CronApp {
	runCtx, cancel := context.WithCancel(ctx)
	return &CronApp{
		Config:    cfg,
		Runner:    r,
		Running:   xsync.NewMap[string, ActiveRun](),
		manual:    pond.NewPool(1, pond.WithQueueSize(4)),
		Logger:    logger,
		runCtx:    runCtx,
		cancelRun: cancel,
		now:       time.Now,
	}
}

// InitializeCron initializes the cron mode application.
func InitializeCron(ctx context.Context) *CronApp {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}
	logging.Probe(logger, "celltowers-cron")
	metrics.BuildInfo.WithLabelValues(Version, "cron").Set(1)

	cfg, err := types.LoadConfig()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	deps, err := NewDeps(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("Unable to initialize dependencies", zap.Error(err))
	}

	app := newCronApp(ctx, logger, cfg, runner.New(deps.Activities))
	app.Deps = deps

	if err := app.SetupScheduler(cron.PrintfLogger(zap.NewStdLog(logger.Named("cron"))), cfg.ScheduleCron); err != nil {
		logger.Fatal("Unable to setup scheduler", zap.Error(err))
	}

	server, _, err := newServer(logger, cfg, deps, app)
	if err != nil {
		logger.Fatal("Unable to initialize server", zap.Error(err))
	}
	app.Server = server

	return app
}

// SetupScheduler sets up the cron scheduler. The expression has five fields and is read in UTC.
func (a *CronApp) SetupScheduler(logger cron.Logger, cronSpec string) error {
	a.Cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	_, err := a.Cron.AddFunc(cronSpec, a.scheduledRun)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", cronSpec, err)
	}
	return nil
}

// scheduledRun is the cron job. Firings before the schedule start are ignored.
func (a *CronApp) scheduledRun() {
	now := a.now()
	if now.Before(a.Config.ScheduleStart) {
		a.Logger.Debug("Schedule not started yet", zap.Time("startAt", a.Config.ScheduleStart))
		return
	}
	in := pipelinetypes.RunInput{Period: pipelinetypes.PeriodKey(now)}
	if _, err := a.RunPeriod(a.runCtx, in); err != nil {
		a.Logger.Error("Scheduled run failed", zap.String("period", in.Period), zap.Error(err))
	}
}

// RunPeriod runs the pipeline once, refusing a period that is already running in this process.
func (a *CronApp) RunPeriod(ctx context.Context, in pipelinetypes.RunInput) (*pipelinetypes.RunResult, error) {
	period := in.Period
	if period == "" {
		period = pipelinetypes.PeriodKey(a.now())
		in.Period = period
	}
	active, loaded := a.Running.LoadOrStore(runningKey, ActiveRun{Period: period, Since: a.now()})
	if loaded {
		return nil, fmt.Errorf("%w: %s running since %s", redis.ErrLocked, active.Period, active.Since.Format(time.RFC3339))
	}
	defer a.Running.Delete(runningKey)

	return a.Runner.Run(ctx, in)
}

// Trigger queues a manual run. The run continues after the request returns.
func (a *CronApp) Trigger(_ context.Context, in pipelinetypes.RunInput) (string, error) {
	if active, running := a.Running.Load(runningKey); running {
		return "", fmt.Errorf("%w: %s running", redis.ErrLocked, active.Period)
	}
	if a.manual.Stopped() {
		return "", errors.New("shutting down")
	}
	a.manual.Submit(func() {
		if _, err := a.RunPeriod(a.runCtx, in); err != nil {
			a.Logger.Error("Manual run failed", zap.String("period", in.Period), zap.Error(err))
		}
	})
	return "local:" + in.Period, nil
}

// StartCron starts the cron scheduler.
func (a *CronApp) StartCron() {
	a.Cron.Start()
	a.Logger.Info("Cron started", zap.String("cronSpec", a.Config.ScheduleCron), zap.Time("startAt", a.Config.ScheduleStart))
}

// StopCron stops the scheduler and cancels the runs in progress.
func (a *CronApp) StopCron() {
	if a.Cron != nil {
		stopped := a.Cron.Stop()
		a.cancelRun()
		<-stopped.Done()
	}
	a.cancelRun()
	if !a.manual.Stopped() {
		a.manual.StopAndWait()
	}
}

// Start starts the application.
func (a *CronApp) Start(ctx context.Context) {
	a.StartCron()
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	<-ctx.Done()
	a.Logger.Info("Shutting down…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Server.Shutdown(shutdownCtx)
	a.StopCron()
	if a.Deps != nil {
		a.Deps.Close()
	}
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
