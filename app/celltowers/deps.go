package celltowers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/canopy-network/celltowers/app/celltowers/controller"
	"github.com/canopy-network/celltowers/app/celltowers/types"
	celltowersdb "github.com/canopy-network/celltowers/pkg/db/celltowers"
	"github.com/canopy-network/celltowers/pkg/pipeline/activity"
	"github.com/canopy-network/celltowers/pkg/redis"
)

// Deps are the connections shared by both run modes.
type Deps struct {
	DB         *celltowersdb.DB
	Redis      *redis.Client
	Activities *activity.Context
}

// NewDeps connects to ClickHouse and, when enabled, Redis and builds the activity context.
func NewDeps(ctx context.Context, logger *zap.Logger, cfg *types.Config) (*Deps, error) {
	db, err := celltowersdb.New(ctx, logger, cfg.ClickHouse)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: %w", err)
	}

	deps := &Deps{DB: db}
	ac := &activity.Context{
		Logger:   logger,
		Store:    db,
		Settings: cfg.Pipeline,
	}

	if cfg.RedisEnabled {
		rc, err := redis.NewClient(ctx, logger, cfg.Redis)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		deps.Redis = rc
		ac.Locker = redis.NewRunLock(rc)
		ac.Publisher = rc
	} else {
		logger.Warn("Redis disabled, run lock is process local and no publication events are sent")
		ac.Locker = redis.NewLocalLock()
	}

	deps.Activities = ac
	return deps, nil
}

// Checks returns the readiness probes of the connections.
func (d *Deps) Checks() map[string]controller.Check {
	checks := map[string]controller.Check{"clickhouse": d.DB.Ping}
	if d.Redis != nil {
		checks["redis"] = d.Redis.Health
	}
	return checks
}

// Close releases every connection.
func (d *Deps) Close() {
	d.Activities.Close()
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	_ = d.DB.Close()
}

// newServer builds the HTTP server of the service.
func newServer(logger *zap.Logger, cfg *types.Config, deps *Deps, trigger controller.Trigger) (*http.Server, *controller.Controller, error) {
	auth := controller.Auth{
		AdminToken: cfg.Admin.Token,
		User:       cfg.Admin.User,
		JWTSecret:  []byte(cfg.Admin.SessionSecret),
	}
	if cfg.Admin.Password != "" {
		hash, err := controller.HashOrRead(cfg.Admin.Password)
		if err != nil {
			return nil, nil, fmt.Errorf("hash admin password: %w", err)
		}
		auth.PasswordHash = hash
	}
	if auth.AdminToken == "" && auth.PasswordHash == nil {
		logger.Info("No admin credentials configured, manual runs are disabled")
	}

	ctler := controller.NewController(logger, deps.DB, trigger, auth)
	for name, check := range deps.Checks() {
		ctler.Checks[name] = check
	}

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           ctler.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("Starting server", zap.String("addr", cfg.Addr))
	return server, ctler, nil
}
