package types

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/canopy-network/celltowers/pkg/dataset"
	celltowersdb "github.com/canopy-network/celltowers/pkg/db/celltowers"
	"github.com/canopy-network/celltowers/pkg/db/clickhouse"
	"github.com/canopy-network/celltowers/pkg/pipeline/activity"
	"github.com/canopy-network/celltowers/pkg/redis"
	"github.com/canopy-network/celltowers/pkg/temporal"
	"github.com/canopy-network/celltowers/pkg/utils"
)

const (
	DefaultDatasetURL = "https://datasets.clickhouse.com/cell_towers.csv.xz"
	DefaultStagingDir = "./data"
	DefaultAddr       = ":3010"
)

// Config is the process configuration. Every field comes from the environment, optionally
// seeded from a .env file in the working directory.
type Config struct {
	ClickHouse clickhouse.Options
	Redis      redis.Options
	// RedisEnabled=false switches the run lock to an in-process lock and drops publication events.
	RedisEnabled bool

	Temporal           temporal.Options
	ScheduleCron       string
	ScheduleStart      time.Time
	NamespaceRetention time.Duration

	Pipeline activity.Settings

	Addr  string
	Admin AdminConfig
}

// AdminConfig guards the manual run endpoint. Password may be given as a bcrypt hash.
type AdminConfig struct {
	Token         string
	User          string
	Password      string
	SessionSecret string
}

// LoadConfig reads the configuration. Only malformed values are errors; missing ones default.
func LoadConfig() (*Config, error) {
	// .env is optional; real environment variables win over it
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	start, err := time.Parse(time.DateOnly, utils.Env("SCHEDULE_START", temporal.DefaultScheduleStart.Format(time.DateOnly)))
	if err != nil {
		return nil, fmt.Errorf("SCHEDULE_START: %w", err)
	}

	partition := celltowersdb.DefaultPartitionKey
	if utils.EnvBool("DEDUP_PARTITION_BY_AREA", false) {
		partition = celltowersdb.AreaPartitionKey
	}

	cfg := &Config{
		ClickHouse: clickhouse.Options{
			Host:      utils.Env("CLICKHOUSE_HOST", "localhost"),
			Port:      utils.EnvInt("CLICKHOUSE_PORT", 0),
			Protocol:  utils.Env("CLICKHOUSE_PROTOCOL", clickhouse.ProtocolNative),
			Database:  utils.Env("CLICKHOUSE_DATABASE", "default"),
			Username:  utils.Env("CLICKHOUSE_USERNAME", "default"),
			Password:  utils.Env("CLICKHOUSE_PASSWORD", ""),
			Cluster:   utils.Env("CLICKHOUSE_CLUSTER", ""),
			Component: "celltowers",
		},
		Redis: redis.Options{
			Host:         utils.Env("REDIS_HOST", "localhost"),
			Port:         utils.EnvInt("REDIS_PORT", 6379),
			Password:     utils.Env("REDIS_PASSWORD", ""),
			DB:           int(utils.EnvInt64("REDIS_DB", 0)),
			StreamMaxLen: utils.EnvInt64("REDIS_STREAM_MAXLEN", redis.DefaultStreamMaxLen),
		},
		RedisEnabled: utils.EnvBool("REDIS_ENABLED", true),
		Temporal: temporal.Options{
			HostPort:      utils.Env("TEMPORAL_HOSTPORT", "localhost:7233"),
			Namespace:     utils.Env("TEMPORAL_NAMESPACE", temporal.DefaultNamespace),
			PipelineQueue: utils.Env("TEMPORAL_TASK_QUEUE", temporal.DefaultPipelineQueue),
			ScheduleID:    utils.Env("SCHEDULE_ID", temporal.DefaultScheduleID),
		},
		ScheduleCron:       utils.Env("SCHEDULE_CRON", temporal.DefaultCron),
		ScheduleStart:      start,
		NamespaceRetention: utils.EnvDuration("TEMPORAL_NAMESPACE_RETENTION", temporal.DefaultRetention),
		Pipeline: activity.Settings{
			DatasetURL: utils.Env("DATASET_URL", DefaultDatasetURL),
			StagingDir: utils.Env("STAGING_DIR", DefaultStagingDir),
			BatchSize:  utils.EnvInt("LOAD_BATCH_SIZE", dataset.DefaultBatchSize),
			Budget: dataset.ErrorBudget{
				MaxErrors: uint64(utils.EnvInt64("LOAD_MAX_ERRORS", int64(dataset.DefaultErrorBudget.MaxErrors))),
				MaxRatio:  utils.EnvFloat("LOAD_MAX_ERROR_RATIO", dataset.DefaultErrorBudget.MaxRatio),
			},
			PartitionKey: partition,
			MartRule: celltowersdb.MartRule{
				MCC:           int32(utils.EnvInt64("MART_MCC", int64(celltowersdb.DefaultMartRule.MCC))),
				MinCells:      uint64(utils.EnvInt64("MART_MIN_CELLS", int64(celltowersdb.DefaultMartRule.MinCells))),
				ExcludedRadio: utils.Env("MART_EXCLUDED_RADIO", celltowersdb.DefaultMartRule.ExcludedRadio),
			},
			LockTTL:         utils.EnvDuration("RUN_LOCK_TTL", activity.DefaultLockTTL),
			OptimizeStaging: utils.EnvBool("OPTIMIZE_STAGING", false),
		},
		Addr: utils.Env("ADDR", DefaultAddr),
		Admin: AdminConfig{
			Token:         utils.Env("ADMIN_TOKEN", ""),
			User:          utils.Env("ADMIN_USER", "admin"),
			Password:      utils.Env("ADMIN_PASSWORD", ""),
			SessionSecret: utils.Env("SESSION_SECRET", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Pipeline.DatasetURL == "" {
		return fmt.Errorf("DATASET_URL is required")
	}
	if c.Pipeline.Budget.MaxRatio > 1 {
		return fmt.Errorf("LOAD_MAX_ERROR_RATIO must be within [0, 1], got %v", c.Pipeline.Budget.MaxRatio)
	}
	if c.Pipeline.MartRule.ExcludedRadio == "" {
		return fmt.Errorf("MART_EXCLUDED_RADIO is required")
	}
	return nil
}
