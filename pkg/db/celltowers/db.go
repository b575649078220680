package celltowers

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/canopy-network/celltowers/pkg/db/clickhouse"
)

// DB owns the cell towers tables of one ClickHouse database.
type DB struct {
	clickhouse.Client
	Name string
}

// New connects to ClickHouse and ensures the database and the checkpoint table exist.
// The raw, staging and mart objects are created by the pipeline steps themselves.
func New(ctx context.Context, logger *zap.Logger, opts clickhouse.Options) (*DB, error) {
	name := clickhouse.SanitizeName(opts.Database)
	if name == "" {
		name = "default"
	}
	opts.Database = name
	if opts.Component == "" {
		opts.Component = "celltowers"
	}

	client, err := clickhouse.New(ctx, logger.With(
		zap.String("db", name),
		zap.String("component", opts.Component),
	), opts)
	if err != nil {
		return nil, err
	}

	db := &DB{
		Client: client,
		Name:   name,
	}

	if err := db.InitializeDB(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// InitializeDB ensures the database and the pipeline_runs table exist.
func (db *DB) InitializeDB(ctx context.Context) error {
	db.Logger.Info("Initializing cell towers database", zap.String("database", db.Name))

	if err := db.CreateDbIfNotExists(ctx, db.Name); err != nil {
		return fmt.Errorf("failed to create database %s: %w", db.Name, err)
	}

	db.Logger.Debug("Initialize pipeline_runs table", zap.String("database", db.Name))
	if err := db.initRuns(ctx); err != nil {
		return fmt.Errorf("failed to create pipeline_runs: %w", err)
	}

	return nil
}

// Close terminates the underlying ClickHouse connection.
func (db *DB) Close() error {
	return db.Client.Close()
}

// GetConnection returns the underlying ClickHouse driver connection.
func (db *DB) GetConnection() driver.Conn {
	return db.Db
}

// DatabaseName returns the name of the cell towers database.
func (db *DB) DatabaseName() string {
	return db.Name
}

// Ping reports whether the server still answers.
func (db *DB) Ping(ctx context.Context) error {
	return db.Db.Ping(ctx)
}
