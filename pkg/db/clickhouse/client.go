package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/canopy-network/celltowers/pkg/retry"
	"go.uber.org/zap"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

type Client struct {
	Logger   *zap.Logger
	Db       driver.Conn
	Database string
	// Cluster is the ON CLUSTER target for DDL. Empty on single-node servers.
	Cluster string
}

// Options describes how to reach the ClickHouse server.
type Options struct {
	Host     string
	Port     int
	Protocol string // "native" or "http"
	Database string
	Username string
	Password string
	Cluster  string

	DialTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Component       string // For logging/debugging
}

const (
	MergeTree          = "MergeTree"
	ReplacingMergeTree = "ReplacingMergeTree"
)

const (
	ProtocolNative = "native"
	ProtocolHTTP   = "http"
)

// Addr returns host:port.
func (o Options) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.Protocol == "" {
		o.Protocol = ProtocolNative
	}
	if o.Port == 0 {
		if o.Protocol == ProtocolHTTP {
			o.Port = 8123
		} else {
			o.Port = 9000
		}
	}
	if o.Database == "" {
		o.Database = "default"
	}
	if o.Username == "" {
		o.Username = "default"
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 30 * time.Second
	}
	// a sequential job needs very few connections
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = 4
	}
	if o.MaxIdleConns <= 0 || o.MaxIdleConns > o.MaxOpenConns {
		o.MaxIdleConns = o.MaxOpenConns
	}
	if o.ConnMaxLifetime <= 0 {
		o.ConnMaxLifetime = time.Hour
	}
	return o
}

// clickhouseOptions maps Options onto the driver options. The connection always targets the
// "default" database first; CreateDbIfNotExists + qualified table names handle the rest.
func (o Options) clickhouseOptions() *clickhouse.Options {
	opts := &clickhouse.Options{
		Addr: []string{o.Addr()},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: o.Username,
			Password: o.Password,
		},
		DialTimeout:     o.DialTimeout,
		MaxOpenConns:    o.MaxOpenConns,
		MaxIdleConns:    o.MaxIdleConns,
		ConnMaxLifetime: o.ConnMaxLifetime,
		Settings: clickhouse.Settings{
			"prefer_column_name_to_alias": 1,
		},
	}
	if strings.EqualFold(o.Protocol, ProtocolHTTP) {
		opts.Protocol = clickhouse.HTTP
		opts.Compression = &clickhouse.Compression{Method: clickhouse.CompressionGZIP}
	} else {
		opts.Protocol = clickhouse.Native
		opts.Compression = &clickhouse.Compression{Method: clickhouse.CompressionLZ4}
	}
	return opts
}

// New opens a connection to ClickHouse, retrying with backoff until the server answers a ping.
func New(ctx context.Context, logger *zap.Logger, o Options) (client Client, e error) {
	// Add timeout to context for initial connection
	connCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	o = o.withDefaults()
	client.Logger = logger
	client.Database = o.Database
	client.Cluster = o.Cluster

	options := o.clickhouseOptions()
	if logger != nil && logger.Core().Enabled(zap.DebugLevel) {
		options.Debugf = logger.Named("clickhouse.driver").Sugar().Debugf
	}

	err := retry.WithBackoff(connCtx, retry.DefaultConfig(), logger, "clickhouse_connection", func() error {
		conn, err := clickhouse.Open(options)
		if err != nil {
			return fmt.Errorf("failed to open clickhouse connection: %w", err)
		}

		client.Logger.Debug("Pinging ClickHouse connection", zap.String("addr", o.Addr()))
		if err := conn.Ping(connCtx); err != nil {
			_ = conn.Close()
			var exception *clickhouse.Exception
			// 516 = AUTHENTICATION_FAILED, nothing a retry can fix
			if errors.As(err, &exception) && exception.Code == 516 {
				return retry.Permanent(err)
			}
			return fmt.Errorf("failed to ping clickhouse: %w", err)
		}

		client.Db = conn
		client.Logger.Info("ClickHouse connection ready",
			zap.String("addr", o.Addr()),
			zap.String("protocol", o.Protocol),
			zap.String("database", o.Database),
			zap.String("component", o.Component),
			zap.Int("max_open_conns", o.MaxOpenConns),
		)
		return nil
	})
	if err != nil {
		return Client{}, err
	}

	return client, nil
}

// SanitizeName sanitizes the provided database name to be compatible with ClickHouse.
func SanitizeName(id string) string {
	s := strings.ToLower(id)
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, ".", "_")
	return s
}

// Exec Helper method to execute raw SQL queries
func (c *Client) Exec(ctx context.Context, query string, args ...interface{}) error {
	return c.Db.Exec(ctx, query, args...)
}

// QueryRow Helper method to query a single row
func (c *Client) QueryRow(ctx context.Context, query string, args ...interface{}) driver.Row {
	return c.Db.QueryRow(ctx, query, args...)
}

// Query Helper method to query multiple rows
func (c *Client) Query(ctx context.Context, query string, args ...interface{}) (driver.Rows, error) {
	return c.Db.Query(ctx, query, args...)
}

// Select Helper method to select into a slice
func (c *Client) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return c.Db.Select(ctx, dest, query, args...)
}

// PrepareBatch Helper method for batch inserts
func (c *Client) PrepareBatch(ctx context.Context, query string) (driver.Batch, error) {
	return c.Db.PrepareBatch(ctx, query)
}

// Close Helper method to close the connection
func (c *Client) Close() error {
	if c.Db == nil {
		return nil
	}
	return c.Db.Close()
}

// OnCluster returns the ON CLUSTER clause for DDL, or "" on a single node.
func (c *Client) OnCluster() string {
	if c.Cluster == "" {
		return ""
	}
	return "ON CLUSTER " + c.Cluster
}

// CreateDbIfNotExists ensures that the specified database exists by creating it if it does not already exist.
func (c *Client) CreateDbIfNotExists(ctx context.Context, dbName string) error {
	query := strings.TrimSpace(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s %s", dbName, c.OnCluster()))
	c.Logger.Info("Creating database", zap.String("database", dbName), zap.String("query", query))
	return c.Exec(ctx, query)
}

// IsNoRows Helper to check if the error is no rows
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// SelectWithFinal verify than a Select query contains a FINAL statement.
// ReplacingMergeTree tables only guarantee one row per key when read with FINAL.
func (c *Client) SelectWithFinal(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if !strings.Contains(query, "FINAL") {
		return fmt.Errorf("SelectWithFinal called but query doesn't contain FINAL keyword - ensure FINAL is placed after table name")
	}
	return c.Db.Select(ctx, dest, query, args...)
}

// TableHealthStatus represents the health status of a table
type TableHealthStatus struct {
	Database          string    `ch:"db_name"`
	Table             string    `ch:"table_name"`
	TotalRows         uint64    `ch:"total_rows"`
	CompressedBytes   uint64    `ch:"compressed_bytes"`
	UncompressedBytes uint64    `ch:"uncompressed_bytes"`
	ActiveParts       uint64    `ch:"active_parts"`
	LastModifyTime    time.Time `ch:"last_modify_time"`
}

// CompressionRatio returns uncompressed/compressed bytes, 0 for an empty table.
func (h TableHealthStatus) CompressionRatio() float64 {
	if h.CompressedBytes == 0 {
		return 0
	}
	return float64(h.UncompressedBytes) / float64(h.CompressedBytes)
}

// CheckTableHealth retrieves size, row and part metrics for a table from system.parts.
// A table without active parts reports zero values.
func (c *Client) CheckTableHealth(ctx context.Context, database, table string) (*TableHealthStatus, error) {
	query := `
		SELECT
			toString(?) AS db_name,
			toString(?) AS table_name,
			sum(rows) AS total_rows,
			sum(data_compressed_bytes) AS compressed_bytes,
			sum(data_uncompressed_bytes) AS uncompressed_bytes,
			count() AS active_parts,
			max(modification_time) AS last_modify_time
		FROM system.parts
		WHERE database = ? AND table = ? AND active = 1
	`

	var health TableHealthStatus
	err := c.QueryRow(ctx, query, database, table, database, table).ScanStruct(&health)
	if err != nil {
		return nil, fmt.Errorf("check table health for %s.%s: %w", database, table, err)
	}

	return &health, nil
}

// TableExists checks if a table exists in the database.
func (c *Client) TableExists(ctx context.Context, database, table string) (bool, error) {
	query := `
		SELECT count()
		FROM system.tables
		WHERE database = ? AND name = ?
	`

	var count uint64
	err := c.QueryRow(ctx, query, database, table).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check if table exists %s.%s: %w", database, table, err)
	}

	return count > 0, nil
}

// OptimizeTable runs OPTIMIZE TABLE to force merges. With final=true every part is merged,
// which is what collapses ReplacingMergeTree duplicates on disk.
func (c *Client) OptimizeTable(ctx context.Context, database, table string, final bool) error {
	query := strings.TrimSpace(fmt.Sprintf(`OPTIMIZE TABLE "%s"."%s" %s`, database, table, c.OnCluster()))
	if final {
		query += " FINAL"
	}

	c.Logger.Info("Optimizing table",
		zap.String("database", database),
		zap.String("table", table),
		zap.Bool("final", final))

	if err := c.Exec(ctx, query); err != nil {
		return fmt.Errorf("optimize table %s.%s: %w", database, table, err)
	}

	return nil
}
