package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultStreamMaxLen caps the event stream.
const DefaultStreamMaxLen = 1000

// Options describes how to reach Redis.
type Options struct {
	Host     string
	Port     int
	Password string
	DB       int

	// StreamMaxLen caps streams written by XAdd (0 = unlimited).
	StreamMaxLen int64
}

// Client wraps the Redis client used for the run lock and publication events.
type Client struct {
	client       *redis.Client
	logger       *zap.Logger
	streamMaxLen int64
}

// NewClient connects to Redis and verifies the connection with a ping.
func NewClient(ctx context.Context, logger *zap.Logger, opts Options) (*Client, error) {
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	if opts.Port == 0 {
		opts.Port = 6379
	}
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,

		// Connection pool
		PoolSize:     4,
		MinIdleConns: 1,

		// Timeouts
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", addr),
		zap.Int("db", opts.DB),
		zap.Int64("streamMaxLen", opts.StreamMaxLen))

	return &Client{
		client:       rdb,
		logger:       logger,
		streamMaxLen: opts.StreamMaxLen,
	}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// GetClient returns the underlying Redis client.
func (c *Client) GetClient() *redis.Client {
	return c.client
}

// Health checks if Redis is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Publish sends payload as JSON to a Pub/Sub channel.
// This is a best-effort operation - errors are logged but not returned.
func (c *Client) Publish(ctx context.Context, channel string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("Failed to encode Redis message", zap.String("channel", channel), zap.Error(err))
		return
	}
	if err := c.client.Publish(ctx, channel, data).Err(); err != nil {
		c.logger.Warn("Failed to publish Redis message",
			zap.String("channel", channel),
			zap.Error(err))
	}
}

// XAdd appends payload to a capped stream so late readers can catch up on past events.
// Best effort: returns the entry ID, or "" on failure.
func (c *Client) XAdd(ctx context.Context, stream string, payload any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("Failed to encode Redis stream entry", zap.String("stream", stream), zap.Error(err))
		return ""
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"data": data},
	}
	// Apply MAXLEN if configured (approximate for performance)
	if c.streamMaxLen > 0 {
		args.MaxLen = c.streamMaxLen
		args.Approx = true
	}

	id, err := c.client.XAdd(ctx, args).Result()
	if err != nil {
		c.logger.Warn("Failed to add to Redis stream",
			zap.String("stream", stream),
			zap.Error(err))
		return ""
	}
	return id
}
