package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/canopy-network/ingestx/pkg/db/models/indexer"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Channel and stream names.
const (
	// StatusChannel carries indexer status changes as JSON (Pub/Sub).
	StatusChannel = "ingestx:indexer.status"
	// StatusStream keeps a capped history of the same events.
	StatusStream = "ingestx:indexer.status.log"
	// ReleaseStream fans tenant slot releases out to every replica.
	ReleaseStream = "ingestx:tenant.release"
)

// Default stream configuration
const (
	DefaultStreamMaxLen = 10000 // Default max entries per stream
)

// Options configures the Redis connection.
type Options struct {
	Host         string
	Port         string
	Password     string
	DB           int
	StreamMaxLen int64 // Max entries per stream (0 = unlimited)
}

// Client wraps the Redis client for status notifications (Pub/Sub and Streams).
type Client struct {
	client       *redis.Client
	logger       *zap.Logger
	streamMaxLen int64
}

// NewClient connects to Redis and verifies the connection with PING.
func NewClient(ctx context.Context, logger *zap.Logger, opts Options) (*Client, error) {
	addr := fmt.Sprintf("%s:%s", opts.Host, opts.Port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,

		// Connection pool
		PoolSize:     10,
		MinIdleConns: 2,

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

	return NewFromClient(rdb, logger, opts.StreamMaxLen), nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(rdb *redis.Client, logger *zap.Logger, streamMaxLen int64) *Client {
	return &Client{
		client:       rdb,
		logger:       logger.With(zap.String("component", "redis")),
		streamMaxLen: streamMaxLen,
	}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Health checks if Redis is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Publish publishes a message to a Redis Pub/Sub channel.
// This is a best-effort operation: errors are logged, not returned.
func (c *Client) Publish(ctx context.Context, channel string, message interface{}) {
	if err := c.client.Publish(ctx, channel, message).Err(); err != nil {
		c.logger.Warn("Failed to publish Redis message",
			zap.String("channel", channel),
			zap.Error(err))
	}
}

// PublishStatus publishes ev on StatusChannel and appends it to StatusStream.
func (c *Client) PublishStatus(ctx context.Context, ev indexer.StatusEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		c.logger.Warn("Failed to encode status event", zap.String("indexer_id", ev.IndexerID), zap.Error(err))
		return
	}
	c.Publish(ctx, StatusChannel, payload)
	c.XAdd(ctx, StatusStream, map[string]interface{}{
		"indexer_id": ev.IndexerID,
		"data":       string(payload),
	})
}

// PublishRelease announces that the tenant slot key should be closed everywhere.
func (c *Client) PublishRelease(ctx context.Context, key string) {
	c.XAdd(ctx, ReleaseStream, map[string]interface{}{"key": key})
}

// XAdd adds an entry to a stream. Uses MAXLEN to cap stream size if configured.
// Returns the entry ID (e.g., "1234567890123-0"), or "" when the write failed.
// Failures are logged, not returned.
func (c *Client) XAdd(ctx context.Context, stream string, values map[string]interface{}) string {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
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

// XRead reads entries from one stream starting after lastID.
// Use "0" to read from the beginning, "$" to read only new entries.
func (c *Client) XRead(ctx context.Context, stream, lastID string, count int64, block time.Duration) ([]redis.XStream, error) {
	return c.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   count,
		Block:   block,
	}).Result()
}
