package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/canopy-network/ingestx/pkg/retry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Executor is an interface that both *pgxpool.Pool and pgx.Tx implement.
// This allows methods to work with either a connection pool or a transaction.
type Executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client wraps a PostgreSQL connection pool and provides helper methods
type Client struct {
	Logger         *zap.Logger
	Pool           *pgxpool.Pool
	TargetDatabase string
}

// PoolConfig defines connection pool settings for a specific component
type PoolConfig struct {
	MinConns        int32
	MaxConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	Component       string // For logging/debugging
}

// Apply copies the pool settings onto a parsed pgxpool config.
func (p PoolConfig) Apply(config *pgxpool.Config) {
	config.MinConns = p.MinConns
	config.MaxConns = p.MaxConns
	config.MaxConnLifetime = p.ConnMaxLifetime
	config.MaxConnIdleTime = p.ConnMaxIdleTime
}

// New connects to dbURL, creates dbName when it does not exist yet and returns a client
// whose pool targets dbName. An empty dbName keeps the database named in dbURL.
func New(ctx context.Context, logger *zap.Logger, dbURL, dbName string, poolConfig ...*PoolConfig) (client Client, err error) {
	// Add timeout to context for initial connection
	connCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	client.Logger = logger

	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return Client{}, fmt.Errorf("failed to parse postgres url: %w", err)
	}
	if dbName == "" {
		dbName = config.ConnConfig.Database
	}
	client.TargetDatabase = dbName

	poolConf := GetPoolConfigForComponent("")
	if len(poolConfig) > 0 && poolConfig[0] != nil {
		poolConf = poolConfig[0]
	}
	poolConf.Apply(config)

	// The database in the URL is only a bootstrap target when it differs from dbName.
	pool, err := connect(connCtx, logger, config, poolConf.Component)
	if err != nil {
		return Client{}, err
	}
	client.Pool = pool

	if config.ConnConfig.Database != dbName {
		if err := client.CreateDbIfNotExists(connCtx, dbName); err != nil {
			pool.Close()
			return Client{}, err
		}
		pool.Close()

		config.ConnConfig.Database = dbName
		client.Pool, err = connect(connCtx, logger, config, poolConf.Component)
		if err != nil {
			return Client{}, err
		}
	}

	logger.Info("PostgreSQL connection pool configured",
		zap.String("database", dbName),
		zap.String("component", poolConf.Component),
		zap.Int32("min_conns", poolConf.MinConns),
		zap.Int32("max_conns", poolConf.MaxConns),
		zap.Duration("conn_max_lifetime", poolConf.ConnMaxLifetime),
		zap.Duration("conn_max_idle_time", poolConf.ConnMaxIdleTime),
	)

	return client, nil
}

func connect(ctx context.Context, logger *zap.Logger, config *pgxpool.Config, component string) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	err := retry.WithBackoff(ctx, retry.DefaultConfig(), logger, "postgres_connection", func() error {
		p, openErr := pgxpool.NewWithConfig(ctx, config)
		if openErr != nil {
			return fmt.Errorf("failed to create postgres connection pool: %w", openErr)
		}

		logger.Debug("Pinging PostgreSQL connection",
			zap.String("db", config.ConnConfig.Database),
			zap.String("component", component),
		)

		if pingErr := p.Ping(ctx); pingErr != nil {
			p.Close()
			if IsSQLState(pingErr, AuthFailureCodes...) {
				return retry.Permanent(fmt.Errorf("failed to ping postgres: %w", pingErr))
			}
			return fmt.Errorf("failed to ping postgres: %w", pingErr)
		}
		pool = p
		return nil
	})
	return pool, err
}

// CreateDbIfNotExists ensures that the specified database exists by creating it if it does not already exist.
// Note: This requires connecting to a default database (like 'postgres') first.
func (c *Client) CreateDbIfNotExists(ctx context.Context, dbName string) error {
	var exists bool
	query := "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)"
	err := c.Pool.QueryRow(ctx, query, dbName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check if database exists: %w", err)
	}

	if !exists {
		// Cannot use parameterized query for CREATE DATABASE
		query := fmt.Sprintf("CREATE DATABASE %s", pgx.Identifier{dbName}.Sanitize())
		c.Logger.Info("Creating database", zap.String("database", dbName))
		_, err = c.Pool.Exec(ctx, query)
		if err != nil && !IsSQLState(err, DuplicateDatabase) {
			return fmt.Errorf("failed to create database: %w", err)
		}
	}

	return nil
}

// Exec executes a query without returning any rows
func (c *Client) Exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := c.GetExecutor(ctx).Exec(ctx, query, args...)
	return err
}

// ExecTag executes a query and returns the command tag, e.g. to inspect RowsAffected.
func (c *Client) ExecTag(ctx context.Context, query string, args ...interface{}) (pgconn.CommandTag, error) {
	return c.GetExecutor(ctx).Exec(ctx, query, args...)
}

// Query executes a query that returns rows
// IMPORTANT: Caller MUST call rows.Close() when done to release the connection
func (c *Client) Query(ctx context.Context, query string, args ...interface{}) (pgx.Rows, error) {
	return c.GetExecutor(ctx).Query(ctx, query, args...)
}

// QueryRow executes a query that is expected to return at most one row
func (c *Client) QueryRow(ctx context.Context, query string, args ...interface{}) pgx.Row {
	return c.GetExecutor(ctx).QueryRow(ctx, query, args...)
}

// BeginFunc runs fn inside a transaction. The context handed to fn carries the
// transaction, so Client helpers called with it join the transaction.
func (c *Client) BeginFunc(ctx context.Context, fn func(ctx context.Context) error) error {
	return pgx.BeginFunc(ctx, c.Pool, func(tx pgx.Tx) error {
		return fn(context.WithValue(ctx, txKey, tx))
	})
}

// Ping checks the pool can reach the server.
func (c *Client) Ping(ctx context.Context) error {
	return c.Pool.Ping(ctx)
}

// Close closes the connection pool
func (c *Client) Close() {
	c.Pool.Close()
}

// ctxKey is the type used for context keys to avoid collisions
type ctxKey string

// txKey is the context key for storing the transaction
const txKey ctxKey = "pgx_tx"

// GetExecutor returns an Executor from the context
// If a transaction is present in the context, it returns the transaction
// Otherwise, it returns the connection pool for non-transactional operations
func (c *Client) GetExecutor(ctx context.Context) Executor {
	if tx, ok := ctx.Value(txKey).(pgx.Tx); ok {
		return tx
	}
	return c.Pool
}

// IsNoRows checks if the error is a "no rows" error
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// SQLSTATE codes the services branch on.
const (
	InvalidPassword      = "28P01"
	InvalidAuthorization = "28000"
	InvalidCatalogName   = "3D000"
	DuplicateDatabase    = "42P04"
	UniqueViolation      = "23505"
	ForeignKeyViolation  = "23503"
)

// AuthFailureCodes are SQLSTATEs retrying cannot fix.
var AuthFailureCodes = []string{InvalidPassword, InvalidAuthorization, InvalidCatalogName}

// IsSQLState reports whether err carries one of the given SQLSTATE codes.
func IsSQLState(err error, codes ...string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	for _, code := range codes {
		if pgErr.Code == code {
			return true
		}
	}
	return false
}

// GetPoolConfigForComponent returns deterministic pool settings for each component
func GetPoolConfigForComponent(component string) *PoolConfig {
	var minConns, maxConns int32
	connMaxLifetime := 30 * time.Minute
	connMaxIdleTime := 5 * time.Minute

	switch component {
	case "registry":
		minConns = 2
		maxConns = 15
	case "tenant":
		// one slot per tenant; writes are serialized per slot
		minConns = 0
		maxConns = 4
	default:
		minConns = 2
		maxConns = 20
	}

	return &PoolConfig{
		MinConns:        minConns,
		MaxConns:        maxConns,
		ConnMaxLifetime: connMaxLifetime,
		ConnMaxIdleTime: connMaxIdleTime,
		Component:       component,
	}
}
