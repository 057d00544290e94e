package registry

import (
	"context"
	"fmt"

	"github.com/canopy-network/ingestx/pkg/db/postgres"
	"go.uber.org/zap"
)

// DB is the PostgreSQL-backed registry of indexers and tenant connections.
type DB struct {
	postgres.Client
	Name string
}

var _ Store = (*DB)(nil)

// NewWithPoolConfig connects to dbURL, creates the registry database name when missing
// and ensures the registry tables exist.
func NewWithPoolConfig(ctx context.Context, logger *zap.Logger, dbURL, name string, poolConfig postgres.PoolConfig) (*DB, error) {
	client, err := postgres.New(ctx, logger.With(
		zap.String("db", name),
		zap.String("component", poolConfig.Component),
	), dbURL, name, &poolConfig)
	if err != nil {
		return nil, err
	}

	registryDB := &DB{
		Client: client,
		Name:   client.TargetDatabase,
	}

	if err := registryDB.InitializeDB(ctx); err != nil {
		registryDB.Close()
		return nil, err
	}

	return registryDB, nil
}

// InitializeDB ensures the registry tables and indices exist.
func (db *DB) InitializeDB(ctx context.Context) error {
	db.Logger.Info("Initializing registry database", zap.String("database", db.Name))

	db.Logger.Info("Initialize database_connections table", zap.String("database", db.Name))
	if err := db.initConnections(ctx); err != nil {
		return fmt.Errorf("init database_connections: %w", err)
	}

	db.Logger.Info("Initialize indexers table", zap.String("database", db.Name))
	if err := db.initIndexers(ctx); err != nil {
		return fmt.Errorf("init indexers: %w", err)
	}

	return nil
}

// DatabaseName returns the name of the registry database
func (db *DB) DatabaseName() string {
	return db.Name
}
