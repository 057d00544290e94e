package registry

import (
	"context"
	"errors"

	"github.com/canopy-network/ingestx/pkg/db/models/indexer"
)

var (
	// ErrNotFound is returned when an indexer or connection id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInUse is returned when a connection is still referenced by indexers.
	ErrInUse = errors.New("in use")
)

// Store exposes the registry operations used by the router, the lifecycle service and the API.
type Store interface {
	Ping(ctx context.Context) error
	Close()

	// --- Indexers

	ListActive(ctx context.Context) ([]indexer.Indexer, error)
	ListIndexers(ctx context.Context, owner string) ([]indexer.Indexer, error)
	GetIndexer(ctx context.Context, id string) (*indexer.Indexer, error)
	CreateIndexer(ctx context.Context, idx *indexer.Indexer) error
	// UpdateIndexer persists the configuration fields: name, category, configuration,
	// table plan and connection. Status and counters are left untouched.
	UpdateIndexer(ctx context.Context, idx *indexer.Indexer) error
	DeleteIndexer(ctx context.Context, id string) error
	// SetStatus records status and last_error together. An empty lastError clears it.
	SetStatus(ctx context.Context, id string, status indexer.Status, lastError string) error
	SetWebhookID(ctx context.Context, id, webhookID string) error
	// RecordProcessed atomically adds n to events_processed and stamps last_processed_at.
	RecordProcessed(ctx context.Context, id string, n int64) error
	CountIndexersByConnection(ctx context.Context, connectionID string) (int, error)

	// --- Tenant connections

	GetConnection(ctx context.Context, id string) (*indexer.DatabaseConnection, error)
	ListConnections(ctx context.Context, owner string) ([]indexer.DatabaseConnection, error)
	CreateConnection(ctx context.Context, c *indexer.DatabaseConnection) error
	UpdateConnection(ctx context.Context, c *indexer.DatabaseConnection) error
	// DeleteConnection removes the connection, or fails with ErrInUse while indexers reference it.
	DeleteConnection(ctx context.Context, id string) error
}
