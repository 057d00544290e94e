package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/canopy-network/ingestx/pkg/db/models/indexer"
	"github.com/canopy-network/ingestx/pkg/db/postgres"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/jackc/pgx/v5"
)

var connectionSelect = fmt.Sprintf("SELECT %s FROM %s",
	indexer.ColumnsToSelectList(indexer.ConnectionColumns), indexer.ConnectionsTableName)

// initConnections creates the database_connections table.
func (db *DB) initConnections(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			%s
		)
	`, indexer.ConnectionsTableName, indexer.ColumnsToSchemaSQL(indexer.ConnectionColumns))
	return db.Exec(ctx, query)
}

func scanConnection(row pgx.Row) (indexer.DatabaseConnection, error) {
	var (
		c       indexer.DatabaseConnection
		sslJSON []byte
	)
	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Host,
		&c.Port,
		&c.Database,
		&c.Username,
		&c.Password,
		&c.SSLEnabled,
		&sslJSON,
		&c.IsActive,
		&c.Owner,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return c, err
	}
	if len(sslJSON) > 0 && string(sslJSON) != "null" {
		c.SSLConfig = &indexer.SSLConfig{}
		if err := json.Unmarshal(sslJSON, c.SSLConfig); err != nil {
			return c, fmt.Errorf("decode ssl_config of connection %s: %w", c.ID, err)
		}
	}
	return c, nil
}

// GetConnection returns the tenant connection descriptor for id.
func (db *DB) GetConnection(ctx context.Context, id string) (*indexer.DatabaseConnection, error) {
	c, err := scanConnection(db.QueryRow(ctx, connectionSelect+` WHERE id = $1`, id))
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, fmt.Errorf("connection %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query connection %s: %w", id, err)
	}
	return &c, nil
}

// ListConnections returns the connections of owner, or all when owner is empty.
func (db *DB) ListConnections(ctx context.Context, owner string) ([]indexer.DatabaseConnection, error) {
	query := connectionSelect
	var args []any
	if owner != "" {
		query += ` WHERE owner = $1`
		args = append(args, owner)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var out []indexer.DatabaseConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateConnection inserts c.
func (db *DB) CreateConnection(ctx context.Context, c *indexer.DatabaseConnection) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Port == 0 {
		c.Port = 5432
	}

	sslJSON, err := encodeSSL(c.SSLConfig)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, name, host, port, database, username, password, ssl_enabled, ssl_config,
			is_active, owner, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, indexer.ConnectionsTableName)

	if err := db.Exec(ctx, query,
		c.ID,
		c.Name,
		c.Host,
		c.Port,
		c.Database,
		c.Username,
		c.Password,
		c.SSLEnabled,
		sslJSON,
		c.IsActive,
		c.Owner,
		c.CreatedAt,
		c.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert connection %s: %w", c.ID, err)
	}
	return nil
}

// UpdateConnection replaces the connection details of c.ID. Owner and creation time are kept.
func (db *DB) UpdateConnection(ctx context.Context, c *indexer.DatabaseConnection) error {
	if c.Port == 0 {
		c.Port = 5432
	}
	sslJSON, err := encodeSSL(c.SSLConfig)
	if err != nil {
		return err
	}
	c.UpdatedAt = time.Now().UTC()

	query := fmt.Sprintf(`
		UPDATE %s
		SET name = $2, host = $3, port = $4, database = $5, username = $6, password = $7,
			ssl_enabled = $8, ssl_config = $9, is_active = $10, updated_at = $11
		WHERE id = $1
	`, indexer.ConnectionsTableName)
	return db.expectOne(ctx, "connection", c.ID, query,
		c.ID,
		c.Name,
		c.Host,
		c.Port,
		c.Database,
		c.Username,
		c.Password,
		c.SSLEnabled,
		sslJSON,
		c.IsActive,
		c.UpdatedAt,
	)
}

// DeleteConnection removes the connection record unless an indexer references it.
// The check and the delete share one transaction holding the connection row lock;
// the indexers foreign key blocks inserts against the row until it commits.
func (db *DB) DeleteConnection(ctx context.Context, id string) error {
	lock := fmt.Sprintf(`SELECT id FROM %s WHERE id = $1 FOR UPDATE`, indexer.ConnectionsTableName)
	del := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, indexer.ConnectionsTableName)

	err := db.BeginFunc(ctx, func(ctx context.Context) error {
		var locked string
		if err := db.QueryRow(ctx, lock, id).Scan(&locked); err != nil {
			if postgres.IsNoRows(err) {
				return fmt.Errorf("connection %s: %w", id, ErrNotFound)
			}
			return fmt.Errorf("failed to lock connection %s: %w", id, err)
		}

		n, err := db.CountIndexersByConnection(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("connection %s is used by %d indexer(s): %w", id, n, ErrInUse)
		}
		return db.expectOne(ctx, "connection", id, del, id)
	})
	if postgres.IsSQLState(err, postgres.ForeignKeyViolation) {
		return fmt.Errorf("connection %s: %w", id, ErrInUse)
	}
	return err
}

func encodeSSL(cfg *indexer.SSLConfig) ([]byte, error) {
	if cfg == nil {
		return nil, nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode ssl_config: %w", err)
	}
	return b, nil
}
