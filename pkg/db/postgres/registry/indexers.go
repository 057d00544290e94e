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

var indexerSelect = fmt.Sprintf("SELECT %s FROM %s",
	indexer.ColumnsToSelectList(indexer.IndexerColumns), indexer.IndexersTableName)

// initIndexers creates the indexers table from indexer.IndexerColumns.
func (db *DB) initIndexers(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			%s
		)
	`, indexer.IndexersTableName, indexer.ColumnsToSchemaSQL(indexer.IndexerColumns))
	if err := db.Exec(ctx, query); err != nil {
		return err
	}

	indices := []string{
		`CREATE INDEX IF NOT EXISTS indexers_status_idx ON indexers (status)`,
		`CREATE INDEX IF NOT EXISTS indexers_owner_idx ON indexers (owner)`,
		`CREATE INDEX IF NOT EXISTS indexers_connection_id_idx ON indexers (connection_id)`,
	}
	for _, q := range indices {
		if err := db.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// scanIndexer reads one row in IndexerColumns order.
func scanIndexer(row pgx.Row) (indexer.Indexer, error) {
	var (
		idx        indexer.Indexer
		category   string
		status     string
		configJSON []byte
		planJSON   []byte
	)
	err := row.Scan(
		&idx.ID,
		&idx.Name,
		&category,
		&configJSON,
		&planJSON,
		&idx.WebhookID,
		&status,
		&idx.Owner,
		&idx.ConnectionID,
		&idx.EventsProcessed,
		&idx.LastProcessedAt,
		&idx.LastError,
		&idx.CreatedAt,
		&idx.UpdatedAt,
	)
	if err != nil {
		return idx, err
	}

	idx.Category = indexer.Category(category)
	idx.Status = indexer.Status(status)
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &idx.Configuration); err != nil {
			return idx, fmt.Errorf("decode configuration of indexer %s: %w", idx.ID, err)
		}
	}
	if len(planJSON) > 0 {
		if err := json.Unmarshal(planJSON, &idx.Plan); err != nil {
			return idx, fmt.Errorf("decode table plan of indexer %s: %w", idx.ID, err)
		}
	}
	return idx, nil
}

func (db *DB) listIndexers(ctx context.Context, query string, args ...any) ([]indexer.Indexer, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []indexer.Indexer
	for rows.Next() {
		idx, err := scanIndexer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}

// ListActive returns every indexer currently in ACTIVE status.
func (db *DB) ListActive(ctx context.Context) ([]indexer.Indexer, error) {
	out, err := db.listIndexers(ctx, indexerSelect+` WHERE status = $1 ORDER BY created_at, id`, string(indexer.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to list active indexers: %w", err)
	}
	return out, nil
}

// ListIndexers returns the indexers of owner, or all indexers when owner is empty.
func (db *DB) ListIndexers(ctx context.Context, owner string) ([]indexer.Indexer, error) {
	query := indexerSelect
	var args []any
	if owner != "" {
		query += ` WHERE owner = $1`
		args = append(args, owner)
	}
	query += ` ORDER BY created_at DESC, id`

	out, err := db.listIndexers(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexers: %w", err)
	}
	return out, nil
}

// GetIndexer returns the indexer for id.
func (db *DB) GetIndexer(ctx context.Context, id string) (*indexer.Indexer, error) {
	idx, err := scanIndexer(db.QueryRow(ctx, indexerSelect+` WHERE id = $1`, id))
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, fmt.Errorf("indexer %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query indexer %s: %w", id, err)
	}
	return &idx, nil
}

// CreateIndexer inserts idx. CreatedAt and UpdatedAt are stamped when zero.
func (db *DB) CreateIndexer(ctx context.Context, idx *indexer.Indexer) error {
	now := time.Now().UTC()
	if idx.CreatedAt.IsZero() {
		idx.CreatedAt = now
	}
	idx.UpdatedAt = now
	if idx.Status == "" {
		idx.Status = indexer.StatusInactive
	}

	configJSON, err := json.Marshal(idx.Configuration)
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	planJSON, err := json.Marshal(idx.Plan)
	if err != nil {
		return fmt.Errorf("encode table plan: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, name, category, configuration, table_plan, webhook_id, status, owner,
			connection_id, events_processed, last_processed_at, last_error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, indexer.IndexersTableName)

	if err := db.Exec(ctx, query,
		idx.ID,
		idx.Name,
		string(idx.Category),
		configJSON,
		planJSON,
		idx.WebhookID,
		string(idx.Status),
		idx.Owner,
		idx.ConnectionID,
		idx.EventsProcessed,
		idx.LastProcessedAt,
		idx.LastError,
		idx.CreatedAt,
		idx.UpdatedAt,
	); err != nil {
		if postgres.IsSQLState(err, postgres.ForeignKeyViolation) {
			return fmt.Errorf("connection %s: %w", idx.ConnectionID, ErrNotFound)
		}
		return fmt.Errorf("failed to insert indexer %s: %w", idx.ID, err)
	}
	return nil
}

// UpdateIndexer persists the configuration fields of idx.
func (db *DB) UpdateIndexer(ctx context.Context, idx *indexer.Indexer) error {
	configJSON, err := json.Marshal(idx.Configuration)
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	planJSON, err := json.Marshal(idx.Plan)
	if err != nil {
		return fmt.Errorf("encode table plan: %w", err)
	}

	query := `
		UPDATE indexers
		SET name = $2, category = $3, configuration = $4, table_plan = $5,
			connection_id = $6, updated_at = NOW()
		WHERE id = $1
	`
	return db.expectOne(ctx, "indexer", idx.ID, query,
		idx.ID, idx.Name, string(idx.Category), configJSON, planJSON, idx.ConnectionID)
}

// DeleteIndexer removes the indexer record.
func (db *DB) DeleteIndexer(ctx context.Context, id string) error {
	return db.expectOne(ctx, "indexer", id, `DELETE FROM indexers WHERE id = $1`, id)
}

// SetStatus updates status and last_error in one statement.
func (db *DB) SetStatus(ctx context.Context, id string, status indexer.Status, lastError string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	query := `UPDATE indexers SET status = $2, last_error = $3, updated_at = NOW() WHERE id = $1`
	return db.expectOne(ctx, "indexer", id, query, id, string(status), lastError)
}

// SetWebhookID stores the subscription id of an indexer.
func (db *DB) SetWebhookID(ctx context.Context, id, webhookID string) error {
	query := `UPDATE indexers SET webhook_id = $2, updated_at = NOW() WHERE id = $1`
	return db.expectOne(ctx, "indexer", id, query, id, webhookID)
}

// RecordProcessed increments the counter server-side so concurrent batches never
// overwrite each other's progress.
func (db *DB) RecordProcessed(ctx context.Context, id string, n int64) error {
	query := `
		UPDATE indexers
		SET events_processed = events_processed + $2, last_processed_at = NOW()
		WHERE id = $1
	`
	return db.expectOne(ctx, "indexer", id, query, id, n)
}

// CountIndexersByConnection returns how many indexers write through connectionID.
func (db *DB) CountIndexersByConnection(ctx context.Context, connectionID string) (int, error) {
	var n int
	err := db.QueryRow(ctx, `SELECT COUNT(*) FROM indexers WHERE connection_id = $1`, connectionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count indexers for connection %s: %w", connectionID, err)
	}
	return n, nil
}

// expectOne runs a single-row statement and maps zero affected rows to ErrNotFound.
func (db *DB) expectOne(ctx context.Context, kind, id, query string, args ...any) error {
	tag, err := db.ExecTag(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s %s: %w", kind, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
