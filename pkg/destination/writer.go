package destination

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/canopy-network/ingestx/pkg/db/models/indexer"
	"github.com/canopy-network/ingestx/pkg/db/postgres"
	"github.com/canopy-network/ingestx/pkg/schema"
	"github.com/canopy-network/ingestx/pkg/transform"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// ErrWriteFailed covers table provisioning and insert failures. The write transaction
// has been rolled back when it is returned.
var ErrWriteFailed = errors.New("destination write failed")

// duplicateTable is raised when two sessions race on CREATE TABLE IF NOT EXISTS.
const duplicateTable = "42P07"

// Conn is the part of a tenant connection the writer needs.
type Conn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Writer provisions tenant tables and inserts transformed rows.
type Writer struct {
	logger *zap.Logger
}

func NewWriter(logger *zap.Logger) *Writer {
	return &Writer{logger: logger.With(zap.String("component", "destination_writer"))}
}

// EnsureTable creates the plan's table and indices when absent. It is safe to call on
// every write cycle.
func (w *Writer) EnsureTable(ctx context.Context, conn Conn, plan indexer.TablePlan) error {
	for _, stmt := range schema.ProvisionSQL(plan) {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			if postgres.IsSQLState(err, duplicateTable, postgres.UniqueViolation) {
				w.logger.Debug("Table provisioned concurrently", zap.String("table", plan.TableName))
				continue
			}
			return fmt.Errorf("%w: provision %s: %w", ErrWriteFailed, plan.TableName, err)
		}
	}
	return nil
}

// Write inserts rows into table inside one transaction. Conflicting rows are skipped.
// It returns the number of rows actually inserted. An empty batch opens no transaction.
func (w *Writer) Write(ctx context.Context, conn Conn, table string, rows []transform.Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	var inserted int64
	statements := make(map[string]string)

	err := pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
		for i, row := range rows {
			if row.Len() == 0 {
				continue
			}
			cols := row.Columns()
			sig := strings.Join(cols, ",")
			stmt, ok := statements[sig]
			if !ok {
				stmt = InsertSQL(table, cols)
				statements[sig] = stmt
			}

			tag, err := tx.Exec(ctx, stmt, row.Values()...)
			if err != nil {
				return fmt.Errorf("insert row %d: %w", i, err)
			}
			inserted += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrWriteFailed, table, err)
	}

	w.logger.Debug("Rows written",
		zap.String("table", table),
		zap.Int("rows", len(rows)),
		zap.Int64("inserted", inserted))

	return inserted, nil
}

// InsertSQL renders a conflict-tolerant INSERT for the given columns.
func InsertSQL(table string, columns []string) string {
	cols := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = pgx.Identifier{c}.Sanitize()
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		pgx.Identifier{table}.Sanitize(),
		strings.Join(cols, ", "),
		strings.Join(params, ", "),
	)
}
