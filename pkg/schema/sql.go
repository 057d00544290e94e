package schema

import (
	"fmt"
	"strings"

	"github.com/canopy-network/ingestx/pkg/db/models/indexer"
	"github.com/jackc/pgx/v5"
)

// FieldSQL renders one column definition.
// Example: "\"bid_amount\" numeric"
func FieldSQL(f indexer.FieldDef) string {
	var b strings.Builder
	b.WriteString(pgx.Identifier{f.Name}.Sanitize())
	b.WriteByte(' ')
	b.WriteString(strings.TrimSpace(f.Type))
	switch {
	case f.PrimaryKey:
		b.WriteString(" PRIMARY KEY")
	case !f.Nullable:
		b.WriteString(" NOT NULL")
	}
	return b.String()
}

// CreateTableSQL renders an idempotent CREATE TABLE for plan.
func CreateTableSQL(plan indexer.TablePlan) string {
	cols := make([]string, 0, len(plan.Fields))
	for _, f := range plan.Fields {
		cols = append(cols, FieldSQL(f))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)",
		pgx.Identifier{plan.TableName}.Sanitize(),
		strings.Join(cols, ",\n\t"),
	)
}

// CreateIndexSQL renders an idempotent CREATE [UNIQUE] INDEX for idx on table.
func CreateIndexSQL(table string, idx indexer.IndexDef) string {
	cols := make([]string, 0, len(idx.Columns))
	for _, c := range idx.Columns {
		cols = append(cols, pgx.Identifier{c}.Sanitize())
	}
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		unique,
		pgx.Identifier{idx.Name}.Sanitize(),
		pgx.Identifier{table}.Sanitize(),
		strings.Join(cols, ", "),
	)
}

// ProvisionSQL returns every statement needed to provision plan, table first.
func ProvisionSQL(plan indexer.TablePlan) []string {
	stmts := make([]string, 0, 1+len(plan.Indices))
	stmts = append(stmts, CreateTableSQL(plan))
	for _, idx := range plan.Indices {
		stmts = append(stmts, CreateIndexSQL(plan.TableName, idx))
	}
	return stmts
}
