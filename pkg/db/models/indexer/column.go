package indexer

import (
	"fmt"
	"strings"
)

// ColumnDef defines a single column of a registry table.
// Registry DDL and SELECT lists are both derived from these definitions.
type ColumnDef struct {
	// Name is the column name
	Name string

	// Type is the PostgreSQL data type (e.g., "TEXT", "BIGINT", "JSONB")
	Type string

	// Constraint is appended verbatim after the type (e.g., "PRIMARY KEY", "NOT NULL DEFAULT 0")
	Constraint string
}

// SQL returns the full column definition for CREATE TABLE statements.
// Example: "status TEXT NOT NULL DEFAULT 'INACTIVE'"
func (c ColumnDef) SQL() string {
	if c.Constraint != "" {
		return fmt.Sprintf("%s %s %s", c.Name, c.Type, c.Constraint)
	}
	return fmt.Sprintf("%s %s", c.Name, c.Type)
}

// Validate checks if the column definition is valid.
func (c ColumnDef) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("column name cannot be empty")
	}
	if c.Type == "" {
		return fmt.Errorf("column %s: type cannot be empty", c.Name)
	}
	return nil
}

// ColumnsToSchemaSQL converts a list of ColumnDef to a CREATE TABLE body.
func ColumnsToSchemaSQL(columns []ColumnDef) string {
	parts := make([]string, 0, len(columns))
	for _, col := range columns {
		parts = append(parts, col.SQL())
	}
	return strings.Join(parts, ",\n\t\t\t")
}

// ColumnsToNameList extracts just the column names from a list of ColumnDef.
func ColumnsToNameList(columns []ColumnDef) []string {
	names := make([]string, 0, len(columns))
	for _, col := range columns {
		names = append(names, col.Name)
	}
	return names
}

// ColumnsToSelectList joins the column names for a SELECT clause.
func ColumnsToSelectList(columns []ColumnDef) string {
	return strings.Join(ColumnsToNameList(columns), ", ")
}

// ValidateColumns returns the first validation error encountered.
func ValidateColumns(columns []ColumnDef) error {
	for _, col := range columns {
		if err := col.Validate(); err != nil {
			return err
		}
	}
	return nil
}
