package indexer

import "time"

const IndexersTableName = "indexers"

// Status is the lifecycle state of an indexer.
type Status string

const (
	// StatusInactive is the initial state; the indexer receives no events.
	StatusInactive Status = "INACTIVE"
	// StatusActive indexers are eligible for event processing.
	StatusActive Status = "ACTIVE"
	// StatusPaused is held only while a reconfiguration is being applied.
	StatusPaused Status = "PAUSED"
	// StatusError follows a processing failure and requires operator action.
	StatusError Status = "ERROR"
)

func (s Status) Valid() bool {
	switch s {
	case StatusInactive, StatusActive, StatusPaused, StatusError:
		return true
	}
	return false
}

// IndexerColumns defines the schema for the indexers table.
var IndexerColumns = []ColumnDef{
	{Name: "id", Type: "TEXT", Constraint: "PRIMARY KEY"},
	{Name: "name", Type: "TEXT", Constraint: "NOT NULL"},
	{Name: "category", Type: "TEXT", Constraint: "NOT NULL"},
	{Name: "configuration", Type: "JSONB", Constraint: "NOT NULL DEFAULT '{}'"},
	{Name: "table_plan", Type: "JSONB", Constraint: "NOT NULL"},
	{Name: "webhook_id", Type: "TEXT", Constraint: "NOT NULL DEFAULT ''"},
	{Name: "status", Type: "TEXT", Constraint: "NOT NULL DEFAULT 'INACTIVE'"},
	{Name: "owner", Type: "TEXT", Constraint: "NOT NULL DEFAULT ''"},
	{Name: "connection_id", Type: "TEXT", Constraint: "NOT NULL REFERENCES " + ConnectionsTableName + " (id)"},
	{Name: "events_processed", Type: "BIGINT", Constraint: "NOT NULL DEFAULT 0"},
	{Name: "last_processed_at", Type: "TIMESTAMPTZ"},
	{Name: "last_error", Type: "TEXT", Constraint: "NOT NULL DEFAULT ''"},
	{Name: "created_at", Type: "TIMESTAMPTZ", Constraint: "NOT NULL DEFAULT NOW()"},
	{Name: "updated_at", Type: "TIMESTAMPTZ", Constraint: "NOT NULL DEFAULT NOW()"},
}

// Indexer pairs an event category and filter with a destination table in a tenant database.
type Indexer struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Category        Category      `json:"category"`
	Configuration   Configuration `json:"configuration"`
	Plan            TablePlan     `json:"schema"`
	WebhookID       string        `json:"webhook_id,omitempty"`
	Status          Status        `json:"status"`
	Owner           string        `json:"owner,omitempty"`
	ConnectionID    string        `json:"connection_id"`
	EventsProcessed int64         `json:"events_processed"`
	LastProcessedAt *time.Time    `json:"last_processed_at,omitempty"`
	LastError       string        `json:"last_error,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// StatusEvent is published whenever an indexer changes status.
type StatusEvent struct {
	IndexerID string    `json:"indexer_id"`
	Status    Status    `json:"status"`
	LastError string    `json:"last_error,omitempty"`
	At        time.Time `json:"at"`
}
