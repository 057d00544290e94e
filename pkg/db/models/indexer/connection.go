package indexer

import "time"

const ConnectionsTableName = "database_connections"

// ConnectionColumns defines the schema for the database_connections table.
var ConnectionColumns = []ColumnDef{
	{Name: "id", Type: "TEXT", Constraint: "PRIMARY KEY"},
	{Name: "name", Type: "TEXT", Constraint: "NOT NULL"},
	{Name: "host", Type: "TEXT", Constraint: "NOT NULL"},
	{Name: "port", Type: "INTEGER", Constraint: "NOT NULL DEFAULT 5432"},
	{Name: "database", Type: "TEXT", Constraint: "NOT NULL"},
	{Name: "username", Type: "TEXT", Constraint: "NOT NULL"},
	{Name: "password", Type: "TEXT", Constraint: "NOT NULL DEFAULT ''"},
	{Name: "ssl_enabled", Type: "BOOLEAN", Constraint: "NOT NULL DEFAULT FALSE"},
	{Name: "ssl_config", Type: "JSONB"},
	{Name: "is_active", Type: "BOOLEAN", Constraint: "NOT NULL DEFAULT TRUE"},
	{Name: "owner", Type: "TEXT", Constraint: "NOT NULL DEFAULT ''"},
	{Name: "created_at", Type: "TIMESTAMPTZ", Constraint: "NOT NULL DEFAULT NOW()"},
	{Name: "updated_at", Type: "TIMESTAMPTZ", Constraint: "NOT NULL DEFAULT NOW()"},
}

// SSLConfig carries optional TLS material for a tenant database.
type SSLConfig struct {
	// RejectUnauthorized set to false disables certificate verification. Nil verifies.
	RejectUnauthorized *bool  `json:"reject_unauthorized,omitempty"`
	ServerName         string `json:"server_name,omitempty"`
	CA                 string `json:"ca,omitempty"`
	Cert               string `json:"cert,omitempty"`
	Key                string `json:"key,omitempty"`
}

// DatabaseConnection describes a tenant-owned PostgreSQL database.
type DatabaseConnection struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Host       string     `json:"host"`
	Port       int        `json:"port"`
	Database   string     `json:"database"`
	Username   string     `json:"username"`
	Password   string     `json:"password,omitempty"`
	SSLEnabled bool       `json:"ssl_enabled"`
	SSLConfig  *SSLConfig `json:"ssl_config,omitempty"`
	IsActive   bool       `json:"is_active"`
	Owner      string     `json:"owner,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Key identifies the connection slot of this descriptor.
func (c *DatabaseConnection) Key() string {
	return c.ID
}

// Redacted returns a copy safe to hand back over the API.
func (c DatabaseConnection) Redacted() DatabaseConnection {
	c.Password = ""
	if c.SSLConfig != nil {
		cfg := *c.SSLConfig
		cfg.Key = ""
		c.SSLConfig = &cfg
	}
	return c
}
