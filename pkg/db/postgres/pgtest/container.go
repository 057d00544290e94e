//go:build integration

package pgtest

import (
	"context"
	"testing"

	"github.com/canopy-network/ingestx/pkg/db/models/indexer"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

const (
	Image    = "postgres:16-alpine"
	Database = "ingestx_test"
	User     = "test"
	Password = "test"
)

// Server is a running PostgreSQL container.
type Server struct {
	URL  string
	Desc indexer.DatabaseConnection
}

// Start runs a container that is terminated when the test ends.
func Start(t *testing.T) Server {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		Image,
		tcpostgres.WithDatabase(Database),
		tcpostgres.WithUsername(User),
		tcpostgres.WithPassword(Password),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	testcontainers.CleanupContainer(t, container)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	config, err := pgxpool.ParseConfig(connStr)
	require.NoError(t, err)

	return Server{
		URL: connStr,
		Desc: indexer.DatabaseConnection{
			ID:       "tenant-" + t.Name(),
			Name:     "integration",
			Host:     config.ConnConfig.Host,
			Port:     int(config.ConnConfig.Port),
			Database: Database,
			Username: User,
			Password: Password,
			IsActive: true,
		},
	}
}
