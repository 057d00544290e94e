//go:build integration

package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/canopy-network/ingestx/pkg/db/models/indexer"
	"github.com/canopy-network/ingestx/pkg/db/postgres"
	"github.com/canopy-network/ingestx/pkg/db/postgres/pgtest"
	"github.com/canopy-network/ingestx/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	srv := pgtest.Start(t)
	db, err := NewWithPoolConfig(context.Background(), zaptest.NewLogger(t), srv.URL, "ingestx_registry",
		*postgres.GetPoolConfigForComponent("registry"))
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func seedIndexer(t *testing.T, db *DB, id string) *indexer.Indexer {
	t.Helper()
	ctx := context.Background()

	conn := &indexer.DatabaseConnection{ID: "conn-1", Name: "tenant", Host: "localhost", Database: "tenant", Username: "u", IsActive: true}
	if _, err := db.GetConnection(ctx, conn.ID); err != nil {
		require.NoError(t, db.CreateConnection(ctx, conn))
	}

	cfg := indexer.Configuration{Collections: []string{"MintA"}}
	plan, err := schema.Plan(indexer.CategoryNFTPrices, nil, cfg)
	require.NoError(t, err)

	idx := &indexer.Indexer{
		ID:            id,
		Name:          "sales " + id,
		Category:      indexer.CategoryNFTPrices,
		Configuration: cfg,
		Plan:          plan,
		ConnectionID:  conn.ID,
		Owner:         "alice",
	}
	require.NoError(t, db.CreateIndexer(ctx, idx))
	return idx
}

func TestRegistryRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	created := seedIndexer(t, db, "idx-1")

	got, err := db.GetIndexer(ctx, "idx-1")
	require.NoError(t, err)
	assert.Equal(t, indexer.StatusInactive, got.Status)
	assert.Equal(t, created.Configuration, got.Configuration)
	assert.Equal(t, created.Plan, got.Plan)

	active, err := db.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, db.SetStatus(ctx, "idx-1", indexer.StatusActive, ""))
	active, err = db.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "idx-1", active[0].ID)

	require.NoError(t, db.SetStatus(ctx, "idx-1", indexer.StatusError, "boom"))
	got, err = db.GetIndexer(ctx, "idx-1")
	require.NoError(t, err)
	assert.Equal(t, indexer.StatusError, got.Status)
	assert.Equal(t, "boom", got.LastError)

	n, err := db.CountIndexersByConnection(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, db.DeleteIndexer(ctx, "idx-1"))
	_, err = db.GetIndexer(ctx, "idx-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, db.DeleteIndexer(ctx, "idx-1"), ErrNotFound)
}

func TestRecordProcessedIsAtomic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedIndexer(t, db, "idx-2")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, db.RecordProcessed(ctx, "idx-2", 3))
		}()
	}
	wg.Wait()

	got, err := db.GetIndexer(ctx, "idx-2")
	require.NoError(t, err)
	assert.Equal(t, int64(60), got.EventsProcessed)
	assert.NotNil(t, got.LastProcessedAt)
}

func TestConnectionSSLConfigRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	verify := true
	conn := &indexer.DatabaseConnection{
		ID: "conn-ssl", Name: "ssl", Host: "db", Database: "d", Username: "u", Password: "secret",
		SSLEnabled: true, SSLConfig: &indexer.SSLConfig{RejectUnauthorized: &verify, ServerName: "db.internal"},
	}
	require.NoError(t, db.CreateConnection(ctx, conn))

	got, err := db.GetConnection(ctx, "conn-ssl")
	require.NoError(t, err)
	assert.Equal(t, 5432, got.Port)
	assert.Equal(t, "secret", got.Password)
	require.NotNil(t, got.SSLConfig)
	assert.Equal(t, "db.internal", got.SSLConfig.ServerName)
	require.NotNil(t, got.SSLConfig.RejectUnauthorized)
	assert.True(t, *got.SSLConfig.RejectUnauthorized)

	_, err = db.GetConnection(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConnectionUpdateAndDelete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	conn := &indexer.DatabaseConnection{ID: "conn-2", Name: "old", Host: "db", Database: "d", Username: "u", Owner: "alice"}
	require.NoError(t, db.CreateConnection(ctx, conn))

	conn.Name = "new"
	conn.Port = 6543
	conn.Owner = "mallory"
	require.NoError(t, db.UpdateConnection(ctx, conn))

	got, err := db.GetConnection(ctx, "conn-2")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Name)
	assert.Equal(t, 6543, got.Port)
	assert.Equal(t, "alice", got.Owner)
	assert.Nil(t, got.SSLConfig)

	require.NoError(t, db.DeleteConnection(ctx, "conn-2"))
	assert.ErrorIs(t, db.DeleteConnection(ctx, "conn-2"), ErrNotFound)
	assert.ErrorIs(t, db.UpdateConnection(ctx, conn), ErrNotFound)
}

func TestConnectionDeleteRefusedWhileReferenced(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	idx := seedIndexer(t, db, "idx-1")
	assert.ErrorIs(t, db.DeleteConnection(ctx, "conn-1"), ErrInUse)
	_, err := db.GetConnection(ctx, "conn-1")
	require.NoError(t, err)

	orphan := *idx
	orphan.ID = "idx-orphan"
	orphan.ConnectionID = "missing"
	assert.ErrorIs(t, db.CreateIndexer(ctx, &orphan), ErrNotFound)

	require.NoError(t, db.DeleteIndexer(ctx, "idx-1"))
	require.NoError(t, db.DeleteConnection(ctx, "conn-1"))
	assert.ErrorIs(t, db.DeleteConnection(ctx, "conn-1"), ErrNotFound)
}

func TestConnectionDeleteRacesIndexerCreate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for round := 0; round < 10; round++ {
		conn := &indexer.DatabaseConnection{ID: "race", Name: "race", Host: "db", Database: "d", Username: "u"}
		require.NoError(t, db.CreateConnection(ctx, conn))

		idx := &indexer.Indexer{
			ID:           "idx-race",
			Name:         "race",
			Category:     indexer.CategoryCustom,
			Plan:         indexer.TablePlan{TableName: "custom_data"},
			ConnectionID: conn.ID,
		}

		var (
			wg                   sync.WaitGroup
			deleteErr, createErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			deleteErr = db.DeleteConnection(ctx, conn.ID)
		}()
		go func() {
			defer wg.Done()
			createErr = db.CreateIndexer(ctx, idx)
		}()
		wg.Wait()

		if createErr == nil {
			assert.ErrorIs(t, deleteErr, ErrInUse)
			require.NoError(t, db.DeleteIndexer(ctx, idx.ID))
			require.NoError(t, db.DeleteConnection(ctx, conn.ID))
		} else {
			assert.NoError(t, deleteErr)
			assert.ErrorIs(t, createErr, ErrNotFound)
		}
	}
}
