//go:build integration

package destination

import (
	"context"
	"testing"
	"time"

	"github.com/canopy-network/ingestx/pkg/db/models/indexer"
	"github.com/canopy-network/ingestx/pkg/db/postgres/pgtest"
	"github.com/canopy-network/ingestx/pkg/schema"
	"github.com/canopy-network/ingestx/pkg/transform"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func saleRow(id, sig, mint string, at time.Time) transform.Row {
	var r transform.Row
	r.Set(schema.ColumnID, id)
	r.Set(schema.ColumnTransactionSignature, sig)
	r.Set(schema.ColumnBlockTime, at)
	r.Set(schema.ColumnCreatedAt, at)
	r.Set("nft_address", mint)
	r.Set("sale_amount", decimal.RequireFromString("12.5"))
	return r
}

func countRows(t *testing.T, pool *pgxpool.Pool, table string) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT count(*) FROM "`+table+`"`).Scan(&n))
	return n
}

func TestWriterRedeliveryIsIdempotent(t *testing.T) {
	srv := pgtest.Start(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, srv.URL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	plan, err := schema.Plan(indexer.CategoryNFTPrices, nil, indexer.Configuration{})
	require.NoError(t, err)

	w := NewWriter(zaptest.NewLogger(t))
	require.NoError(t, w.EnsureTable(ctx, pool, plan))
	require.NoError(t, w.EnsureTable(ctx, pool, plan))

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	batch := []transform.Row{
		saleRow(uuid.NewString(), "sig1", "MintA", at),
		saleRow(uuid.NewString(), "sig2", "MintB", at),
	}

	n, err := w.Write(ctx, pool, plan.TableName, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.Equal(t, 2, countRows(t, pool, plan.TableName))

	n, err = w.Write(ctx, pool, plan.TableName, batch)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, countRows(t, pool, plan.TableName))

	// a redelivered event gets a fresh id; the signature and mint still collide
	n, err = w.Write(ctx, pool, plan.TableName, []transform.Row{saleRow(uuid.NewString(), "sig1", "MintA", at)})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, countRows(t, pool, plan.TableName))
}
