package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/canopy-network/ingestx/pkg/db/models/indexer"
	"github.com/canopy-network/ingestx/pkg/db/postgres/tenant"
	"github.com/canopy-network/ingestx/pkg/db/postgres/tenant/tenanttest"
	"github.com/canopy-network/ingestx/pkg/destination"
	"github.com/canopy-network/ingestx/pkg/event"
	"github.com/canopy-network/ingestx/pkg/schema"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const saleBatch = `[{
	"type": "NFT_SALE",
	"signature": "sig1",
	"timestamp": 1700000000,
	"events": {
		"nft": {"mint": "MintA"},
		"sale": {"amount": 5, "currency": "SOL", "marketplace": "MagicEden", "seller": "S1", "buyer": "B1"}
	}
}]`

type fakeRegistry struct {
	mu        sync.Mutex
	indexers  []indexer.Indexer
	conns     map[string]indexer.DatabaseConnection
	statuses  map[string]indexer.Status
	lastErr   map[string]string
	processed map[string]int64
	listErr   error
}

func newFakeRegistry(indexers ...indexer.Indexer) *fakeRegistry {
	r := &fakeRegistry{
		indexers:  indexers,
		conns:     map[string]indexer.DatabaseConnection{},
		statuses:  map[string]indexer.Status{},
		lastErr:   map[string]string{},
		processed: map[string]int64{},
	}
	for _, idx := range indexers {
		r.statuses[idx.ID] = idx.Status
		r.conns[idx.ConnectionID] = indexer.DatabaseConnection{ID: idx.ConnectionID, Host: "h", Database: "d"}
	}
	return r
}

func (r *fakeRegistry) ListActive(context.Context) ([]indexer.Indexer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []indexer.Indexer
	for _, idx := range r.indexers {
		if r.statuses[idx.ID] == indexer.StatusActive {
			out = append(out, idx)
		}
	}
	return out, nil
}

func (r *fakeRegistry) GetConnection(_ context.Context, id string) (*indexer.DatabaseConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return nil, errors.New("connection not found")
	}
	return &c, nil
}

func (r *fakeRegistry) SetStatus(_ context.Context, id string, status indexer.Status, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = status
	r.lastErr[id] = lastError
	return nil
}

func (r *fakeRegistry) RecordProcessed(_ context.Context, id string, n int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed[id] += n
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []indexer.StatusEvent
}

func (p *recordingPublisher) PublishStatus(_ context.Context, ev indexer.StatusEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

type fixture struct {
	registry  *fakeRegistry
	router    *Router
	publisher *recordingPublisher
	tenants   map[string]*tenanttest.Conn
	openErr   map[string]error
	mu        sync.Mutex
	opens     int
}

func newFixture(t *testing.T, indexers ...indexer.Indexer) *fixture {
	f := &fixture{
		registry:  newFakeRegistry(indexers...),
		publisher: &recordingPublisher{},
		tenants:   map[string]*tenanttest.Conn{},
		openErr:   map[string]error{},
	}
	logger := zaptest.NewLogger(t)
	manager := tenant.NewManager(logger, tenant.DefaultConfig(), func(_ context.Context, desc indexer.DatabaseConnection) (tenant.Conn, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.opens++
		if err := f.openErr[desc.ID]; err != nil {
			return nil, err
		}
		c, ok := f.tenants[desc.ID]
		if !ok {
			c = &tenanttest.Conn{}
			f.tenants[desc.ID] = c
		}
		return c, nil
	})
	t.Cleanup(manager.Close)

	f.router = NewRouter(logger, Config{Workers: 4}, f.registry, manager, destination.NewWriter(logger), f.publisher)
	t.Cleanup(f.router.Close)
	return f
}

func (f *fixture) tenant(id string) *tenanttest.Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.tenants[id]
	if !ok {
		c = &tenanttest.Conn{}
		f.tenants[id] = c
	}
	return c
}

func activeIndexer(t *testing.T, id, connID string, category indexer.Category, cfg indexer.Configuration) indexer.Indexer {
	plan, err := schema.Plan(category, nil, cfg)
	require.NoError(t, err)
	return indexer.Indexer{
		ID:            id,
		Category:      category,
		Configuration: cfg,
		Plan:          plan,
		ConnectionID:  connID,
		Status:        indexer.StatusActive,
	}
}

func decode(t *testing.T, body string) []event.Event {
	events, err := event.DecodeBytes([]byte(body))
	require.NoError(t, err)
	return events
}

func TestHandleBatchWritesMatchingRow(t *testing.T) {
	f := newFixture(t, activeIndexer(t, "prices", "conn-a", indexer.CategoryNFTPrices,
		indexer.Configuration{Collections: []string{"MintA"}}))

	summary, err := f.router.HandleBatch(context.Background(), decode(t, saleBatch))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, int64(1), summary.Rows)

	inserts := f.tenant("conn-a").Inserts()
	require.Len(t, inserts, 1)
	assert.True(t, strings.HasPrefix(inserts[0].SQL, `INSERT INTO "nft_prices"`))
	for _, want := range []any{"sig1", "MintA", "SOL", "MagicEden", "S1", "B1"} {
		assert.Contains(t, inserts[0].Args, want)
	}
	var amount decimal.Decimal
	for _, a := range inserts[0].Args {
		if d, ok := a.(decimal.Decimal); ok {
			amount = d
		}
	}
	assert.True(t, decimal.NewFromInt(5).Equal(amount))

	f.registry.mu.Lock()
	defer f.registry.mu.Unlock()
	assert.Equal(t, int64(1), f.registry.processed["prices"])
	assert.Equal(t, indexer.StatusActive, f.registry.statuses["prices"])
}

func TestHandleBatchIsolatesFailures(t *testing.T) {
	a := activeIndexer(t, "A", "conn-a", indexer.CategoryNFTPrices, indexer.Configuration{})
	b := activeIndexer(t, "B", "conn-b", indexer.CategoryNFTPrices, indexer.Configuration{})
	f := newFixture(t, a, b)
	f.tenant("conn-b").ExecErr = func(sql string) error {
		if strings.HasPrefix(sql, "INSERT") {
			return errors.New("permission denied for table nft_prices")
		}
		return nil
	}

	summary, err := f.router.HandleBatch(context.Background(), decode(t, saleBatch))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Indexers)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	f.registry.mu.Lock()
	assert.Equal(t, int64(1), f.registry.processed["A"])
	assert.Equal(t, indexer.StatusActive, f.registry.statuses["A"])
	assert.Zero(t, f.registry.processed["B"])
	assert.Equal(t, indexer.StatusError, f.registry.statuses["B"])
	assert.Contains(t, f.registry.lastErr["B"], "permission denied")
	f.registry.mu.Unlock()

	assert.Len(t, f.tenant("conn-a").Inserts(), 1)
	assert.Empty(t, f.tenant("conn-b").Inserts())
	assert.Equal(t, 1, f.tenant("conn-b").Rollbacks())

	f.publisher.mu.Lock()
	defer f.publisher.mu.Unlock()
	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, "B", f.publisher.events[0].IndexerID)
	assert.Equal(t, indexer.StatusError, f.publisher.events[0].Status)
}

func TestHandleBatchConnectionUnavailable(t *testing.T) {
	a := activeIndexer(t, "A", "conn-a", indexer.CategoryNFTPrices, indexer.Configuration{})
	b := activeIndexer(t, "B", "conn-b", indexer.CategoryNFTPrices, indexer.Configuration{})
	f := newFixture(t, a, b)
	f.openErr["conn-b"] = errors.New("dial tcp 10.0.0.9:5432: connect: connection refused")

	summary, err := f.router.HandleBatch(context.Background(), decode(t, saleBatch))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	f.registry.mu.Lock()
	defer f.registry.mu.Unlock()
	assert.Equal(t, indexer.StatusError, f.registry.statuses["B"])
	assert.Contains(t, f.registry.lastErr["B"], tenant.ErrConnectionUnavailable.Error())
	assert.Equal(t, int64(1), f.registry.processed["A"])
}

func TestHandleBatchSkipsIndexersWithoutRows(t *testing.T) {
	f := newFixture(t, activeIndexer(t, "loans", "conn-a", indexer.CategoryTokenLoans, indexer.Configuration{}))

	summary, err := f.router.HandleBatch(context.Background(), decode(t, saleBatch))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.Failed)

	f.mu.Lock()
	assert.Zero(t, f.opens)
	f.mu.Unlock()

	f.registry.mu.Lock()
	defer f.registry.mu.Unlock()
	assert.Equal(t, indexer.StatusActive, f.registry.statuses["loans"])
	assert.Zero(t, f.registry.processed["loans"])
}

func TestHandleBatchIgnoresInactiveIndexers(t *testing.T) {
	idle := activeIndexer(t, "idle", "conn-a", indexer.CategoryNFTPrices, indexer.Configuration{})
	idle.Status = indexer.StatusInactive
	f := newFixture(t, idle)

	summary, err := f.router.HandleBatch(context.Background(), decode(t, saleBatch))
	require.NoError(t, err)
	assert.Zero(t, summary.Indexers)
	assert.Empty(t, f.tenant("conn-a").Inserts())
}

func TestHandleBatchListError(t *testing.T) {
	f := newFixture(t)
	f.registry.listErr = errors.New("registry down")

	_, err := f.router.HandleBatch(context.Background(), decode(t, saleBatch))
	assert.Error(t, err)
}

func TestHandleBatchPlansLegacyIndexers(t *testing.T) {
	legacy := activeIndexer(t, "legacy", "conn-a", indexer.CategoryNFTPrices, indexer.Configuration{})
	legacy.Plan = indexer.TablePlan{}
	f := newFixture(t, legacy)

	summary, err := f.router.HandleBatch(context.Background(), decode(t, saleBatch))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.True(t, strings.HasPrefix(f.tenant("conn-a").Inserts()[0].SQL, `INSERT INTO "nft_prices"`))
}
