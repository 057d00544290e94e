package tenant

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/canopy-network/ingestx/pkg/db/models/indexer"
	"github.com/canopy-network/ingestx/pkg/db/postgres/tenant/tenanttest"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var _ Conn = (*tenanttest.Conn)(nil)

type countingOpener struct {
	mu    sync.Mutex
	opens int
	err   error
	conns []*tenanttest.Conn
}

func (o *countingOpener) open(ctx context.Context, _ indexer.DatabaseConnection) (Conn, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if o.err != nil {
		return nil, o.err
	}
	c := &tenanttest.Conn{}
	o.conns = append(o.conns, c)
	return c, nil
}

func (o *countingOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

func newTestManager(t *testing.T, cfg Config, o *countingOpener) *Manager {
	m := NewManager(zaptest.NewLogger(t), cfg, o.open)
	t.Cleanup(m.Close)
	return m
}

func desc(id string) indexer.DatabaseConnection {
	return indexer.DatabaseConnection{ID: id, Host: "db.internal", Port: 5432, Database: "tenant", Username: "u"}
}

func TestAcquireReusesLiveConnection(t *testing.T) {
	o := &countingOpener{}
	m := newTestManager(t, DefaultConfig(), o)

	first, err := m.Acquire(context.Background(), desc("c1"))
	require.NoError(t, err)
	conn := first.Conn()
	first.Done()

	second, err := m.Acquire(context.Background(), desc("c1"))
	require.NoError(t, err)
	defer second.Done()

	assert.Same(t, conn, second.Conn())
	assert.Equal(t, 1, o.count())
	assert.Equal(t, 1, m.Len())
}

func TestAcquireEvictsDeadConnection(t *testing.T) {
	o := &countingOpener{}
	m := newTestManager(t, Config{ReopenInterval: 0}, o)

	lease, err := m.Acquire(context.Background(), desc("c1"))
	require.NoError(t, err)
	dead := lease.Conn().(*tenanttest.Conn)
	lease.Done()

	dead.SetPingErr(errors.New("connection reset"))

	lease, err = m.Acquire(context.Background(), desc("c1"))
	require.NoError(t, err)
	defer lease.Done()

	assert.NotSame(t, dead, lease.Conn())
	assert.True(t, dead.Closed())
	assert.Equal(t, 2, o.count())
}

func TestAcquireWrapsOpenFailure(t *testing.T) {
	authErr := &pgconn.PgError{Code: "28P01", Message: "password authentication failed"}
	o := &countingOpener{err: authErr}
	m := newTestManager(t, DefaultConfig(), o)

	_, err := m.Acquire(context.Background(), desc("c1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionUnavailable)

	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "28P01", pgErr.Code)
}

func TestReopenIsThrottledAfterFailure(t *testing.T) {
	o := &countingOpener{err: errors.New("dial tcp: connection refused")}
	m := newTestManager(t, Config{ReopenInterval: time.Hour}, o)

	_, err := m.Acquire(context.Background(), desc("c1"))
	require.ErrorIs(t, err, ErrConnectionUnavailable)

	_, err = m.Acquire(context.Background(), desc("c1"))
	require.ErrorIs(t, err, ErrConnectionUnavailable)
	assert.Contains(t, err.Error(), "throttled")
	assert.Equal(t, 1, o.count())

	// other tenants are unaffected
	_, err = m.Acquire(context.Background(), desc("c2"))
	require.ErrorIs(t, err, ErrConnectionUnavailable)
	assert.Equal(t, 2, o.count())
}

func TestThrottledReopenKeepsTransportError(t *testing.T) {
	authErr := &pgconn.PgError{Code: "28P01", Message: "password authentication failed"}
	o := &countingOpener{err: authErr}
	m := newTestManager(t, Config{ReopenInterval: time.Hour}, o)

	_, err := m.Acquire(context.Background(), desc("c1"))
	require.ErrorIs(t, err, ErrConnectionUnavailable)

	_, err = m.Acquire(context.Background(), desc("c1"))
	require.ErrorIs(t, err, ErrConnectionUnavailable)
	assert.Contains(t, err.Error(), "throttled")
	assert.Equal(t, 1, o.count())

	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "28P01", pgErr.Code)
	assert.ErrorIs(t, err, authErr)
}

func TestAcquireSerializesSameKey(t *testing.T) {
	o := &countingOpener{}
	m := newTestManager(t, DefaultConfig(), o)

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := m.Acquire(context.Background(), desc("shared"))
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				cur := atomic.LoadInt32(&maxActive)
				if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			lease.Done()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
	assert.Equal(t, 1, o.count())
}

func TestDistinctKeysProceedInParallel(t *testing.T) {
	o := &countingOpener{}
	m := newTestManager(t, DefaultConfig(), o)

	a, err := m.Acquire(context.Background(), desc("a"))
	require.NoError(t, err)
	defer a.Done()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b, err := m.Acquire(context.Background(), desc("b"))
		if assert.NoError(t, err) {
			b.Done()
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("acquire of a distinct key blocked")
	}
}

func TestReleaseClosesAndEvicts(t *testing.T) {
	o := &countingOpener{}
	m := newTestManager(t, DefaultConfig(), o)

	lease, err := m.Acquire(context.Background(), desc("c1"))
	require.NoError(t, err)
	conn := lease.Conn().(*tenanttest.Conn)
	lease.Done()

	m.Release("c1")
	m.Release("missing")

	assert.True(t, conn.Closed())
	assert.Equal(t, 0, m.Len())

	lease, err = m.Acquire(context.Background(), desc("c1"))
	require.NoError(t, err)
	lease.Done()
	assert.Equal(t, 2, o.count())
}

func TestSweepEvictsDeadSlots(t *testing.T) {
	o := &countingOpener{}
	m := newTestManager(t, DefaultConfig(), o)

	for _, id := range []string{"live", "dead"} {
		lease, err := m.Acquire(context.Background(), desc(id))
		require.NoError(t, err)
		if id == "dead" {
			lease.Conn().(*tenanttest.Conn).SetPingErr(errors.New("gone"))
		}
		lease.Done()
	}

	assert.Equal(t, 1, m.Sweep(context.Background()))
	assert.Equal(t, 1, m.Len())
}

func TestAcquireAfterClose(t *testing.T) {
	o := &countingOpener{}
	m := NewManager(zaptest.NewLogger(t), DefaultConfig(), o.open)

	lease, err := m.Acquire(context.Background(), desc("c1"))
	require.NoError(t, err)
	conn := lease.Conn().(*tenanttest.Conn)
	lease.Done()

	m.Close()
	assert.True(t, conn.Closed())

	_, err = m.Acquire(context.Background(), desc("c1"))
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestAcquireRequiresKey(t *testing.T) {
	m := newTestManager(t, DefaultConfig(), &countingOpener{})
	_, err := m.Acquire(context.Background(), indexer.DatabaseConnection{})
	assert.ErrorIs(t, err, ErrConnectionUnavailable)
}
