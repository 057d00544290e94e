package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/canopy-network/ingestx/pkg/db/models/indexer"
	"github.com/canopy-network/ingestx/pkg/metrics"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrConnectionUnavailable means the tenant database could not be opened or reached.
	// The transport error is wrapped alongside it.
	ErrConnectionUnavailable = errors.New("tenant connection unavailable")

	ErrManagerClosed = errors.New("tenant manager closed")
)

// Config tunes slot probing and reopening.
type Config struct {
	ProbeTimeout   time.Duration
	ConnectTimeout time.Duration
	// ReopenInterval is the minimum gap between open attempts after a failed one.
	ReopenInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		ProbeTimeout:   3 * time.Second,
		ConnectTimeout: 15 * time.Second,
		ReopenInterval: 10 * time.Second,
	}
}

type slot struct {
	mu       sync.Mutex
	conn     Conn
	limiter  *rate.Limiter
	lastUsed time.Time
	evicted  bool
	// lastErr is the most recent open failure, cleared by a successful open.
	lastErr error
}

// Manager keeps one live handle per tenant connection key. A key's slot is locked from
// Acquire until Lease.Done, so work against one tenant database is serialized while
// distinct tenants proceed in parallel.
type Manager struct {
	logger *zap.Logger
	cfg    Config
	open   Opener
	slots  *xsync.Map[string, *slot]

	closeOnce sync.Once
	closed    chan struct{}
}

func NewManager(logger *zap.Logger, cfg Config, open Opener) *Manager {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultConfig().ProbeTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	return &Manager{
		logger: logger.With(zap.String("component", "tenant_manager")),
		cfg:    cfg,
		open:   open,
		slots:  xsync.NewMap[string, *slot](),
		closed: make(chan struct{}),
	}
}

// Lease is exclusive access to one tenant handle. Done must be called exactly once.
type Lease struct {
	key  string
	conn Conn
	s    *slot
	once sync.Once
}

func (l *Lease) Key() string { return l.key }

func (l *Lease) Conn() Conn { return l.conn }

// Done releases the slot lock.
func (l *Lease) Done() {
	l.once.Do(func() {
		l.s.lastUsed = time.Now()
		l.s.mu.Unlock()
	})
}

func (m *Manager) newSlot() *slot {
	return &slot{limiter: m.newLimiter()}
}

func (m *Manager) newLimiter() *rate.Limiter {
	if m.cfg.ReopenInterval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(m.cfg.ReopenInterval), 1)
}

// Acquire returns the cached handle for desc when a liveness probe succeeds, otherwise
// evicts it and opens a fresh one. The returned lease holds the key's lock.
func (m *Manager) Acquire(ctx context.Context, desc indexer.DatabaseConnection) (*Lease, error) {
	key := desc.Key()
	if key == "" {
		return nil, fmt.Errorf("%w: descriptor has no id", ErrConnectionUnavailable)
	}

	for {
		if m.isClosed() {
			return nil, ErrManagerClosed
		}

		s, _ := m.slots.LoadOrCompute(key, func() (*slot, bool) {
			return m.newSlot(), false
		})
		s.mu.Lock()
		if s.evicted {
			// Released while we waited; pick up the replacement slot.
			s.mu.Unlock()
			continue
		}
		metrics.TenantSlots.Set(float64(m.slots.Size()))

		conn, err := m.ensure(ctx, key, s, desc)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		return &Lease{key: key, conn: conn, s: s}, nil
	}
}

// ensure runs with s.mu held.
func (m *Manager) ensure(ctx context.Context, key string, s *slot, desc indexer.DatabaseConnection) (Conn, error) {
	if s.conn != nil {
		err := m.probe(ctx, s.conn)
		if err == nil {
			return s.conn, nil
		}
		m.logger.Warn("Evicting dead tenant connection", zap.String("key", key), zap.Error(err))
		metrics.TenantEvictions.WithLabelValues("probe").Inc()
		s.conn.Close()
		s.conn = nil
	}

	if !s.limiter.Allow() {
		if s.lastErr != nil {
			return nil, fmt.Errorf("%w: reopen of %s throttled after a recent failure: %w", ErrConnectionUnavailable, key, s.lastErr)
		}
		return nil, fmt.Errorf("%w: reopen of %s throttled after a recent failure", ErrConnectionUnavailable, key)
	}

	openCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	conn, err := m.open(openCtx, desc)
	if err != nil {
		metrics.TenantOpenFailures.Inc()
		m.logger.Error("Failed to open tenant connection",
			zap.String("key", key),
			zap.String("host", desc.Host),
			zap.String("database", desc.Database),
			zap.Error(err))
		s.lastErr = err
		return nil, fmt.Errorf("%w: %w", ErrConnectionUnavailable, err)
	}

	// Only failed opens count against the reopen budget.
	s.limiter = m.newLimiter()
	s.lastErr = nil
	s.conn = conn
	m.logger.Info("Opened tenant connection",
		zap.String("key", key),
		zap.String("host", desc.Host),
		zap.String("database", desc.Database))
	return conn, nil
}

func (m *Manager) probe(ctx context.Context, conn Conn) error {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()
	return conn.Ping(probeCtx)
}

// Release closes and evicts the slot for key, waiting for any lease on it to finish.
func (m *Manager) Release(key string) {
	s, ok := m.slots.LoadAndDelete(key)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m.evict(s)
	metrics.TenantEvictions.WithLabelValues("release").Inc()
	metrics.TenantSlots.Set(float64(m.slots.Size()))
	m.logger.Info("Released tenant connection", zap.String("key", key))
}

// evict runs with s.mu held.
func (m *Manager) evict(s *slot) {
	s.evicted = true
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// Sweep probes idle slots and evicts the dead ones. Busy slots are skipped.
// Returns the number of evicted slots.
func (m *Manager) Sweep(ctx context.Context) int {
	evicted := 0
	m.slots.Range(func(key string, s *slot) bool {
		if ctx.Err() != nil {
			return false
		}
		if !s.mu.TryLock() {
			return true
		}
		defer s.mu.Unlock()

		if s.evicted {
			return true
		}
		if s.conn == nil || m.probe(ctx, s.conn) != nil {
			m.slots.Delete(key)
			m.evict(s)
			evicted++
			metrics.TenantEvictions.WithLabelValues("sweep").Inc()
			m.logger.Info("Swept tenant slot", zap.String("key", key))
		}
		return true
	})
	metrics.TenantSlots.Set(float64(m.slots.Size()))
	return evicted
}

// Len returns the number of cached slots.
func (m *Manager) Len() int {
	return m.slots.Size()
}

// Close closes every slot. Acquire fails afterwards.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.closed)
		m.slots.Range(func(key string, s *slot) bool {
			m.slots.Delete(key)
			s.mu.Lock()
			m.evict(s)
			s.mu.Unlock()
			return true
		})
		metrics.TenantSlots.Set(0)
		m.logger.Info("Closed tenant connections")
	})
}

func (m *Manager) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}
