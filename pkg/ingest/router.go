package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/ingestx/pkg/db/models/indexer"
	"github.com/canopy-network/ingestx/pkg/db/postgres/tenant"
	"github.com/canopy-network/ingestx/pkg/destination"
	"github.com/canopy-network/ingestx/pkg/event"
	"github.com/canopy-network/ingestx/pkg/metrics"
	"github.com/canopy-network/ingestx/pkg/schema"
	"github.com/canopy-network/ingestx/pkg/tracing"
	"github.com/canopy-network/ingestx/pkg/transform"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelTrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Registry is the part of the indexer registry the router reads and updates.
type Registry interface {
	ListActive(ctx context.Context) ([]indexer.Indexer, error)
	GetConnection(ctx context.Context, id string) (*indexer.DatabaseConnection, error)
	SetStatus(ctx context.Context, id string, status indexer.Status, lastError string) error
	RecordProcessed(ctx context.Context, id string, n int64) error
}

// Connections hands out exclusive leases on tenant databases.
type Connections interface {
	Acquire(ctx context.Context, desc indexer.DatabaseConnection) (*tenant.Lease, error)
}

// StatusPublisher announces indexer status changes. Publishing is best effort.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, ev indexer.StatusEvent)
}

// Failure stages, used as metric labels.
const (
	StageTransform  = "transform"
	StageConnection = "connection"
	StageProvision  = "provision"
	StageWrite      = "write"
	StageCounter    = "counter"
)

// statusTimeout bounds the status write after a failure, which runs even when the
// batch context is already done.
const statusTimeout = 5 * time.Second

// Summary reports what one batch did.
type Summary struct {
	Events    int
	Indexers  int
	Succeeded int
	Skipped   int
	Failed    int
	Rows      int64
	Inserted  int64
}

type counters struct {
	succeeded, skipped, failed atomic.Int64
	rows, inserted             atomic.Int64
}

// Config sizes the worker pool shared by all batches.
type Config struct {
	Workers   int
	QueueSize int
}

// Router delivers each event batch to every active indexer. Indexers are processed
// in parallel and a failure only affects the indexer it happened in.
type Router struct {
	logger    *zap.Logger
	registry  Registry
	conns     Connections
	writer    *destination.Writer
	publisher StatusPublisher
	pool      pond.Pool
}

func NewRouter(logger *zap.Logger, cfg Config, registry Registry, conns Connections, writer *destination.Writer, publisher StatusPublisher) *Router {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4 * runtime.NumCPU()
	}
	var pool pond.Pool
	if cfg.QueueSize > 0 {
		pool = pond.NewPool(workers, pond.WithQueueSize(cfg.QueueSize))
	} else {
		pool = pond.NewPool(workers)
	}
	return &Router{
		logger:    logger.With(zap.String("component", "ingest_router")),
		registry:  registry,
		conns:     conns,
		writer:    writer,
		publisher: publisher,
		pool:      pool,
	}
}

// Close waits for in-flight indexer work and stops the pool.
func (r *Router) Close() {
	r.pool.StopAndWait()
}

// HandleBatch routes events to every ACTIVE indexer. Only a failure to list the
// indexers is returned; per-indexer failures are recorded on the indexer itself.
func (r *Router) HandleBatch(ctx context.Context, events []event.Event) (Summary, error) {
	start := time.Now()
	ctx, span := tracing.Tracer("ingest").Start(ctx, "ingest.handleBatch",
		otelTrace.WithAttributes(attribute.Int("events", len(events))),
	)
	defer span.End()
	defer func() { metrics.RouterBatchLatency.Observe(time.Since(start).Seconds()) }()

	summary := Summary{Events: len(events)}

	indexers, err := r.registry.ListActive(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return summary, fmt.Errorf("list active indexers: %w", err)
	}
	summary.Indexers = len(indexers)
	if len(indexers) == 0 || len(events) == 0 {
		summary.Skipped = len(indexers)
		return summary, nil
	}

	var c counters
	group := r.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for i := range indexers {
		idx := indexers[i]
		group.Submit(func() {
			r.process(groupCtx, idx, events, &c)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		r.logger.Warn("Ingest group encountered error", zap.Error(err))
	}

	summary.Succeeded = int(c.succeeded.Load())
	summary.Skipped = int(c.skipped.Load())
	summary.Failed = int(c.failed.Load())
	summary.Rows = c.rows.Load()
	summary.Inserted = c.inserted.Load()

	span.SetAttributes(
		attribute.Int("indexers", summary.Indexers),
		attribute.Int("failed", summary.Failed),
		attribute.Int64("rows", summary.Rows),
	)

	r.logger.Debug("Batch routed",
		zap.Int("events", summary.Events),
		zap.Int("indexers", summary.Indexers),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int64("rows", summary.Rows),
		zap.Int64("inserted", summary.Inserted),
		zap.Duration("duration", time.Since(start)))

	return summary, nil
}

// process runs transform, acquire, ensure, write and count for one indexer.
func (r *Router) process(ctx context.Context, idx indexer.Indexer, events []event.Event, c *counters) {
	start := time.Now()
	category := string(idx.Category)
	ctx, span := tracing.Tracer("ingest").Start(ctx, "ingest.processIndexer",
		otelTrace.WithAttributes(
			attribute.String("indexer_id", idx.ID),
			attribute.String("category", category),
		),
	)
	defer span.End()
	defer func() {
		metrics.RouterIndexerLatency.WithLabelValues(category).Observe(time.Since(start).Seconds())
	}()

	fail := func(stage string, err error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.failed.Add(1)
		r.markError(ctx, idx, stage, err)
	}

	defer func() {
		if p := recover(); p != nil {
			fail(StageWrite, fmt.Errorf("panic while processing indexer: %v", p))
		}
	}()

	rows, err := transform.Transform(events, idx.Category, idx.Configuration)
	if err != nil {
		if errors.Is(err, transform.ErrTransformFailure) {
			r.logger.Warn("Transform failed, treating as zero rows",
				zap.String("indexer_id", idx.ID),
				zap.String("category", category),
				zap.Error(err))
			metrics.RouterIndexerFailures.WithLabelValues(category, StageTransform).Inc()
			c.skipped.Add(1)
			return
		}
		fail(StageTransform, err)
		return
	}
	if len(rows) == 0 {
		c.skipped.Add(1)
		return
	}

	plan := idx.Plan
	if plan.TableName == "" {
		if plan, err = schema.Plan(idx.Category, nil, idx.Configuration); err != nil {
			fail(StageProvision, err)
			return
		}
	}

	desc, err := r.registry.GetConnection(ctx, idx.ConnectionID)
	if err != nil {
		fail(StageConnection, fmt.Errorf("%w: %w", tenant.ErrConnectionUnavailable, err))
		return
	}

	lease, err := r.conns.Acquire(ctx, *desc)
	if err != nil {
		fail(StageConnection, err)
		return
	}
	defer lease.Done()

	if err := r.writer.EnsureTable(ctx, lease.Conn(), plan); err != nil {
		fail(StageProvision, err)
		return
	}

	inserted, err := r.writer.Write(ctx, lease.Conn(), plan.TableName, rows)
	if err != nil {
		fail(StageWrite, err)
		return
	}

	if err := r.registry.RecordProcessed(ctx, idx.ID, int64(len(rows))); err != nil {
		fail(StageCounter, fmt.Errorf("record processed: %w", err))
		return
	}

	metrics.RouterRowsWritten.WithLabelValues(category).Add(float64(inserted))
	c.succeeded.Add(1)
	c.rows.Add(int64(len(rows)))
	c.inserted.Add(inserted)
	span.SetAttributes(attribute.Int("rows", len(rows)), attribute.Int64("inserted", inserted))
}

// markError moves the indexer to ERROR with the failure message.
func (r *Router) markError(ctx context.Context, idx indexer.Indexer, stage string, cause error) {
	metrics.RouterIndexerFailures.WithLabelValues(string(idx.Category), stage).Inc()
	r.logger.Error("Indexer processing failed",
		zap.String("indexer_id", idx.ID),
		zap.String("category", string(idx.Category)),
		zap.String("stage", stage),
		zap.Error(cause))

	statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusTimeout)
	defer cancel()

	if err := r.registry.SetStatus(statusCtx, idx.ID, indexer.StatusError, cause.Error()); err != nil {
		r.logger.Error("Failed to record indexer error",
			zap.String("indexer_id", idx.ID),
			zap.Error(err))
		return
	}

	if r.publisher != nil {
		r.publisher.PublishStatus(statusCtx, indexer.StatusEvent{
			IndexerID: idx.ID,
			Status:    indexer.StatusError,
			LastError: cause.Error(),
			At:        time.Now().UTC(),
		})
	}
}
