package types

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/canopy-network/ingestx/pkg/config"
	"github.com/canopy-network/ingestx/pkg/db/postgres/registry"
	"github.com/canopy-network/ingestx/pkg/db/postgres/tenant"
	"github.com/canopy-network/ingestx/pkg/indexer"
	"github.com/canopy-network/ingestx/pkg/ingest"
	"github.com/canopy-network/ingestx/pkg/redis"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type App struct {
	Config config.Config

	// Registry database
	Registry registry.Store

	// Tenant connection slots and the cluster-wide release path
	Tenants *tenant.Manager
	Slots   *Slots

	// Ingestion
	Router   *ingest.Router
	Indexers *indexer.Service

	// Redis Client (optional, status events and slot release fan-out)
	RedisClient *redis.Client

	// Periodic tenant sweep
	Cron *cron.Cron

	// Zap Logger
	Logger *zap.Logger

	// HTTP Server
	Server *http.Server

	// ShutdownTracing flushes spans; nil when tracing is off.
	ShutdownTracing func(context.Context) error
}

// Start runs the HTTP server, the sweep schedule and the release consumer until ctx
// is cancelled, then shuts everything down.
func (a *App) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("Starting server", zap.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := a.scheduleSweep(gctx); err != nil {
		return err
	}

	if a.RedisClient != nil {
		g.Go(func() error {
			return a.consumeReleases(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.shutdown()
		return nil
	})

	err := g.Wait()
	a.Logger.Info("さようなら!")
	return err
}

func (a *App) scheduleSweep(ctx context.Context) error {
	spec := a.Config.Tenant.SweepSpec
	if spec == "" || a.Cron == nil {
		a.Logger.Info("Tenant sweep disabled")
		return nil
	}
	_, err := a.Cron.AddFunc(spec, func() {
		evicted := a.Tenants.Sweep(ctx)
		if evicted > 0 {
			a.Logger.Info("Tenant sweep evicted dead connections", zap.Int("evicted", evicted))
		}
	})
	if err != nil {
		return err
	}
	a.Cron.Start()
	a.Logger.Info("Tenant sweep scheduled", zap.String("spec", spec))
	return nil
}

// consumeReleases closes local slots that another replica released.
func (a *App) consumeReleases(ctx context.Context) error {
	tail, err := redis.NewTail(a.RedisClient, redis.ReleaseStream, a.Logger)
	if err != nil {
		return err
	}
	err = tail.Run(ctx, func(_ context.Context, e redis.Entry) error {
		if key := e.Field("key"); key != "" {
			a.Tenants.Release(key)
		}
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) shutdown() {
	a.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Server.Shutdown(shutdownCtx)

	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
	if a.Router != nil {
		a.Router.Close()
	}
	if a.Tenants != nil {
		a.Logger.Info("Closing tenant connections", zap.Int("slots", a.Tenants.Len()))
		a.Tenants.Close()
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Warn("Failed to close Redis client", zap.Error(err))
		}
	}
	if a.ShutdownTracing != nil {
		if err := a.ShutdownTracing(shutdownCtx); err != nil {
			a.Logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}
	if a.Registry != nil {
		a.Logger.Info("closing registry database connection")
		a.Registry.Close()
	}
}
