package ingestor

import (
	"context"

	"github.com/canopy-network/ingestx/app/ingestor/types"
	"github.com/canopy-network/ingestx/pkg/config"
	"github.com/canopy-network/ingestx/pkg/db/postgres"
	"github.com/canopy-network/ingestx/pkg/db/postgres/registry"
	"github.com/canopy-network/ingestx/pkg/db/postgres/tenant"
	"github.com/canopy-network/ingestx/pkg/destination"
	"github.com/canopy-network/ingestx/pkg/indexer"
	"github.com/canopy-network/ingestx/pkg/ingest"
	"github.com/canopy-network/ingestx/pkg/logging"
	"github.com/canopy-network/ingestx/pkg/redis"
	"github.com/canopy-network/ingestx/pkg/subscription"
	"github.com/canopy-network/ingestx/pkg/tracing"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

func Initialize(ctx context.Context) *types.App {
	cfg, cfgErr := config.Load()
	logCfg := cfg.Log
	if cfgErr != nil {
		logCfg = config.Defaults().Log
	}

	logger, err := logging.New(logCfg.Level, logCfg.Encoding, cfg.Tracing.ServiceName)
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}
	if cfgErr != nil {
		logger.Fatal("Invalid configuration", zap.Error(cfgErr))
	}

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint, cfg.Tracing.Insecure)
	if err != nil {
		logger.Fatal("Unable to initialize tracing", zap.Error(err))
	}

	registryDB, err := registry.NewWithPoolConfig(ctx, logger, cfg.Postgres.URL, cfg.Postgres.RegistryDB,
		*postgres.GetPoolConfigForComponent("registry"))
	if err != nil {
		logger.Fatal("Unable to initialize registry database", zap.Error(err))
	}

	// Redis carries status events and slot releases between replicas (optional)
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(ctx, logger, redis.Options{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			StreamMaxLen: cfg.Redis.StreamMaxLen,
		})
		if err != nil {
			logger.Warn("Failed to initialize Redis client - status events and cross-replica release disabled",
				zap.Error(err))
			redisClient = nil
		}
	} else {
		logger.Info("Redis disabled - status events will not be published")
	}

	tenantPool := postgres.GetPoolConfigForComponent("tenant")
	tenantPool.MaxConns = cfg.Tenant.MaxConns
	opener := tenant.PoolOpener(logger, tenantPool)
	manager := tenant.NewManager(logger, tenant.Config{
		ProbeTimeout:   cfg.Tenant.ProbeTimeout,
		ConnectTimeout: cfg.Tenant.ConnectTimeout,
		ReopenInterval: cfg.Tenant.ReopenInterval,
	}, opener)
	slots := types.NewSlots(manager, redisClient)

	// A nil *redis.Client must not reach the interfaces below as a non-nil value.
	var publisher interface {
		ingest.StatusPublisher
		indexer.StatusPublisher
	}
	if redisClient != nil {
		publisher = redisClient
	}

	writer := destination.NewWriter(logger)
	router := ingest.NewRouter(logger, ingest.Config{
		Workers:   cfg.Ingest.Workers,
		QueueSize: cfg.Ingest.QueueSize,
	}, registryDB, slots, writer, publisher)

	service := indexer.NewService(logger, registryDB, subscription.NewLogProvider(logger), slots, writer, publisher,
		indexer.Options{
			WebhookURL: cfg.Webhook.URL,
			AuthHeader: cfg.Webhook.AuthHeader,
		})

	return &types.App{
		Config:          cfg,
		Registry:        registryDB,
		Tenants:         manager,
		Slots:           slots,
		Router:          router,
		Indexers:        service,
		RedisClient:     redisClient,
		Cron:            cron.New(),
		Logger:          logger,
		ShutdownTracing: shutdownTracing,
	}
}
