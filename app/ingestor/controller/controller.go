package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/canopy-network/ingestx/app/ingestor/types"
	indexermodels "github.com/canopy-network/ingestx/pkg/db/models/indexer"
	"github.com/canopy-network/ingestx/pkg/db/postgres/tenant"
	"github.com/canopy-network/ingestx/pkg/event"
	"github.com/canopy-network/ingestx/pkg/indexer"
	"github.com/canopy-network/ingestx/pkg/ingest"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// BatchHandler routes decoded webhook events.
type BatchHandler interface {
	HandleBatch(ctx context.Context, events []event.Event) (ingest.Summary, error)
}

// IndexerService is the indexer lifecycle.
type IndexerService interface {
	Get(ctx context.Context, owner, id string) (*indexermodels.Indexer, error)
	List(ctx context.Context, owner string) ([]indexermodels.Indexer, error)
	Create(ctx context.Context, owner string, in indexer.Input) (*indexermodels.Indexer, error)
	Update(ctx context.Context, owner, id string, in indexer.Input) (*indexermodels.Indexer, error)
	Activate(ctx context.Context, owner, id string) (*indexermodels.Indexer, error)
	Deactivate(ctx context.Context, owner, id string) (*indexermodels.Indexer, error)
	Delete(ctx context.Context, owner, id string) error
}

// ConnectionStore persists tenant connection descriptors.
type ConnectionStore interface {
	GetConnection(ctx context.Context, id string) (*indexermodels.DatabaseConnection, error)
	ListConnections(ctx context.Context, owner string) ([]indexermodels.DatabaseConnection, error)
	CreateConnection(ctx context.Context, c *indexermodels.DatabaseConnection) error
	UpdateConnection(ctx context.Context, c *indexermodels.DatabaseConnection) error
	// DeleteConnection fails with registry.ErrInUse while indexers reference the connection.
	DeleteConnection(ctx context.Context, id string) error
}

// SlotReleaser drops cached tenant handles.
type SlotReleaser interface {
	Release(key string)
}

// VerifyFunc checks that a descriptor reaches a live database.
type VerifyFunc func(ctx context.Context, desc indexermodels.DatabaseConnection) error

// HealthCheck reports the state of one dependency.
type HealthCheck func(ctx context.Context) error

type Controller struct {
	Logger      *zap.Logger
	Ingest      BatchHandler
	Indexers    IndexerService
	Connections ConnectionStore
	Slots       SlotReleaser
	Verify      VerifyFunc
	Checks      map[string]HealthCheck

	AdminToken   string
	JWTSecret    []byte
	WebhookAuth  string
	MaxBodyBytes int64
	BatchTimeout time.Duration
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	cfg := app.Config
	checks := map[string]HealthCheck{
		"registry": app.Registry.Ping,
	}
	if app.RedisClient != nil {
		checks["redis"] = app.RedisClient.Health
	}

	connectTimeout := cfg.Tenant.ConnectTimeout
	return &Controller{
		Logger:      app.Logger.With(zap.String("component", "controller")),
		Ingest:      app.Router,
		Indexers:    app.Indexers,
		Connections: app.Registry,
		Slots:       app.Slots,
		Verify: func(ctx context.Context, desc indexermodels.DatabaseConnection) error {
			return tenant.Verify(ctx, desc, connectTimeout)
		},
		Checks:       checks,
		AdminToken:   cfg.Server.AdminToken,
		JWTSecret:    []byte(cfg.Server.SessionSecret),
		WebhookAuth:  cfg.Webhook.AuthHeader,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		BatchTimeout: cfg.Ingest.BatchTimeout,
	}
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodPatch+", "+http.MethodDelete+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/api/health", http.HandlerFunc(c.HandleHealth)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Provider deliveries
	r.HandleFunc("/webhook", c.HandleWebhook).Methods(http.MethodPost)

	// Indexers
	r.Handle("/api/indexers", c.RequireAuth(http.HandlerFunc(c.HandleIndexersList))).Methods(http.MethodGet)
	r.Handle("/api/indexers", c.RequireAuth(http.HandlerFunc(c.HandleIndexerCreate))).Methods(http.MethodPost)
	r.Handle("/api/indexers/{id}", c.RequireAuth(http.HandlerFunc(c.HandleIndexerDetail))).Methods(http.MethodGet)
	r.Handle("/api/indexers/{id}", c.RequireAuth(http.HandlerFunc(c.HandleIndexerPatch))).Methods(http.MethodPatch)
	r.Handle("/api/indexers/{id}", c.RequireAuth(http.HandlerFunc(c.HandleIndexerDelete))).Methods(http.MethodDelete)
	r.Handle("/api/indexers/{id}/activate", c.RequireAuth(http.HandlerFunc(c.HandleIndexerActivate))).Methods(http.MethodPost)
	r.Handle("/api/indexers/{id}/deactivate", c.RequireAuth(http.HandlerFunc(c.HandleIndexerDeactivate))).Methods(http.MethodPost)

	// Tenant connections. /test must be registered before /{id}.
	r.Handle("/api/connections", c.RequireAuth(http.HandlerFunc(c.HandleConnectionsList))).Methods(http.MethodGet)
	r.Handle("/api/connections", c.RequireAuth(http.HandlerFunc(c.HandleConnectionCreate))).Methods(http.MethodPost)
	r.Handle("/api/connections/test", c.RequireAuth(http.HandlerFunc(c.HandleConnectionTest))).Methods(http.MethodPost)
	r.Handle("/api/connections/{id}", c.RequireAuth(http.HandlerFunc(c.HandleConnectionDetail))).Methods(http.MethodGet)
	r.Handle("/api/connections/{id}", c.RequireAuth(http.HandlerFunc(c.HandleConnectionPatch))).Methods(http.MethodPatch)
	r.Handle("/api/connections/{id}", c.RequireAuth(http.HandlerFunc(c.HandleConnectionDelete))).Methods(http.MethodDelete)

	// Planner preview
	r.Handle("/api/schema/{category}", c.RequireAuth(http.HandlerFunc(c.HandleSchemaPreview))).Methods(http.MethodGet, http.MethodPost)

	return r, nil
}
