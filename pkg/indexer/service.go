// Package indexer implements the indexer lifecycle: creation, reconfiguration,
// activation and removal.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	indexermodels "github.com/canopy-network/ingestx/pkg/db/models/indexer"
	"github.com/canopy-network/ingestx/pkg/db/postgres/registry"
	"github.com/canopy-network/ingestx/pkg/db/postgres/tenant"
	"github.com/canopy-network/ingestx/pkg/destination"
	"github.com/canopy-network/ingestx/pkg/schema"
	"github.com/canopy-network/ingestx/pkg/subscription"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidConfiguration is returned for input that cannot describe a working indexer.
var ErrInvalidConfiguration = errors.New("invalid indexer configuration")

// Registry is the part of the registry the lifecycle needs.
type Registry interface {
	GetIndexer(ctx context.Context, id string) (*indexermodels.Indexer, error)
	ListIndexers(ctx context.Context, owner string) ([]indexermodels.Indexer, error)
	CreateIndexer(ctx context.Context, idx *indexermodels.Indexer) error
	UpdateIndexer(ctx context.Context, idx *indexermodels.Indexer) error
	DeleteIndexer(ctx context.Context, id string) error
	SetStatus(ctx context.Context, id string, status indexermodels.Status, lastError string) error
	SetWebhookID(ctx context.Context, id, webhookID string) error
	CountIndexersByConnection(ctx context.Context, connectionID string) (int, error)
	GetConnection(ctx context.Context, id string) (*indexermodels.DatabaseConnection, error)
}

// Connections provides tenant leases for table provisioning and releases slots.
type Connections interface {
	Acquire(ctx context.Context, desc indexermodels.DatabaseConnection) (*tenant.Lease, error)
	Release(key string)
}

// StatusPublisher announces status changes. Publishing is best effort.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, ev indexermodels.StatusEvent)
}

// Input is the user-supplied definition of an indexer.
type Input struct {
	Name          string                      `json:"name"`
	Category      string                      `json:"category"`
	ConnectionID  string                      `json:"database_connection_id"`
	Configuration indexermodels.Configuration `json:"configuration"`
	CustomSchema  *indexermodels.TablePlan    `json:"custom_schema,omitempty"`
}

// Options carries the webhook endpoint handed to the provider.
type Options struct {
	WebhookURL string
	AuthHeader string
}

// Service runs the indexer state machine.
type Service struct {
	logger    *zap.Logger
	registry  Registry
	provider  subscription.Provider
	conns     Connections
	writer    *destination.Writer
	publisher StatusPublisher
	opts      Options
}

func NewService(logger *zap.Logger, registry Registry, provider subscription.Provider, conns Connections, writer *destination.Writer, publisher StatusPublisher, opts Options) *Service {
	return &Service{
		logger:    logger.With(zap.String("component", "indexer_service")),
		registry:  registry,
		provider:  provider,
		conns:     conns,
		writer:    writer,
		publisher: publisher,
		opts:      opts,
	}
}

// Get returns the indexer when owner may see it. An empty owner sees everything.
func (s *Service) Get(ctx context.Context, owner, id string) (*indexermodels.Indexer, error) {
	idx, err := s.registry.GetIndexer(ctx, id)
	if err != nil {
		return nil, err
	}
	if owner != "" && idx.Owner != owner {
		return nil, fmt.Errorf("indexer %s: %w", id, registry.ErrNotFound)
	}
	return idx, nil
}

// List returns the indexers of owner.
func (s *Service) List(ctx context.Context, owner string) ([]indexermodels.Indexer, error) {
	return s.registry.ListIndexers(ctx, owner)
}

// Create validates in, plans the destination table, stores the indexer as INACTIVE and
// provisions its table. A provisioning failure leaves the indexer in ERROR.
func (s *Service) Create(ctx context.Context, owner string, in Input) (*indexermodels.Indexer, error) {
	in.Configuration = s.normalizeTargets(in.Configuration)
	category, plan, desc, err := s.prepare(ctx, owner, in)
	if err != nil {
		return nil, err
	}

	idx := &indexermodels.Indexer{
		ID:            uuid.NewString(),
		Name:          strings.TrimSpace(in.Name),
		Category:      category,
		Configuration: in.Configuration,
		Plan:          plan,
		Status:        indexermodels.StatusInactive,
		Owner:         owner,
		ConnectionID:  desc.ID,
	}
	if err := s.registry.CreateIndexer(ctx, idx); err != nil {
		return nil, err
	}
	s.logger.Info("Indexer created",
		zap.String("indexer_id", idx.ID),
		zap.String("category", string(category)),
		zap.String("table", plan.TableName))

	if err := s.provision(ctx, *desc, plan); err != nil {
		s.setStatus(ctx, idx, indexermodels.StatusError, err.Error())
		return idx, err
	}
	return idx, nil
}

// Update replans the indexer from in. The indexer is PAUSED while the change is
// applied and returns to its prior status on success, or to ERROR on failure.
// Existing tables are not migrated.
func (s *Service) Update(ctx context.Context, owner, id string, in Input) (*indexermodels.Indexer, error) {
	idx, err := s.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	in.Configuration = s.normalizeTargets(in.Configuration)
	category, plan, desc, err := s.prepare(ctx, owner, in)
	if err != nil {
		return nil, err
	}

	prior := idx.Status
	if prior == indexermodels.StatusPaused {
		prior = indexermodels.StatusInactive
	}
	if err := s.setStatus(ctx, idx, indexermodels.StatusPaused, idx.LastError); err != nil {
		return nil, err
	}

	subscriptionChanged := category != idx.Category || !sameTargets(in.Configuration, idx.Configuration)

	idx.Name = strings.TrimSpace(in.Name)
	idx.Category = category
	idx.Configuration = in.Configuration
	idx.Plan = plan
	idx.ConnectionID = desc.ID

	if err := s.applyUpdate(ctx, idx, *desc, subscriptionChanged); err != nil {
		s.setStatus(ctx, idx, indexermodels.StatusError, err.Error())
		return nil, err
	}

	lastError := ""
	if prior == indexermodels.StatusError {
		lastError = idx.LastError
	}
	if err := s.setStatus(ctx, idx, prior, lastError); err != nil {
		return nil, err
	}
	return idx, nil
}

func (s *Service) applyUpdate(ctx context.Context, idx *indexermodels.Indexer, desc indexermodels.DatabaseConnection, subscriptionChanged bool) error {
	if subscriptionChanged && idx.WebhookID != "" {
		req, err := subscription.NewRequest(*idx, s.opts.WebhookURL, s.opts.AuthHeader)
		if err != nil {
			return err
		}
		if err := s.provider.Update(ctx, idx.WebhookID, req); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
	}
	if err := s.registry.UpdateIndexer(ctx, idx); err != nil {
		return err
	}
	return s.provision(ctx, desc, idx.Plan)
}

// Activate makes the indexer eligible for events, attaching a subscription first
// when it has none. Activating an ACTIVE indexer is a no-op.
func (s *Service) Activate(ctx context.Context, owner, id string) (*indexermodels.Indexer, error) {
	idx, err := s.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if idx.Status == indexermodels.StatusActive {
		return idx, nil
	}

	if idx.WebhookID == "" {
		req, err := subscription.NewRequest(*idx, s.opts.WebhookURL, s.opts.AuthHeader)
		if err != nil {
			return nil, err
		}
		webhookID, err := s.provider.Attach(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("attach subscription: %w", err)
		}
		if err := s.registry.SetWebhookID(ctx, idx.ID, webhookID); err != nil {
			return nil, err
		}
		idx.WebhookID = webhookID
	}

	if err := s.setStatus(ctx, idx, indexermodels.StatusActive, ""); err != nil {
		return nil, err
	}
	return idx, nil
}

// Deactivate stops event delivery to the indexer. The subscription is kept.
func (s *Service) Deactivate(ctx context.Context, owner, id string) (*indexermodels.Indexer, error) {
	idx, err := s.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if idx.Status == indexermodels.StatusInactive {
		return idx, nil
	}
	if err := s.setStatus(ctx, idx, indexermodels.StatusInactive, idx.LastError); err != nil {
		return nil, err
	}
	return idx, nil
}

// Delete detaches the subscription, removes the record and releases the tenant slot
// when no other indexer writes through the same connection.
func (s *Service) Delete(ctx context.Context, owner, id string) error {
	idx, err := s.Get(ctx, owner, id)
	if err != nil {
		return err
	}

	if idx.WebhookID != "" {
		if err := s.provider.Detach(ctx, idx.WebhookID); err != nil {
			s.logger.Warn("Failed to detach subscription",
				zap.String("indexer_id", id),
				zap.String("webhook_id", idx.WebhookID),
				zap.Error(err))
		}
	}

	if err := s.registry.DeleteIndexer(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Indexer deleted", zap.String("indexer_id", id))

	remaining, err := s.registry.CountIndexersByConnection(ctx, idx.ConnectionID)
	if err != nil {
		s.logger.Warn("Failed to count connection users", zap.String("connection_id", idx.ConnectionID), zap.Error(err))
		return nil
	}
	if remaining == 0 && s.conns != nil {
		s.conns.Release(idx.ConnectionID)
	}
	return nil
}

// Preview returns the table plan Create would store for in, without side effects.
func Preview(category string, custom *indexermodels.TablePlan, cfg indexermodels.Configuration) (indexermodels.TablePlan, error) {
	c, err := indexermodels.ParseCategory(category)
	if err != nil {
		return indexermodels.TablePlan{}, err
	}
	return schema.Plan(c, custom, cfg)
}

// prepare validates in and resolves its category, plan and connection.
func (s *Service) prepare(ctx context.Context, owner string, in Input) (indexermodels.Category, indexermodels.TablePlan, *indexermodels.DatabaseConnection, error) {
	var plan indexermodels.TablePlan
	if strings.TrimSpace(in.Name) == "" {
		return "", plan, nil, fmt.Errorf("%w: name is required", ErrInvalidConfiguration)
	}
	category, err := indexermodels.ParseCategory(in.Category)
	if err != nil {
		return "", plan, nil, err
	}
	if err := ValidateConfiguration(category, in.Configuration); err != nil {
		return "", plan, nil, err
	}

	plan, err = schema.Plan(category, in.CustomSchema, in.Configuration)
	if err != nil {
		return "", plan, nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	if in.ConnectionID == "" {
		return "", plan, nil, fmt.Errorf("%w: database_connection_id is required", ErrInvalidConfiguration)
	}
	desc, err := s.registry.GetConnection(ctx, in.ConnectionID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return "", plan, nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
		}
		return "", plan, nil, err
	}
	if owner != "" && desc.Owner != owner {
		return "", plan, nil, fmt.Errorf("%w: connection %s: %w", ErrInvalidConfiguration, in.ConnectionID, registry.ErrNotFound)
	}
	return category, plan, desc, nil
}

// ValidateConfiguration checks the custom rules of cfg.
func ValidateConfiguration(c indexermodels.Category, cfg indexermodels.Configuration) error {
	if c == indexermodels.CategoryCustom && cfg.CustomFilters != nil {
		f := cfg.CustomFilters
		if len(f.FilterValues) > 0 && strings.TrimSpace(f.FilterField) == "" {
			return fmt.Errorf("%w: customFilters.filterValues needs filterField", ErrInvalidConfiguration)
		}
		for col, path := range f.Mappings {
			if strings.TrimSpace(path) == "" {
				return fmt.Errorf("%w: customFilters.mappings.%s has an empty path", ErrInvalidConfiguration, col)
			}
		}
	}
	return nil
}

// normalizeTargets trims the address lists and drops blank entries. Entries that
// do not decode as base58 public keys are kept and logged.
func (s *Service) normalizeTargets(cfg indexermodels.Configuration) indexermodels.Configuration {
	cfg.Collections = s.cleanAddresses("collections", cfg.Collections)
	cfg.Tokens = s.cleanAddresses("tokens", cfg.Tokens)
	return cfg
}

func (s *Service) cleanAddresses(list string, addrs []string) []string {
	var out []string
	for _, addr := range addrs {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if _, err := solana.PublicKeyFromBase58(addr); err != nil {
			s.logger.Warn("Address is not a base58 public key",
				zap.String("list", list),
				zap.String("address", addr))
		}
		out = append(out, addr)
	}
	return out
}

// provision creates the planned table in the tenant database.
func (s *Service) provision(ctx context.Context, desc indexermodels.DatabaseConnection, plan indexermodels.TablePlan) error {
	if s.conns == nil || s.writer == nil {
		return nil
	}
	lease, err := s.conns.Acquire(ctx, desc)
	if err != nil {
		return err
	}
	defer lease.Done()
	return s.writer.EnsureTable(ctx, lease.Conn(), plan)
}

func (s *Service) setStatus(ctx context.Context, idx *indexermodels.Indexer, status indexermodels.Status, lastError string) error {
	if err := s.registry.SetStatus(ctx, idx.ID, status, lastError); err != nil {
		s.logger.Error("Failed to set indexer status",
			zap.String("indexer_id", idx.ID),
			zap.String("status", string(status)),
			zap.Error(err))
		return err
	}
	idx.Status = status
	idx.LastError = lastError

	if s.publisher != nil {
		s.publisher.PublishStatus(ctx, indexermodels.StatusEvent{
			IndexerID: idx.ID,
			Status:    status,
			LastError: lastError,
			At:        time.Now().UTC(),
		})
	}
	return nil
}

// sameTargets reports whether two configurations subscribe to the same addresses.
func sameTargets(a, b indexermodels.Configuration) bool {
	x, y := subscription.AccountAddresses(a), subscription.AccountAddresses(b)
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}
