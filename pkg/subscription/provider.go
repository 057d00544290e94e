package subscription

import (
	"context"
	"fmt"

	"github.com/canopy-network/ingestx/pkg/db/models/indexer"
	"github.com/canopy-network/ingestx/pkg/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Request describes what an indexer wants the provider to deliver.
type Request struct {
	IndexerID        string   `json:"indexer_id"`
	WebhookURL       string   `json:"webhook_url"`
	AuthHeader       string   `json:"-"`
	AccountAddresses []string `json:"account_addresses"`
	TransactionTypes []string `json:"transaction_types"`
}

// Provider manages webhook subscriptions with the external indexing provider.
type Provider interface {
	Attach(ctx context.Context, req Request) (webhookID string, err error)
	Update(ctx context.Context, webhookID string, req Request) error
	Detach(ctx context.Context, webhookID string) error
}

// AccountAddresses returns every address the configuration mentions, deduplicated,
// in collections, tokens, marketplaces, platforms order.
func AccountAddresses(cfg indexer.Configuration) []string {
	return utils.Dedup(cfg.Collections, cfg.Tokens, cfg.Marketplaces, cfg.Platforms)
}

// NewRequest builds the subscription request of an indexer.
func NewRequest(idx indexer.Indexer, webhookURL, authHeader string) (Request, error) {
	types, err := idx.Category.TransactionTypes()
	if err != nil {
		return Request{}, err
	}
	return Request{
		IndexerID:        idx.ID,
		WebhookURL:       webhookURL,
		AuthHeader:       authHeader,
		AccountAddresses: AccountAddresses(idx.Configuration),
		TransactionTypes: types,
	}, nil
}

// LogProvider records subscription changes in the log and mints local webhook ids.
// It stands in for a provider account in development and tests.
type LogProvider struct {
	logger *zap.Logger
}

func NewLogProvider(logger *zap.Logger) *LogProvider {
	return &LogProvider{logger: logger.With(zap.String("component", "subscription"))}
}

func (p *LogProvider) Attach(_ context.Context, req Request) (string, error) {
	id := fmt.Sprintf("local-%s", uuid.NewString())
	p.logger.Info("Subscription attached",
		zap.String("indexer_id", req.IndexerID),
		zap.String("webhook_id", id),
		zap.String("webhook_url", req.WebhookURL),
		zap.Strings("account_addresses", req.AccountAddresses),
		zap.Strings("transaction_types", req.TransactionTypes))
	return id, nil
}

func (p *LogProvider) Update(_ context.Context, webhookID string, req Request) error {
	p.logger.Info("Subscription updated",
		zap.String("indexer_id", req.IndexerID),
		zap.String("webhook_id", webhookID),
		zap.Strings("account_addresses", req.AccountAddresses),
		zap.Strings("transaction_types", req.TransactionTypes))
	return nil
}

func (p *LogProvider) Detach(_ context.Context, webhookID string) error {
	p.logger.Info("Subscription detached", zap.String("webhook_id", webhookID))
	return nil
}
