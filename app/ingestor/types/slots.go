package types

import (
	"context"
	"time"

	indexermodels "github.com/canopy-network/ingestx/pkg/db/models/indexer"
	"github.com/canopy-network/ingestx/pkg/db/postgres/tenant"
	"github.com/canopy-network/ingestx/pkg/redis"
)

// Slots releases tenant slots locally and, when Redis is configured, on every other replica.
type Slots struct {
	manager *tenant.Manager
	redis   *redis.Client
}

func NewSlots(manager *tenant.Manager, rdb *redis.Client) *Slots {
	return &Slots{manager: manager, redis: rdb}
}

func (s *Slots) Acquire(ctx context.Context, desc indexermodels.DatabaseConnection) (*tenant.Lease, error) {
	return s.manager.Acquire(ctx, desc)
}

func (s *Slots) Release(key string) {
	s.manager.Release(key)
	if s.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.redis.PublishRelease(ctx, key)
}
