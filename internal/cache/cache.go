package cache

import (
	"context"
	"time"

	"kalyn/backend/internal/domain"
)

// SnapshotCache holds computed available-stock snapshots keyed by store
// filter. Snapshots are invalidated on any stock write.
type SnapshotCache interface {
	Get(ctx context.Context, key string) ([]domain.AvailableStock, bool, error)
	Set(ctx context.Context, key string, value []domain.AvailableStock, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopSnapshotCache struct{}

func (NoopSnapshotCache) Get(_ context.Context, _ string) ([]domain.AvailableStock, bool, error) {
	return nil, false, nil
}

func (NoopSnapshotCache) Set(_ context.Context, _ string, _ []domain.AvailableStock, _ time.Duration) error {
	return nil
}

func (NoopSnapshotCache) Invalidate(_ context.Context) error {
	return nil
}
