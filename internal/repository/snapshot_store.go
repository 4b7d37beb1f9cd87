package repository

import (
	"context"
	"errors"
	"fmt"

	domrepo "Heimdall/internal/domain/repository"
	"Heimdall/pkg/cache"
)

// DefaultSnapshotKey is where the history snapshot lives.
const DefaultSnapshotKey = "fraud_detector:history"

// CacheSnapshotStore keeps the history snapshot under a single key of a cache.Service.
// The snapshot never expires; every save overwrites the previous one.
type CacheSnapshotStore struct {
	cache cache.Service
	key   string
}

func NewCacheSnapshotStore(c cache.Service, key string) *CacheSnapshotStore {
	if key == "" {
		key = DefaultSnapshotKey
	}
	return &CacheSnapshotStore{cache: c, key: key}
}

func (s *CacheSnapshotStore) Load(ctx context.Context) ([]byte, error) {
	var b []byte
	if err := s.cache.Get(ctx, s.key, &b); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot %s: %w", s.key, err)
	}
	return b, nil
}

func (s *CacheSnapshotStore) Save(ctx context.Context, data []byte) error {
	if err := s.cache.Set(ctx, s.key, data, 0); err != nil {
		return fmt.Errorf("save snapshot %s: %w", s.key, err)
	}
	return nil
}

// Clear removes the snapshot.
func (s *CacheSnapshotStore) Clear(ctx context.Context) error {
	return s.cache.Delete(ctx, s.key)
}

var _ domrepo.SnapshotStore = (*CacheSnapshotStore)(nil)
