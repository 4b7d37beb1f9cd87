package cache

import (
	"context"
	"errors"
	"time"

	pkgcache "Heimdall/pkg/cache"
)

// ServiceCache exposes a pkg/cache.Service (Redis or memory) as a BytesCache.
type ServiceCache struct {
	svc     pkgcache.Service
	timeout time.Duration
}

func NewServiceCache(svc pkgcache.Service, timeout time.Duration) *ServiceCache {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &ServiceCache{svc: svc, timeout: timeout}
}

func (s *ServiceCache) GetBytes(key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var b []byte
	if err := s.svc.Get(ctx, key, &b); err != nil {
		if errors.Is(err, pkgcache.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (s *ServiceCache) SetBytes(key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.svc.Set(ctx, key, value, ttl)
}

var _ BytesCache = (*ServiceCache)(nil)
