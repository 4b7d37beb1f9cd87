package cache

import (
	"sync"
	"time"
)

type entry struct {
	v   any
	exp time.Time
}

// TTLCache is an in-process map with per-entry expiry and a size bound.
// Expired entries are dropped lazily on read or when the bound is hit.
type TTLCache struct {
	mu      sync.RWMutex
	m       map[string]entry
	maxSize int
	now     func() time.Time
}

func NewTTLCache(maxSize int) *TTLCache {
	return &TTLCache{m: make(map[string]entry), maxSize: maxSize, now: time.Now}
}

func (c *TTLCache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.exp.IsZero() && c.now().After(e.exp) {
		c.mu.Lock()
		delete(c.m, key)
		c.mu.Unlock()
		return nil, false
	}
	return e.v, true
}

func (c *TTLCache) Set(key string, v any, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.m[key]; !exists && c.maxSize > 0 && len(c.m) >= c.maxSize {
		c.evictLocked()
	}
	c.m[key] = entry{v: v, exp: exp}
}

func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// evictLocked removes expired entries, or the entry closest to expiry when none are.
func (c *TTLCache) evictLocked() {
	now := c.now()
	var victim string
	var victimExp time.Time
	for k, e := range c.m {
		if !e.exp.IsZero() && now.After(e.exp) {
			delete(c.m, k)
			continue
		}
		if victim == "" || (!e.exp.IsZero() && (victimExp.IsZero() || e.exp.Before(victimExp))) {
			victim, victimExp = k, e.exp
		}
	}
	if len(c.m) >= c.maxSize && victim != "" {
		delete(c.m, victim)
	}
}

func (c *TTLCache) GetBytes(key string) ([]byte, bool, error) {
	v, ok := c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	return b, ok, nil
}

func (c *TTLCache) SetBytes(key string, value []byte, ttl time.Duration) error {
	c.Set(key, value, ttl)
	return nil
}

var _ BytesCache = (*TTLCache)(nil)
