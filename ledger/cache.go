package ledger

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// CachedRegistry remembers resolved account ids. Ids never change once
// assigned, so positive answers are kept until ttl; misses are not cached.
type CachedRegistry struct {
	next  Registry
	cache *cache.Cache
	group singleflight.Group
}

// NewCachedRegistry wraps next; ttl <= 0 keeps entries forever
func NewCachedRegistry(next Registry, ttl time.Duration) *CachedRegistry {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &CachedRegistry{
		next:  next,
		cache: cache.New(ttl, 10*time.Minute),
	}
}

func (r *CachedRegistry) AccountID(ctx context.Context, addr Address) (uint32, error) {
	key := addr.Hex()
	if id, ok := r.cache.Get(key); ok {
		return id.(uint32), nil
	}
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		if id, ok := r.cache.Get(key); ok {
			return id, nil
		}
		id, err := r.next.AccountID(ctx, addr)
		if err != nil {
			return nil, err
		}
		r.cache.SetDefault(key, id)
		return id, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(uint32), nil
}

// Forget drops a cached entry
func (r *CachedRegistry) Forget(addr Address) {
	r.cache.Delete(addr.Hex())
}

func (r *CachedRegistry) Len() int {
	return r.cache.ItemCount()
}

var _ Registry = (*CachedRegistry)(nil)
var _ Registry = (*Book)(nil)
var _ Ledger = (*Book)(nil)
