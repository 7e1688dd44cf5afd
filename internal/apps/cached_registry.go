package apps

import (
	"context"
	"sync"
	"time"
)

// CachedRegistry serves the last successful List of inner for ttl.
type CachedRegistry struct {
	inner Registry
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	cached    []AppInstance
	fetchedAt time.Time
}

func NewCachedRegistry(inner Registry, ttl time.Duration) *CachedRegistry {
	return &CachedRegistry{inner: inner, ttl: ttl, now: time.Now}
}

func (r *CachedRegistry) List(ctx context.Context) ([]AppInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil && r.now().Sub(r.fetchedAt) < r.ttl {
		return cloneApps(r.cached), nil
	}
	list, err := r.inner.List(ctx)
	if err != nil {
		return nil, err
	}
	r.cached = cloneApps(list)
	r.fetchedAt = r.now()
	return cloneApps(list), nil
}

// Invalidate drops the cached list.
func (r *CachedRegistry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = nil
}

func cloneApps(list []AppInstance) []AppInstance {
	out := make([]AppInstance, len(list))
	copy(out, list)
	return out
}
