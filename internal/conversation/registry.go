package conversation

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/Veraticus/tonometer/internal/metrics"
)

// Registry holds one SessionContext per user identifier.
type Registry interface {
	// Get returns the user's context, or a fresh one at StateChoosing.
	Get(ctx context.Context, userID string) (SessionContext, error)

	// Put replaces the user's context.
	Put(ctx context.Context, userID string, sc SessionContext) error

	// Reset discards the user's context.
	Reset(ctx context.Context, userID string) error
}

// MemoryRegistry keeps contexts in process memory.
// With a zero TTL entries are never evicted; otherwise a context idle for
// longer than the TTL is dropped and the user starts again at StateChoosing.
type MemoryRegistry struct {
	cache *cache.Cache
}

// NewMemoryRegistry creates an in-memory registry.
func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	if ttl <= 0 {
		return &MemoryRegistry{cache: cache.New(cache.NoExpiration, 0)}
	}
	return &MemoryRegistry{cache: cache.New(ttl, ttl)}
}

// Get implements Registry.
func (r *MemoryRegistry) Get(_ context.Context, userID string) (SessionContext, error) {
	if val, found := r.cache.Get(userID); found {
		if sc, ok := val.(SessionContext); ok {
			return sc, nil
		}
	}
	return NewSessionContext(), nil
}

// Put implements Registry.
func (r *MemoryRegistry) Put(_ context.Context, userID string, sc SessionContext) error {
	sc.UpdatedAt = time.Now()
	r.cache.Set(userID, sc, cache.DefaultExpiration)
	metrics.ActiveSessions.Set(float64(r.cache.ItemCount()))
	return nil
}

// Reset implements Registry.
func (r *MemoryRegistry) Reset(_ context.Context, userID string) error {
	r.cache.Delete(userID)
	metrics.ActiveSessions.Set(float64(r.cache.ItemCount()))
	return nil
}

// Len returns the number of tracked contexts, including expired ones not yet swept.
func (r *MemoryRegistry) Len() int {
	return r.cache.ItemCount()
}
