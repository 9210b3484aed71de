package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces context keys.
const DefaultRedisPrefix = "tonometer:session"

// RedisRegistry keeps contexts in Redis so an in-progress entry survives a restart.
type RedisRegistry struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisRegistry creates a Redis-backed registry. A zero ttl keeps keys forever.
func NewRedisRegistry(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisRegistry {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisRegistry{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *RedisRegistry) key(userID string) string {
	return r.prefix + ":" + userID
}

// Get implements Registry.
func (r *RedisRegistry) Get(ctx context.Context, userID string) (SessionContext, error) {
	raw, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewSessionContext(), nil
	}
	if err != nil {
		return SessionContext{}, fmt.Errorf("failed to load session: %w", err)
	}

	var sc SessionContext
	if err := json.Unmarshal(raw, &sc); err != nil || !sc.State.Valid() {
		// A context we cannot read is treated as absent; the user restarts the flow.
		return NewSessionContext(), nil
	}
	return sc, nil
}

// Put implements Registry.
func (r *RedisRegistry) Put(ctx context.Context, userID string, sc SessionContext) error {
	sc.UpdatedAt = time.Now()
	raw, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := r.client.Set(ctx, r.key(userID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Reset implements Registry.
func (r *RedisRegistry) Reset(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to reset session: %w", err)
	}
	return nil
}
