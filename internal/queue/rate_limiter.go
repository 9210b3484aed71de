package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles how often one conversation may be processed.
type RateLimiter interface {
	// Allow reports whether the conversation may process a message now.
	Allow(conversationID string) bool

	// Wait blocks until the conversation may process a message.
	Wait(ctx context.Context, conversationID string) error
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// ConversationRateLimiter keeps one token bucket per conversation.
type ConversationRateLimiter struct {
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	mu       sync.Mutex
}

// NewRateLimiter allows perMinute messages per conversation with the given burst.
// A non-positive perMinute disables limiting.
func NewRateLimiter(perMinute, burst int) *ConversationRateLimiter {
	limit, burst := limits(perMinute, burst)

	return &ConversationRateLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    limit,
		burst:    burst,
	}
}

// SetLimits changes the rate for new and existing conversations.
func (rl *ConversationRateLimiter) SetLimits(perMinute, burst int) {
	limit, burst := limits(perMinute, burst)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.limit = limit
	rl.burst = burst
	now := time.Now()
	for _, entry := range rl.limiters {
		entry.limiter.SetLimitAt(now, limit)
		entry.limiter.SetBurstAt(now, burst)
	}
}

func limits(perMinute, burst int) (rate.Limit, int) {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60)
	}
	return limit, max(burst, 1)
}

// Allow implements RateLimiter.
func (rl *ConversationRateLimiter) Allow(conversationID string) bool {
	return rl.get(conversationID).Allow()
}

// Wait implements RateLimiter.
func (rl *ConversationRateLimiter) Wait(ctx context.Context, conversationID string) error {
	if err := rl.get(conversationID).Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limit on %s: %w", conversationID, err)
	}
	return nil
}

// CleanupStale forgets conversations idle for longer than maxAge.
func (rl *ConversationRateLimiter) CleanupStale(maxAge time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, entry := range rl.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(rl.limiters, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked conversations.
func (rl *ConversationRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *ConversationRateLimiter) get(conversationID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.limiters[conversationID]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[conversationID] = entry
	}
	entry.lastUsed = time.Now()
	return entry.limiter
}
