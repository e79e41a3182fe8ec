package core

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const visitorTTL = 30 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per user.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// NewRateLimiter allows perMinute requests per user with the given burst.
// perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute float64, burst int) *RateLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(perMinute / 60)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    limit,
		burst:    burst,
		now:      time.Now,
	}
}

func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, exists := rl.visitors[userID]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[userID] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// StartCleanup drops idle users every minute until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanupStaleVisitors()
			}
		}
	}()
}

func (rl *RateLimiter) cleanupStaleVisitors() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-visitorTTL)
	for id, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, id)
		}
	}
}
