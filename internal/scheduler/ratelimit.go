package scheduler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter spaces consecutive dispatches to the same channel by at least a
// minimum interval. Different channels never block each other.
//
// State is in-memory and process-scoped; losing it on restart only relaxes
// burst spacing, never correctness.
type RateLimiter struct {
	interval time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter creates a limiter with the given per-channel minimum
// interval. A non-positive interval disables throttling.
func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	return &RateLimiter{
		interval: minInterval,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until a dispatch to the channel is permitted (or ctx is done)
// and reserves the slot.
func (l *RateLimiter) Wait(ctx context.Context, channelID string) error {
	return l.limiterFor(channelID).Wait(ctx)
}

func (l *RateLimiter) limiterFor(channelID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[channelID]
	if !ok {
		limit := rate.Inf
		if l.interval > 0 {
			limit = rate.Every(l.interval)
		}
		lim = rate.NewLimiter(limit, 1)
		l.limiters[channelID] = lim
	}
	return lim
}
