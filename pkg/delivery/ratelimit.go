package delivery

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterRegistry holds one token bucket per endpoint, created lazily
// at the endpoint's configured rate with burst equal to the rate.
type RateLimiterRegistry struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiterRegistry creates an empty registry.
func NewRateLimiterRegistry() *RateLimiterRegistry {
	return &RateLimiterRegistry{limiters: make(map[string]*rate.Limiter)}
}

func (r *RateLimiterRegistry) limiter(endpointID string, perSecond int) *rate.Limiter {
	r.mu.RLock()
	l, ok := r.limiters[endpointID]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok = r.limiters[endpointID]; ok {
		return l
	}
	if perSecond <= 0 {
		perSecond = 1
	}
	l = rate.NewLimiter(rate.Limit(perSecond), perSecond)
	r.limiters[endpointID] = l
	return l
}

// Wait blocks, cooperatively, until a token is available for endpointID.
func (r *RateLimiterRegistry) Wait(ctx context.Context, endpointID string, perSecond int) error {
	return r.limiter(endpointID, perSecond).Wait(ctx)
}
