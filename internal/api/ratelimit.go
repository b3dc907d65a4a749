// ratelimit.go - Per-account request rate limiting.
package api

import (
	"sync"
	"time"
)

// rateLimiter implements a simple token bucket.
type rateLimiter struct {
	mu           sync.Mutex
	tokens       int
	maxTokens    int
	refillRate   int
	lastRefill   time.Time
	refillPeriod time.Duration
}

func newRateLimiter(maxTokens, refillRate int, refillPeriod time.Duration) *rateLimiter {
	return &rateLimiter{
		tokens:       maxTokens,
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		lastRefill:   time.Now(),
		refillPeriod: refillPeriod,
	}
}

// allow consumes a token when one is available.
func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	refillCount := int(now.Sub(rl.lastRefill) / rl.refillPeriod)
	if refillCount > 0 {
		rl.tokens += refillCount * rl.refillRate
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = now
	}

	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// AccountRateLimiter manages one token bucket per acting account.
type AccountRateLimiter struct {
	mu           sync.RWMutex
	limiters     map[string]*rateLimiter
	maxTokens    int
	refillRate   int
	refillPeriod time.Duration
}

// NewAccountRateLimiter creates a per-account rate limiter. Each account gets
// its own bucket of maxTokens, refilled by refillRate every refillPeriod.
func NewAccountRateLimiter(maxTokens, refillRate int, refillPeriod time.Duration) *AccountRateLimiter {
	return &AccountRateLimiter{
		limiters:     make(map[string]*rateLimiter),
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		refillPeriod: refillPeriod,
	}
}

// Allow checks whether a request from the given account may proceed.
func (arl *AccountRateLimiter) Allow(account string) bool {
	arl.mu.Lock()
	limiter, exists := arl.limiters[account]
	if !exists {
		limiter = newRateLimiter(arl.maxTokens, arl.refillRate, arl.refillPeriod)
		arl.limiters[account] = limiter
	}
	arl.mu.Unlock()

	return limiter.allow()
}

// Tokens returns the remaining tokens for an account.
func (arl *AccountRateLimiter) Tokens(account string) int {
	arl.mu.RLock()
	limiter, exists := arl.limiters[account]
	arl.mu.RUnlock()
	if !exists {
		return arl.maxTokens
	}
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	return limiter.tokens
}
