package modelop

import (
	"sync"
	"time"
)

// tokenBucket is one tenant's admission credit pool. Refill is lazy: the
// bucket only refills when tryConsume touches it (refund does not refill),
// encoded as an explicit last-refill timestamp rather than a background
// timer (spec.md §9).
type tokenBucket struct {
	rateTokensPerSec float64
	burstTokens      float64
	tokens           float64
	lastRefill       time.Time
}

func newTokenBucketFromPolicy(policy TenantPolicy, now time.Time) *tokenBucket {
	return &tokenBucket{
		rateTokensPerSec: policy.RateTokensPerSec,
		burstTokens:      policy.BurstTokens,
		tokens:           policy.BurstTokens,
		lastRefill:       now,
	}
}

func (b *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	b.tokens = min(b.burstTokens, b.tokens+elapsed*b.rateTokensPerSec)
	b.lastRefill = now
}

func (b *tokenBucket) tryConsume(amount float64, now time.Time) bool {
	if amount <= 0 {
		return true
	}
	b.refill(now)
	if b.tokens < amount {
		return false
	}
	b.tokens -= amount
	return true
}

// refund is not a time event: it does not advance lastRefill, matching
// spec.md §4.D's rationale (full-cost charge at admission with
// refund-on-downstream-failure).
func (b *tokenBucket) refund(amount float64) {
	if amount <= 0 {
		return
	}
	b.tokens = min(b.burstTokens, b.tokens+amount)
}

// TokenRateLimiter is a per-tenant token-bucket rate limiter. One bucket is
// lazily constructed per tenant on first mention, from that tenant's
// resolved policy (see Config.PolicyFor).
type TokenRateLimiter struct {
	mu      sync.Mutex
	config  *Config
	buckets map[string]*tokenBucket
}

// NewTokenRateLimiter builds a limiter bound to config for policy lookups.
func NewTokenRateLimiter(config *Config) *TokenRateLimiter {
	return &TokenRateLimiter{
		config:  config,
		buckets: make(map[string]*tokenBucket),
	}
}

func (r *TokenRateLimiter) bucketFor(tenantID string, now time.Time) *tokenBucket {
	bucket, ok := r.buckets[tenantID]
	if !ok {
		policy := r.config.PolicyFor(tenantID)
		bucket = newTokenBucketFromPolicy(policy, now)
		r.buckets[tenantID] = bucket
	}
	return bucket
}

// TryConsume attempts to withdraw amount tokens from tenantID's bucket at
// time now. amount<=0 trivially succeeds. Unknown tenants use the default
// policy.
func (r *TokenRateLimiter) TryConsume(tenantID string, amount int, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bucketFor(tenantID, now).tryConsume(float64(amount), now)
}

// Refund returns amount tokens to tenantID's bucket, capped at burst.
// Refunding an unknown tenant (one that never consumed) is a no-op — there
// is no bucket to refund into.
func (r *TokenRateLimiter) Refund(tenantID string, amount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.buckets[tenantID]
	if !ok {
		return
	}
	bucket.refund(float64(amount))
}
