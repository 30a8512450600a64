package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Allow checks if a request is allowed under the current rate limit
	Allow() bool
	// Wait blocks until the rate limit allows another request or the
	// context is canceled
	Wait(ctx context.Context) error
	// Cooldown imposes a server-requested pause; Wait and Allow honor it
	// before resuming normal pacing
	Cooldown(d time.Duration)
	// Reset resets the rate limiter state
	Reset()
}

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	capacity      int           // Maximum number of tokens
	tokens        int           // Current number of tokens
	refillPeriod  time.Duration // Period after which bucket is refilled
	lastRefill    time.Time     // Last time the bucket was refilled
	cooldownUntil time.Time
	mu            sync.Mutex
}

// NewTokenBucket creates a new token bucket rate limiter
func NewTokenBucket(capacity int, refillPeriod time.Duration) *TokenBucket {
	return &TokenBucket{
		capacity:     capacity,
		tokens:       capacity,
		refillPeriod: refillPeriod,
		lastRefill:   time.Now(),
	}
}

// Allow checks if a request can proceed
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if time.Now().Before(tb.cooldownUntil) {
		return false
	}

	tb.refill()

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}

	return false
}

// Wait blocks until a token is available
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		cool := tb.cooldownUntil
		tb.mu.Unlock()

		if now := time.Now(); now.Before(cool) {
			if err := sleep(ctx, cool.Sub(now)); err != nil {
				return err
			}
			continue
		}

		if tb.Allow() {
			return nil
		}

		tb.mu.Lock()
		wait := tb.refillPeriod - time.Since(tb.lastRefill)
		tb.mu.Unlock()
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Cooldown pauses the bucket until the given duration has passed
func (tb *TokenBucket) Cooldown(d time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	until := time.Now().Add(d)
	if until.After(tb.cooldownUntil) {
		tb.cooldownUntil = until
	}
}

// Reset resets the token bucket to full capacity
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = tb.capacity
	tb.lastRefill = time.Now()
	tb.cooldownUntil = time.Time{}
}

// refill adds tokens based on elapsed time
func (tb *TokenBucket) refill() {
	now := time.Now()
	if now.Sub(tb.lastRefill) >= tb.refillPeriod {
		tb.tokens = tb.capacity
		tb.lastRefill = now
	}
}

// Smooth paces requests evenly using golang.org/x/time/rate and layers a
// cooldown window on top for 429 responses.
type Smooth struct {
	limiter       *rate.Limiter
	cooldownUntil time.Time
	mu            sync.Mutex
}

// NewSmooth creates a limiter allowing rps requests per second with the
// given burst.
func NewSmooth(rps float64, burst int) *Smooth {
	return &Smooth{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// PerMinute converts a requests-per-minute setting to the rps value
// NewSmooth expects.
func PerMinute(rpm int) float64 {
	return float64(rpm) / 60.0
}

// Allow checks if a request can proceed
func (s *Smooth) Allow() bool {
	s.mu.Lock()
	cool := s.cooldownUntil
	s.mu.Unlock()

	if time.Now().Before(cool) {
		return false
	}
	return s.limiter.Allow()
}

// Wait blocks until the next request is allowed
func (s *Smooth) Wait(ctx context.Context) error {
	s.mu.Lock()
	cool := s.cooldownUntil
	s.mu.Unlock()

	if now := time.Now(); now.Before(cool) {
		if err := sleep(ctx, cool.Sub(now)); err != nil {
			return err
		}
	}

	return s.limiter.Wait(ctx)
}

// Cooldown pauses all requests for the given duration
func (s *Smooth) Cooldown(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until := time.Now().Add(d)
	if until.After(s.cooldownUntil) {
		s.cooldownUntil = until
	}
}

// Reset clears any active cooldown
func (s *Smooth) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cooldownUntil = time.Time{}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
