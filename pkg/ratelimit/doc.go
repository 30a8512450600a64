// Package ratelimit paces HTTP traffic so scans stay under Discord's and
// the CDN's limits.
//
// Two implementations of the Limiter interface are available, selected by
// the rate_limit.strategy config key:
//
// Smooth (default):
//   - Even pacing via golang.org/x/time/rate with a configurable burst
//   - Preferred for long scans since requests spread out evenly
//
// Token Bucket:
//   - Fixed capacity bucket that refills after a specified period
//   - Allows burst traffic followed by quiet periods
//
// Both honor Cooldown, which imposes a server-requested pause (a 429
// Retry-After) on top of normal pacing. Wait blocks respecting the
// caller's context.
//
// Usage:
//
//	limiter := ratelimit.NewSmooth(ratelimit.PerMinute(60), 10)
//
//	if err := limiter.Wait(ctx); err != nil {
//	    return err // canceled
//	}
//	// proceed with request
//
//	// after a 429:
//	limiter.Cooldown(5 * time.Second)
package ratelimit
