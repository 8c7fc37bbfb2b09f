package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"
)

// Endpoint classes with independent rate limits. Expensive operations
// (starting a run) get a tight budget; cheap cacheable reads a loose one.
const (
	ClassRunStart   = "run_start"
	ClassAttach     = "attach"
	ClassConfigRead = "config_read"
	ClassDefault    = "default"
)

// Limit is the sustained rate and burst size for one endpoint class.
type Limit struct {
	Rate  float64 // tokens per second
	Burst int     // max tokens
}

// RateLimiter enforces per-client, per-endpoint-class token buckets.
// Buckets refill lazily on access; Allow never blocks.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[bucketKey]*bucket
	limits     map[string]Limit
	fallback   Limit
	maxBuckets int // cap on tracked (client, class) pairs
}

type bucketKey struct {
	client string
	class  string
}

type bucket struct {
	tokens    float64
	lastSeen  time.Time
	updatedAt time.Time
}

// NewRateLimiter creates a limiter with per-class limits. Classes absent
// from the map use the default class's limit.
func NewRateLimiter(limits map[string]Limit) *RateLimiter {
	fallback, ok := limits[ClassDefault]
	if !ok {
		fallback = Limit{Rate: 10, Burst: 50}
	}
	return &RateLimiter{
		buckets:    make(map[bucketKey]*bucket),
		limits:     limits,
		fallback:   fallback,
		maxBuckets: 100000,
	}
}

// Handler returns middleware that enforces the given class's limit,
// keyed by client IP.
func (rl *RateLimiter) Handler(class string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, retryAfter, allowed := rl.Allow(realIP(r), class)

			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(time.Second).Unix()))

			if !allowed {
				w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil(retryAfter)))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Allow consumes one token from the (client, class) bucket when available.
// Returns remaining tokens, seconds until the next token, and the verdict.
func (rl *RateLimiter) Allow(client, class string) (remaining int, retryAfter float64, allowed bool) {
	limit := rl.limit(class)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	key := bucketKey{client: client, class: class}
	b, exists := rl.buckets[key]
	if !exists {
		// Prevent memory exhaustion: cap the number of tracked buckets.
		if len(rl.buckets) >= rl.maxBuckets {
			return 0, 1.0 / limit.Rate, false
		}
		b = &bucket{
			tokens:    float64(limit.Burst) - 1, // consume one for this request
			updatedAt: now,
			lastSeen:  now,
		}
		rl.buckets[key] = b
		return int(b.tokens), 0, true
	}

	// Lazy refill based on elapsed time.
	elapsed := now.Sub(b.updatedAt).Seconds()
	b.tokens += elapsed * limit.Rate
	if b.tokens > float64(limit.Burst) {
		b.tokens = float64(limit.Burst)
	}
	b.updatedAt = now
	b.lastSeen = now

	if b.tokens < 1 {
		wait := (1 - b.tokens) / limit.Rate
		return 0, wait, false
	}

	b.tokens--
	return int(b.tokens), 0, true
}

func (rl *RateLimiter) limit(class string) Limit {
	if l, ok := rl.limits[class]; ok {
		return l
	}
	return rl.fallback
}

// StartCleanup spawns a goroutine that removes stale buckets every interval.
// Returns a cancel function that stops it.
func (rl *RateLimiter) StartCleanup(interval, maxIdle time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanup(maxIdle)
			}
		}
	}()
	return cancel
}

func (rl *RateLimiter) cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// Len returns the number of tracked buckets (for metrics and testing).
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// realIP extracts the client IP from RemoteAddr.
// Proxy headers (X-Forwarded-For, X-Real-Ip) are NOT trusted because
// they can be spoofed by attackers to bypass rate limiting.
func realIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
