package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"lumilearn/internal/kvstore"
)

// RateLimiter counts authentication attempts per (endpoint class, identifier)
// in a sliding window and blocks the identifier once the window overflows.
// It is independent of account lockout: it holds even when an attacker
// rotates accounts, and it runs before any credential work.
type RateLimiter struct {
	store       kvstore.Store
	maxAttempts int
	window      time.Duration
	blockFor    time.Duration
	now         func() time.Time
}

func NewRateLimiter(store kvstore.Store, maxAttempts int, window, blockFor time.Duration) *RateLimiter {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// The block must outlive the window, otherwise a blocked client could
	// simply wait the window out.
	if blockFor <= window {
		blockFor = 4 * window
	}

	return &RateLimiter{
		store:       store,
		maxAttempts: maxAttempts,
		window:      window,
		blockFor:    blockFor,
		now:         time.Now,
	}
}

// Allow consumes one attempt for key. Any backing-store error fails closed:
// the caller sees the same RateLimitedError a genuinely blocked client gets.
func (l *RateLimiter) Allow(ctx context.Context, key string) error {
	now := l.now().UTC()

	until, blocked, err := l.store.BlockedUntil(ctx, key)
	if err != nil {
		sentry.CaptureException(fmt.Errorf("rate limit block lookup: %w", err))
		return RateLimitedError{RetryAfter: l.blockFor}
	}
	if blocked {
		return RateLimitedError{RetryAfter: until.Sub(now)}
	}

	count, err := l.store.Hit(ctx, key, l.window)
	if err != nil {
		sentry.CaptureException(fmt.Errorf("rate limit hit: %w", err))
		return RateLimitedError{RetryAfter: l.blockFor}
	}
	if count <= l.maxAttempts {
		return nil
	}

	if err := l.store.Block(ctx, key, now.Add(l.blockFor)); err != nil {
		sentry.CaptureException(fmt.Errorf("rate limit block write: %w", err))
	}

	return RateLimitedError{RetryAfter: l.blockFor}
}

// Middleware gates an authentication endpoint by client IP. class keeps the
// counters of different endpoints apart.
func (l *RateLimiter) Middleware(class string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := class + ":ip:" + clientIP(r)

		if err := l.Allow(r.Context(), key); err != nil {
			var limited RateLimitedError
			if errors.As(err, &limited) {
				writeRateLimited(w, limited)
				return
			}
			writeRateLimited(w, RateLimitedError{RetryAfter: l.blockFor})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// AccountKey builds the service-level limiter key for a login identifier
// (lowercased email or "first last"). Keyed separately from IPs so a
// distributed attack on one account is still capped.
func AccountKey(class, identifier string) string {
	return class + ":acct:" + strings.ToLower(strings.TrimSpace(identifier))
}

func writeRateLimited(w http.ResponseWriter, limited RateLimitedError) {
	retryAfter := int(limited.RetryAfter.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeError(w, http.StatusTooManyRequests, CodeRateLimited, "too many authentication attempts")
}

func clientIP(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		parts := strings.Split(xForwardedFor, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}

	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
