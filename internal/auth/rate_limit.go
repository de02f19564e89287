package auth

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"golang.org/x/time/rate"
)

// Limiter decides whether one more request for key fits in the current budget.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// RateLimitMiddleware keys requests by scope and client IP. A nil resolver
// keys by the direct peer. Limiter failures let the request through.
func RateLimitMiddleware(limiter Limiter, resolver *ClientIPResolver, scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := scope + ":" + resolver.ClientIP(r)

		allowed, retryAfter, err := limiter.Allow(r.Context(), key)
		if err != nil {
			sentry.CaptureException(err)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			seconds := int(math.Ceil(retryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

type memoryBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps one token bucket per key. Each bucket holds max tokens
// and refills max tokens per window.
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	buckets map[string]*memoryBucket
	maxKeys int
	now     func() time.Time
}

func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	if max <= 0 {
		max = 5
	}
	if window <= 0 {
		window = time.Minute
	}

	return &MemoryLimiter{
		limit:   rate.Limit(float64(max) / window.Seconds()),
		burst:   max,
		idleTTL: window,
		buckets: make(map[string]*memoryBucket),
		maxKeys: 5000,
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.maxKeys {
			l.evictIdle(now)
		}
		if len(l.buckets) >= l.maxKeys {
			l.evictOldest()
		}
		b = &memoryBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	if b.limiter.AllowN(now, 1) {
		return true, 0, nil
	}

	missing := 1 - b.limiter.TokensAt(now)
	retryAfter := time.Duration(missing / float64(l.limit) * float64(time.Second))
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return false, retryAfter, nil
}

func (l *MemoryLimiter) evictIdle(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idleTTL {
			delete(l.buckets, key)
		}
	}
}

func (l *MemoryLimiter) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, b := range l.buckets {
		if oldestKey == "" || b.lastSeen.Before(oldest) {
			oldestKey, oldest = key, b.lastSeen
		}
	}
	delete(l.buckets, oldestKey)
}

// PostgresLimiter is a fixed-window counter shared by every instance that
// talks to the same database.
type PostgresLimiter struct {
	db     *sql.DB
	max    int
	window time.Duration
	now    func() time.Time
}

func NewPostgresLimiter(db *sql.DB, max int, window time.Duration) *PostgresLimiter {
	if max <= 0 {
		max = 5
	}
	if window <= 0 {
		window = time.Minute
	}
	return &PostgresLimiter{db: db, max: max, window: window, now: time.Now}
}

func (l *PostgresLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := l.now().UTC()
	threshold := now.Add(-l.window)

	var hits int
	var windowStartedAt time.Time
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO auth_rate_limits (key, window_started_at, hits, updated_at)
		VALUES ($1, $2, 1, $2)
		ON CONFLICT (key) DO UPDATE
		SET
			hits = CASE
				WHEN auth_rate_limits.window_started_at <= $3 THEN 1
				ELSE auth_rate_limits.hits + 1
			END,
			window_started_at = CASE
				WHEN auth_rate_limits.window_started_at <= $3 THEN $2
				ELSE auth_rate_limits.window_started_at
			END,
			updated_at = $2
		RETURNING hits, window_started_at
	`, key, now, threshold).Scan(&hits, &windowStartedAt)
	if err != nil {
		return false, 0, fmt.Errorf("upsert rate limit window: %w", err)
	}

	if hits <= l.max {
		return true, 0, nil
	}

	retryAfter := windowStartedAt.Add(l.window).Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return false, retryAfter, nil
}
