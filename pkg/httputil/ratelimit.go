package httputil

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/pawprint/pkg/observability"
)

// maxTrackedClients bounds the in-memory limiter before expired windows are swept
const maxTrackedClients = 10000

// RateDecision is the outcome of one limiter check
type RateDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is the time until the current window ends
	Reset time.Duration
}

// RateLimiter counts requests per client key in fixed windows
type RateLimiter interface {
	Allow(ctx context.Context, key string) (RateDecision, error)
}

func decide(limit, count int, reset time.Duration) RateDecision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return RateDecision{Allowed: count <= limit, Limit: limit, Remaining: remaining, Reset: reset}
}

type rateWindow struct {
	start time.Time
	count int
}

// MemoryRateLimiter keeps windows in process. Each replica enforces its own
// limit, so use RedisRateLimiter when the API runs behind a load balancer.
type MemoryRateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*rateWindow
}

// NewMemoryRateLimiter allows limit requests per key per window
func NewMemoryRateLimiter(limit int, window time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string]*rateWindow),
	}
}

func (l *MemoryRateLimiter) Allow(ctx context.Context, key string) (RateDecision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		if !ok && len(l.windows) >= maxTrackedClients {
			l.sweep(now)
		}
		w = &rateWindow{start: now}
		l.windows[key] = w
	}
	w.count++
	return decide(l.limit, w.count, w.start.Add(l.window).Sub(now)), nil
}

func (l *MemoryRateLimiter) sweep(now time.Time) {
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, key)
		}
	}
}

// RedisRateLimiter shares windows across replicas with INCR and PEXPIRE
type RedisRateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewRedisRateLimiter allows limit requests per key per window
func NewRedisRateLimiter(client *redis.Client, limit int, window time.Duration, prefix string) *RedisRateLimiter {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisRateLimiter{client: client, limit: limit, window: window, prefix: prefix}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (RateDecision, error) {
	redisKey := l.prefix + key
	open := RateDecision{Allowed: true, Limit: l.limit, Remaining: l.limit, Reset: l.window}

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		ttl = pipe.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return open, fmt.Errorf("rate limit counter: %w", err)
	}

	reset := ttl.Val()
	// A fresh counter has no expiry yet
	if reset <= 0 {
		if err := l.client.PExpire(ctx, redisKey, l.window).Err(); err != nil {
			return open, fmt.Errorf("rate limit expiry: %w", err)
		}
		reset = l.window
	}
	return decide(l.limit, int(incr.Val()), reset), nil
}

// RateLimitMiddleware limits requests per client IP. Limiter errors fail
// open. Requests for the exempt paths and CORS preflights are not counted.
func RateLimitMiddleware(limiter RateLimiter, metrics *observability.Metrics, exempt ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(exempt))
	for _, p := range exempt {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			d, err := limiter.Allow(r.Context(), "ip:"+ClientIP(r))
			if err != nil {
				metrics.RateLimitDecision("error")
				observability.FromContext(r.Context()).WithError(err).Warn("rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(d.Reset).Unix(), 10))

			if !d.Allowed {
				metrics.RateLimitDecision("limited")
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(d.Reset.Seconds()))))
				WriteErrorMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			metrics.RateLimitDecision("allowed")
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, else the host of RemoteAddr
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if ip := strings.TrimSpace(strings.Split(fwd, ",")[0]); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
