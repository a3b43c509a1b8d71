package middleware

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/httprate"
	"github.com/redis/go-redis/v9"
)

// slidingWindow trims the window, counts and admits atomically.
var slidingWindow = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local count = redis.call('ZCARD', key)
	if count < limit then
		redis.call('ZADD', key, now, now .. '-' .. math.random())
		redis.call('PEXPIRE', key, ttl)
		return 1
	end

	return 0
`)

// RedisRateLimiter is a sliding window limiter shared by every replica.
// It fails open when Redis is missing or erroring.
type RedisRateLimiter struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisRateLimiter(rdb redis.UniversalClient) *RedisRateLimiter {
	return &RedisRateLimiter{
		rdb:    rdb,
		prefix: "rl:kimg-panel:",
	}
}

type RateLimitConfig struct {
	Scope  string
	Limit  int
	Window time.Duration
	KeyFn  func(r *http.Request) string
}

func (l *RedisRateLimiter) Middleware(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l == nil || l.rdb == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := l.prefix + cfg.Scope + ":" + cfg.KeyFn(r)
			allowed, err := l.Allow(r.Context(), key, cfg.Limit, cfg.Window)
			if err != nil || allowed {
				next.ServeHTTP(w, r)
				return
			}

			tooManyRequests(w, r, cfg.Window)
		})
	}
}

// Allow records one hit for key and reports whether it fits the window.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now().UnixMilli()
	windowStart := now - window.Milliseconds()

	result, err := slidingWindow.Run(ctx, l.rdb, []string{key}, now, windowStart, limit, window.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

// LocalRateLimit is used when no Redis is configured; limits are per process.
func LocalRateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(cfg.Limit, cfg.Window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return cfg.KeyFn(r), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			tooManyRequests(w, r, cfg.Window)
		}),
	)
}

func tooManyRequests(w http.ResponseWriter, r *http.Request, window time.Duration) {
	retry := int(math.Ceil(window.Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":       "rate_limited",
			"message":    "too many requests",
			"request_id": GetRequestID(r.Context()),
		},
	})
}

// KeyByIP uses the first X-Forwarded-For hop, falling back to RemoteAddr.
func KeyByIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
