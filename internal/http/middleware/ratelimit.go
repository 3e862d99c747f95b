package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-queue/pkg/logging"
)

// RateLimiter counts requests per client in fixed Redis windows, shared
// across every API replica.
type RateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
	logger *logging.Logger
	now    func() time.Time
}

// NewRateLimiter allows limit requests per client per window.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration, logger *logging.Logger) *RateLimiter {
	if logger == nil {
		logger = logging.Default()
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "ratelimit:",
		logger: logger,
		now:    time.Now,
	}
}

// Allow reports whether another request from key fits in the current window
// and how many remain.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	slot := rl.now().UnixNano() / int64(rl.window)
	redisKey := fmt.Sprintf("%s%s:%d", rl.prefix, key, slot)

	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, 0, err
	}
	count := int(incr.Val())
	remaining := rl.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= rl.limit, remaining, nil
}

// RateLimit rejects clients exceeding the window budget with 429. A nil
// limiter disables limiting. Redis failures fail open.
func RateLimit(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl == nil || rl.client == nil || rl.limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, remaining, err := rl.Allow(r.Context(), clientIP(r))
			if err != nil {
				rl.logger.Warn("rate limiter unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !ok {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
