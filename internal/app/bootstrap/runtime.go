package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/clinic-queue/internal/config"
	httpmiddleware "github.com/wolfman30/clinic-queue/internal/http/middleware"
	"github.com/wolfman30/clinic-queue/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available; rate limiting disabled", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildRateLimiter returns the shared API limiter, or nil when Redis is off.
func BuildRateLimiter(redisClient *redis.Client, cfg *appconfig.Config, logger *logging.Logger) *httpmiddleware.RateLimiter {
	if redisClient == nil || cfg == nil || cfg.RateLimitPerWindow <= 0 {
		return nil
	}
	return httpmiddleware.NewRateLimiter(redisClient, cfg.RateLimitPerWindow, cfg.RateLimitWindow, logger)
}
