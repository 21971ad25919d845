package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/clipforge/api/internal/logging"
	"github.com/clipforge/api/pkg/response"
)

const redisTimeout = 500 * time.Millisecond

type RateLimiter struct {
	redis  *redis.Client
	logger *slog.Logger
}

func NewRateLimiter(redisClient *redis.Client, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{redis: redisClient, logger: logging.WithComponent(logger, "ratelimit")}
}

// Limit counts requests per caller in a fixed window. Authenticated callers
// are keyed by user ID, anonymous ones by client IP. A nil limiter or a
// non-positive max lets everything through.
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl == nil || maxRequests <= 0 {
			return c.Next()
		}

		caller := GetUserID(c)
		if caller == "" {
			caller = "ip:" + c.IP()
		}
		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, caller)

		ctx, cancel := context.WithTimeout(c.UserContext(), redisTimeout)
		defer cancel()

		count, ttl, err := rl.hit(ctx, key, window)
		if err != nil {
			rl.logger.Warn("rate limiter unavailable, allowing request", slog.String("key", key), slog.String("error", err.Error()))
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		if count > int64(maxRequests) {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(ttl.Seconds())))
			return response.RateLimited(c)
		}
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(int64(maxRequests)-count, 10))
		return c.Next()
	}
}

// hit increments the window counter for key and returns it with the time
// left in the window. The window starts on the first hit.
func (rl *RateLimiter) hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := rl.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		ttl = pipe.TTL(ctx, key)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	left := ttl.Val()
	if left < 0 {
		if err := rl.redis.Expire(ctx, key, window).Err(); err != nil {
			return 0, 0, err
		}
		left = window
	}
	return incr.Val(), left, nil
}

// ClipLimit limits synchronous clip requests per hour.
func (rl *RateLimiter) ClipLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("clip", maxPerHour, time.Hour)
}

// JobsLimit limits queued batch submissions per hour.
func (rl *RateLimiter) JobsLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("jobs", maxPerHour, time.Hour)
}

// HistoryLimit limits history reads per minute.
func (rl *RateLimiter) HistoryLimit(maxPerMin int) fiber.Handler {
	return rl.Limit("history", maxPerMin, time.Minute)
}
