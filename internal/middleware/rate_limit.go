package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const transferRatePrefix = "rl:transfer:"

// TransferRateLimit caps money movements per owner per minute using a Redis
// fixed window. Without Redis, or on cache errors, requests pass through.
func TransferRateLimit(cache *redis.Client, maxPerMin int, logger *slog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 20
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		subject := OwnerID(c)
		if subject == "" {
			subject = c.IP()
		}
		window := time.Now().UTC().Unix() / 60
		key := transferRatePrefix + subject + ":" + strconv.FormatInt(window, 10)

		ctx := c.UserContext()
		pipe := cache.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, time.Minute)
		if _, err := pipe.Exec(ctx); err != nil {
			logger.Warn("transfer rate limit unavailable", slog.String("owner_id", subject), slog.Any("error", err))
			return c.Next()
		}
		if incr.Val() > int64(maxPerMin) {
			c.Set(fiber.HeaderRetryAfter, "60")
			return fiber.NewError(http.StatusTooManyRequests, "too many transfers, try again later")
		}
		return c.Next()
	}
}
