package middleware

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"jenn_worker/pkg/ratelimit"
)

// RateLimit throttles requests per authenticated user, falling back to the client IP.
func RateLimit(cfg ratelimit.Config) fiber.Handler {
	limiter := ratelimit.NewKeyedLimiter(cfg)
	return func(c *fiber.Ctx) error {
		key := "ip:" + c.IP()
		if uid, ok := c.Locals("user_id").(uuid.UUID); ok {
			key = "user:" + uid.String()
		}
		if !limiter.Allow(key) {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfterSeconds(cfg)))
			return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{
				Error: ErrorDetail{Code: "RATE_LIMITED", Message: "rate limit exceeded"},
			})
		}
		return c.Next()
	}
}

func retryAfterSeconds(cfg ratelimit.Config) int {
	if cfg.RequestsPerSecond <= 0 || cfg.RequestsPerSecond >= 1 {
		return 1
	}
	return int(1/cfg.RequestsPerSecond + 0.5)
}
