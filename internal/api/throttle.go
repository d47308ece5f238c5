package api

import (
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/oneself-console/internal/metrics"
	"github.com/Checker-Finance/oneself-console/internal/rate"
)

// WithLoginLimiter throttles POST /login per client IP.
func (h *ConsoleHandler) WithLoginLimiter(l *rate.Limiter) *ConsoleHandler {
	h.limiter = l
	return h
}

// ThrottleLogin rejects login attempts over the limit with 429 and a Retry-After header.
func (h *ConsoleHandler) ThrottleLogin(c *fiber.Ctx) error {
	if h.limiter == nil {
		return c.Next()
	}
	ok, wait := h.limiter.Allow(c.IP())
	if ok {
		return c.Next()
	}
	metrics.IncLoginThrottled()
	h.logger.Warn("console.login_throttled", zap.String("ip", c.IP()), zap.Duration("retry_after", wait))
	c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{
		Error: "too many login attempts",
		Kind:  "throttled",
	})
}
