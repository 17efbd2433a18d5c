package middleware

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/congo-pay/walletledger/internal/logging"
)

const requestIDHeader = "X-Request-ID"

// RequestID ensures each request has a stable identifier and attaches a
// request-scoped logger to the user context.
func RequestID(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := c.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(requestIDHeader, reqID)
		c.Locals(requestIDHeader, reqID)

		if logger != nil {
			reqLogger := logger.With(slog.String("request_id", reqID))
			c.SetUserContext(logging.IntoContext(c.UserContext(), reqLogger))
		}
		return c.Next()
	}
}

// RequestIDFrom returns the identifier assigned by RequestID.
func RequestIDFrom(c *fiber.Ctx) string {
	id, _ := c.Locals(requestIDHeader).(string)
	return id
}
