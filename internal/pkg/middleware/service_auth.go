package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// TokenAuth authenticates callers presenting a pre-shared token in the given
// header. Used for the service API (client backends) and, with a separate
// token, for the internal grant/revoke surface. The caller is assumed to be
// pre-authenticated infrastructure; user identity travels in the request.
func TokenAuth(header, token string) fiber.Handler {
	expected := []byte(strings.TrimSpace(token))
	return func(c *fiber.Ctx) error {
		if len(expected) == 0 {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":   "not_configured",
				"message": "Service token is not configured",
			})
		}
		got := []byte(strings.TrimSpace(c.Get(header)))
		if len(got) == 0 || subtle.ConstantTimeCompare(expected, got) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "Missing or invalid token",
			})
		}
		return c.Next()
	}
}
