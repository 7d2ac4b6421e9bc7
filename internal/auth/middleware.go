package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const principalKey = "principal"

// Middleware validates the bearer token and stores the resolved principal on
// the request.
func Middleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing auth token")
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid auth header format")
		}

		claims, err := ParseAccessToken(parts[1], secret)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid or expired token")
		}
		if claims.TenantID == 0 {
			return fiber.NewError(fiber.StatusUnauthorized, "token carries no tenant")
		}

		c.Locals(principalKey, &Principal{
			UserID:   claims.Subject,
			TenantID: claims.TenantID,
			Mode:     claims.Mode,
			Roles:    claims.Roles,
		})
		return c.Next()
	}
}

// RequireAdmin rejects requests whose principal lacks the admin role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p := GetPrincipal(c)
		if p == nil {
			return fiber.NewError(fiber.StatusUnauthorized, "missing auth token")
		}
		if !p.IsAdmin() {
			return fiber.NewError(fiber.StatusForbidden, "admin access required")
		}
		return c.Next()
	}
}

// GetPrincipal extracts the authenticated principal from a request, or nil.
func GetPrincipal(c *fiber.Ctx) *Principal {
	p, _ := c.Locals(principalKey).(*Principal)
	return p
}
