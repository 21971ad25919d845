package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/clipforge/api/internal/auth"
	"github.com/clipforge/api/pkg/response"
)

// GatewayAuthMiddleware reads the identity the gateway attached after its
// ForwardAuth call to /auth/verify. With required false, requests without an
// identity pass through anonymously.
func GatewayAuthMiddleware(required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := &auth.Identity{
			UserID: c.Get(auth.HeaderUserID),
			Email:  c.Get(auth.HeaderUserEmail),
			Name:   c.Get(auth.HeaderUserName),
		}
		if id.UserID != "" {
			setIdentity(c, id)
		} else if required {
			return response.Unauthorized(c, "Missing user identity headers")
		}
		return c.Next()
	}
}
