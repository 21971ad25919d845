package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/clipforge/api/internal/auth"
	"github.com/clipforge/api/pkg/response"
)

// DevUserID is the identity assumed for unauthenticated requests when the
// dev fallback is on.
const DevUserID = "dev-user"

// AuthMiddleware handles JWT authentication
type AuthMiddleware struct {
	verifier  auth.TokenVerifier
	jwtSecret string // fallback for legacy tokens
	devUser   string
}

// NewAuthMiddleware creates a new auth middleware with OIDC JWKS verification
func NewAuthMiddleware(verifier auth.TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// NewAuthMiddlewareWithFallback creates auth middleware with both JWKS and legacy HMAC support
func NewAuthMiddlewareWithFallback(verifier auth.TokenVerifier, jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier, jwtSecret: jwtSecret}
}

// NewLegacyAuthMiddleware creates auth middleware using only HMAC signing (for testing/dev)
func NewLegacyAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: jwtSecret}
}

// WithDevFallback makes requests without credentials act as DevUserID.
func (m *AuthMiddleware) WithDevFallback(enabled bool) *AuthMiddleware {
	if enabled {
		m.devUser = DevUserID
	} else {
		m.devUser = ""
	}
	return m
}

// Authenticate rejects requests without a valid bearer token.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return m.handler(true)
}

// Optional identifies the caller when a token is present and lets anonymous
// requests through. A malformed or invalid token is still rejected.
func (m *AuthMiddleware) Optional() fiber.Handler {
	return m.handler(false)
}

func (m *AuthMiddleware) handler(required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := auth.BearerToken(c.Get("Authorization"))
		if errors.Is(err, auth.ErrNoCredentials) {
			if m.devUser != "" {
				setIdentity(c, &auth.Identity{UserID: m.devUser})
				return c.Next()
			}
			if !required {
				return c.Next()
			}
		}
		if err != nil {
			return response.Unauthorized(c, authMessage(err))
		}

		id, err := auth.Verify(m.verifier, m.jwtSecret, token)
		if err != nil {
			return response.Unauthorized(c, authMessage(err))
		}

		setIdentity(c, id)
		return c.Next()
	}
}

func authMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrNoCredentials):
		return "Missing authorization header"
	case errors.Is(err, auth.ErrInvalidHeader):
		return "Invalid authorization header format"
	case errors.Is(err, auth.ErrNotConfigured):
		return "Authentication not configured"
	default:
		return "Invalid or expired token"
	}
}

type identityKey struct{}

func setIdentity(c *fiber.Ctx, id *auth.Identity) {
	c.Locals(identityKey{}, id)
}

// CurrentIdentity returns the caller identified by the auth middleware, or
// nil for anonymous requests.
func CurrentIdentity(c *fiber.Ctx) *auth.Identity {
	id, _ := c.Locals(identityKey{}).(*auth.Identity)
	return id
}

// GetUserID returns the caller's user ID, empty when anonymous.
func GetUserID(c *fiber.Ctx) string {
	if id := CurrentIdentity(c); id != nil {
		return id.UserID
	}
	return ""
}

func GetUserEmail(c *fiber.Ctx) string {
	if id := CurrentIdentity(c); id != nil {
		return id.Email
	}
	return ""
}
