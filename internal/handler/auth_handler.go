package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/clipforge/api/internal/auth"
)

// AuthHandler answers the gateway's ForwardAuth subrequests.
type AuthHandler struct {
	verifier auth.TokenVerifier
	secret   string
}

func NewAuthHandler(verifier auth.TokenVerifier, jwtSecret string) *AuthHandler {
	return &AuthHandler{verifier: verifier, secret: jwtSecret}
}

// Verify handles GET /auth/verify. A valid bearer token yields 200 plus the
// identity headers the gateway copies onto the upstream request; anything
// else yields a bare 401.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	id, err := h.identify(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	for name, value := range id.Headers() {
		c.Set(name, value)
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *AuthHandler) identify(header string) (*auth.Identity, error) {
	token, err := auth.BearerToken(header)
	if err != nil {
		return nil, err
	}
	return auth.Verify(h.verifier, h.secret, token)
}
