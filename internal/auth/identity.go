package auth

import (
	"errors"
	"strings"
)

var (
	ErrNoCredentials = errors.New("missing authorization header")
	ErrInvalidHeader = errors.New("invalid authorization header format")
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrNotConfigured = errors.New("authentication not configured")
)

// Headers carrying a verified identity between /auth/verify and the API
// behind the gateway.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
)

// Identity is the caller a verified token belongs to.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// Headers returns the gateway headers for id. Empty values are left out.
func (id *Identity) Headers() map[string]string {
	h := map[string]string{HeaderUserID: id.UserID}
	if id.Email != "" {
		h[HeaderUserEmail] = id.Email
	}
	if id.Name != "" {
		h[HeaderUserName] = id.Name
	}
	return h
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrNoCredentials
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", ErrInvalidHeader
	}
	return parts[1], nil
}

// Verify checks token against the OIDC verifier first and falls back to the
// HMAC secret. Either may be absent.
func Verify(verifier TokenVerifier, secret, token string) (*Identity, error) {
	if verifier != nil {
		claims, err := verifier.Validate(token)
		if err == nil {
			return claims.Identity(), nil
		}
		if secret == "" {
			return nil, ErrInvalidToken
		}
	}

	if secret != "" {
		claims, err := ValidateLegacyToken(token, secret)
		if err != nil {
			return nil, ErrInvalidToken
		}
		return &Identity{UserID: claims.UserID, Email: claims.Email}, nil
	}

	return nil, ErrNotConfigured
}
