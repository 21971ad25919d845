package middleware

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/clipforge/api/internal/auth"
	"github.com/clipforge/api/internal/logging"
)

func whoami(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"userId": GetUserID(c), "email": GetUserEmail(c)})
}

func call(t *testing.T, app *fiber.App, path, authHeader string) (int, map[string]string) {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	body := map[string]string{}
	if resp.StatusCode == fiber.StatusOK {
		_ = json.NewDecoder(resp.Body).Decode(&body)
	}
	return resp.StatusCode, body
}

func TestAuthenticate(t *testing.T) {
	const secret = "test-secret"
	token, err := auth.GenerateLegacyToken("user-1", "u@example.com", secret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	m := NewLegacyAuthMiddleware(secret)
	app := fiber.New()
	app.Get("/required", m.Authenticate(), whoami)
	app.Get("/optional", m.Optional(), whoami)

	tests := []struct {
		name   string
		path   string
		header string
		status int
		user   string
	}{
		{"valid token", "/required", "Bearer " + token, 200, "user-1"},
		{"missing header", "/required", "", 401, ""},
		{"bad scheme", "/required", "Token " + token, 401, ""},
		{"bad token", "/required", "Bearer nope", 401, ""},
		{"optional anonymous", "/optional", "", 200, ""},
		{"optional with token", "/optional", "Bearer " + token, 200, "user-1"},
		{"optional bad token", "/optional", "Bearer nope", 401, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := call(t, app, tt.path, tt.header)
			if status != tt.status {
				t.Fatalf("status = %d, want %d", status, tt.status)
			}
			if status == 200 && body["userId"] != tt.user {
				t.Errorf("userId = %q, want %q", body["userId"], tt.user)
			}
		})
	}
}

func TestDevFallback(t *testing.T) {
	m := NewLegacyAuthMiddleware("secret").WithDevFallback(true)
	app := fiber.New()
	app.Get("/", m.Authenticate(), whoami)

	status, body := call(t, app, "/", "")
	if status != 200 || body["userId"] != DevUserID {
		t.Errorf("expected dev user, got %d %v", status, body)
	}
	if status, _ := call(t, app, "/", "Bearer invalid"); status != 401 {
		t.Errorf("invalid tokens are rejected even with the dev fallback, got %d", status)
	}
}

func TestGatewayAuth(t *testing.T) {
	app := fiber.New()
	app.Get("/required", GatewayAuthMiddleware(true), whoami)
	app.Get("/optional", GatewayAuthMiddleware(false), whoami)

	req := httptest.NewRequest("GET", "/required", nil)
	req.Header.Set(auth.HeaderUserID, "gw-user")
	req.Header.Set(auth.HeaderUserEmail, "gw@example.com")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != 200 || body["userId"] != "gw-user" || body["email"] != "gw@example.com" {
		t.Errorf("expected gateway identity, got %d %v", resp.StatusCode, body)
	}

	if status, _ := call(t, app, "/required", ""); status != 401 {
		t.Errorf("expected 401 without headers, got %d", status)
	}
	if status, _ := call(t, app, "/optional", ""); status != 200 {
		t.Errorf("expected anonymous pass-through, got %d", status)
	}
}

func TestRateLimiterFailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer rdb.Close()

	rl := NewRateLimiter(rdb, logging.Discard())
	app := fiber.New()
	app.Get("/", rl.ClipLimit(1), whoami)

	for i := 0; i < 3; i++ {
		if status, _ := call(t, app, "/", ""); status != 200 {
			t.Fatalf("request %d: expected pass-through when redis is down, got %d", i, status)
		}
	}
}
