package e2e

import (
	"net/http"
	"testing"

	"github.com/clipforge/api/internal/auth"
)

func TestRootAndHealth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/", nil, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	if _, ok := parseJSON(t, resp)["timestamp"]; !ok {
		t.Error("root should report a timestamp")
	}

	resp, err = doRequest(ta.app, http.MethodGet, "/health", nil, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	body := parseJSON(t, resp)
	services, _ := body["services"].(map[string]interface{})
	if body["status"] != "ok" || services == nil {
		t.Fatalf("unexpected health body %v", body)
	}
	// Legacy auth is on in tests, object storage and transcription are not.
	want := map[string]bool{"auth": true, "r2": false, "transcribe": false}
	for name, on := range want {
		if services[name] != on {
			t.Errorf("services.%s = %v, want %v", name, services[name], on)
		}
	}
}

func TestForwardAuthVerify(t *testing.T) {
	ta := setupApp(t)

	tests := []struct {
		name    string
		headers map[string]string
		status  int
	}{
		{"no token", nil, http.StatusUnauthorized},
		{"garbage token", map[string]string{"Authorization": "Bearer garbage"}, http.StatusUnauthorized},
		{"valid token", bearer(t, testUserID), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := doRequest(ta.app, http.MethodGet, "/auth/verify", nil, tt.headers)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			assertStatus(t, resp, tt.status)
			if tt.status != http.StatusOK {
				return
			}
			if got := resp.Header.Get(auth.HeaderUserID); got != testUserID {
				t.Errorf("%s = %q, want %q", auth.HeaderUserID, got, testUserID)
			}
			if got := resp.Header.Get(auth.HeaderUserEmail); got != testUserID+"@example.com" {
				t.Errorf("%s = %q", auth.HeaderUserEmail, got)
			}
		})
	}
}

func TestJobSocketRequiresUpgrade(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/ws/jobs/some-job", nil, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusUpgradeRequired)
}
