package e2e

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clipforge/api/internal/client"
	"github.com/clipforge/api/internal/config"
)

// groqServer answers /audio/transcriptions with text, or with status when it
// is not 200.
func groqServer(t *testing.T, status int, text string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/audio/transcriptions" || r.Header.Get("Authorization") != "Bearer groq-test-key" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		f, fh, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		f.Close()
		if !strings.HasSuffix(fh.Filename, ".mp3") || r.FormValue("model") != "whisper-large-v3" {
			http.Error(w, "unexpected upload", http.StatusBadRequest)
			return
		}
		if status != http.StatusOK {
			http.Error(w, "engine down", status)
			return
		}
		_, _ = w.Write([]byte(text))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func transcribeClient(baseURL string) *client.TranscribeClient {
	return client.NewTranscribeClient(&config.TranscribeConfig{
		APIKey:  "groq-test-key",
		BaseURL: baseURL,
		Model:   "whisper-large-v3",
		Timeout: 5 * time.Second,
	})
}

func TestTranscribe_Upload(t *testing.T) {
	srv, calls := groqServer(t, http.StatusOK, "welcome to the show\n")
	ta := setupAppWith(t, transcribeClient(srv.URL))

	resp := postForm(t, ta.app, "/api/transcribe", clipForm{file: "source video bytes"}, testUserID)
	assertStatus(t, resp, http.StatusOK)

	body := parseJSON(t, resp)
	if body["text"] != "welcome to the show" {
		t.Errorf("unexpected text %v", body["text"])
	}
	if body["sourceName"] != "talk.mp4" {
		t.Errorf("unexpected source name %v", body["sourceName"])
	}
	if calls.Load() != 1 {
		t.Errorf("expected one engine call, got %d", calls.Load())
	}
	if ta.transcoder.Calls() != 1 {
		t.Errorf("expected one audio extraction, got %d", ta.transcoder.Calls())
	}
}

func TestTranscribe_NoSpeech(t *testing.T) {
	srv, _ := groqServer(t, http.StatusOK, "")
	ta := setupAppWith(t, transcribeClient(srv.URL))

	resp := postForm(t, ta.app, "/api/transcribe", clipForm{file: "silence"}, "")
	assertStatus(t, resp, http.StatusOK)
	if body := parseJSON(t, resp); body["text"] != "(no text found)" {
		t.Errorf("unexpected text %v", body["text"])
	}
}

func TestTranscribe_Errors(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		ta := setupApp(t)
		resp := postForm(t, ta.app, "/api/transcribe", clipForm{file: "video"}, "")
		assertStatus(t, resp, http.StatusServiceUnavailable)
		if code := errorCode(parseJSON(t, resp)); code != "SERVICE_UNAVAILABLE" {
			t.Errorf("unexpected code %q", code)
		}
	})

	t.Run("no source", func(t *testing.T) {
		srv, calls := groqServer(t, http.StatusOK, "text")
		ta := setupAppWith(t, transcribeClient(srv.URL))
		resp := postForm(t, ta.app, "/api/transcribe", clipForm{fields: map[string]string{"model": "x"}}, "")
		assertStatus(t, resp, http.StatusBadRequest)
		if code := errorCode(parseJSON(t, resp)); code != "INVALID_REQUEST" {
			t.Errorf("unexpected code %q", code)
		}
		if calls.Load() != 0 {
			t.Error("engine must not be called without a source")
		}
	})

	t.Run("invalid url", func(t *testing.T) {
		srv, _ := groqServer(t, http.StatusOK, "text")
		ta := setupAppWith(t, transcribeClient(srv.URL))
		resp := postForm(t, ta.app, "/api/transcribe", clipForm{fields: map[string]string{"url": "not a url"}}, "")
		assertStatus(t, resp, http.StatusBadRequest)
		if code := errorCode(parseJSON(t, resp)); code != "VALIDATION_ERROR" {
			t.Errorf("unexpected code %q", code)
		}
	})

	t.Run("engine failure", func(t *testing.T) {
		srv, _ := groqServer(t, http.StatusInternalServerError, "")
		ta := setupAppWith(t, transcribeClient(srv.URL))
		resp := postForm(t, ta.app, "/api/transcribe", clipForm{file: "video"}, "")
		assertStatus(t, resp, http.StatusBadGateway)
		if code := errorCode(parseJSON(t, resp)); code != "UPSTREAM_ERROR" {
			t.Errorf("unexpected code %q", code)
		}
	})

	t.Run("audio extraction failure", func(t *testing.T) {
		srv, calls := groqServer(t, http.StatusOK, "text")
		ta := setupAppWith(t, transcribeClient(srv.URL))
		ta.transcoder.fail = func(req *client.TranscodeRequest) bool { return req.AudioOnly }
		resp := postForm(t, ta.app, "/api/transcribe", clipForm{file: "video"}, "")
		assertStatus(t, resp, http.StatusInternalServerError)
		if code := errorCode(parseJSON(t, resp)); code != "TRANSCODE_FAILURE" {
			t.Errorf("unexpected code %q", code)
		}
		if calls.Load() != 0 {
			t.Error("engine must not be called without audio")
		}
	})
}
