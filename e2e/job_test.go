package e2e

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func startJob(t *testing.T, ta *testApp, form clipForm) string {
	t.Helper()
	resp := postForm(t, ta.app, "/api/clip/jobs", form, testUserID)
	assertStatus(t, resp, http.StatusAccepted)

	result := parseJSON(t, resp)
	jobID, _ := result["jobId"].(string)
	if jobID == "" {
		t.Fatal("expected 'jobId' in response")
	}
	if result["status"] != "queued" {
		t.Errorf("expected status 'queued', got %v", result["status"])
	}
	return jobID
}

func getJSON(t *testing.T, ta *testApp, path, userID string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var headers map[string]string
	if userID != "" {
		headers = bearer(t, userID)
	}
	resp, err := doRequest(ta.app, http.MethodGet, path, nil, headers)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp, parseJSON(t, resp)
}

func TestClipJob_Lifecycle(t *testing.T) {
	ta := setupApp(t)
	jobID := startJob(t, ta, clipForm{
		fields: map[string]string{
			"sections":   `[{"start":"0","end":"5"},{"start":"5","end":"10"}]`,
			"final_1080": "true",
		},
		file: "source video bytes",
	})

	resp, status := getJSON(t, ta, "/api/clip/jobs/"+jobID, testUserID)
	assertStatus(t, resp, http.StatusOK)
	if status["status"] != "queued" || status["segments"] != float64(2) {
		t.Errorf("unexpected status %v", status)
	}

	resp, body := getJSON(t, ta, "/api/clip/jobs/"+jobID+"/result", testUserID)
	assertStatus(t, resp, http.StatusConflict)
	if errorCode(body) != "CONFLICT" {
		t.Errorf("expected CONFLICT, got %v", body)
	}

	tasks := ta.queue.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("expected one queued task, got %d", len(tasks))
	}
	if err := ta.worker.ProcessTask(context.Background(), tasks[0]); err != nil {
		t.Fatalf("worker failed: %v", err)
	}

	_, status = getJSON(t, ta, "/api/clip/jobs/"+jobID, testUserID)
	if status["status"] != "succeeded" || status["progress"] != float64(100) {
		t.Errorf("unexpected final status %v", status)
	}

	resp, result := getJSON(t, ta, "/api/clip/jobs/"+jobID+"/result", testUserID)
	assertStatus(t, resp, http.StatusOK)
	items, _ := result["items"].([]interface{})
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %v", result["items"])
	}
	for _, raw := range items {
		it := raw.(map[string]interface{})
		url, _ := it["finalUrl"].(string)
		if it["ok"] != true || !strings.HasPrefix(url, "http://example.com/media/exports/") {
			t.Errorf("unexpected item %v", it)
		}
	}
	if zip, _ := result["zipUrl"].(string); !strings.HasSuffix(zip, ".zip") {
		t.Errorf("expected archive, got %v", result["zipUrl"])
	}

	staged, _ := os.ReadDir(filepath.Join(ta.cfg.Storage.WorkDir, "staged"))
	if len(staged) != 0 {
		t.Errorf("staged upload not discarded: %v", staged)
	}
}

func TestClipJob_HiddenFromOtherUsers(t *testing.T) {
	ta := setupApp(t)
	jobID := startJob(t, ta, clipForm{
		fields: map[string]string{"sections": `[{"start":"0","end":"5"}]`},
		file:   "source video bytes",
	})

	resp, body := getJSON(t, ta, "/api/clip/jobs/"+jobID, "someone-else")
	assertStatus(t, resp, http.StatusNotFound)
	if errorCode(body) != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND, got %v", body)
	}

	resp, _ = getJSON(t, ta, "/api/clip/jobs/"+jobID, "")
	assertStatus(t, resp, http.StatusNotFound)
}

func TestClipJob_UnknownJob(t *testing.T) {
	ta := setupApp(t)

	resp, _ := getJSON(t, ta, "/api/clip/jobs/does-not-exist", testUserID)
	assertStatus(t, resp, http.StatusNotFound)
}

func TestClipJob_RejectedBeforeQueueing(t *testing.T) {
	ta := setupApp(t)

	resp := postForm(t, ta.app, "/api/clip/jobs", clipForm{
		fields: map[string]string{"sections": `[{"start":"9","end":"3"}]`},
		file:   "x",
	}, testUserID)
	assertStatus(t, resp, http.StatusBadRequest)
	if code := errorCode(parseJSON(t, resp)); code != "INVALID_RANGE" {
		t.Errorf("expected INVALID_RANGE, got %s", code)
	}
	if n := len(ta.queue.Tasks()); n != 0 {
		t.Errorf("invalid job was queued %d times", n)
	}
}

func TestClipJob_MalformedSections(t *testing.T) {
	ta := setupApp(t)

	for _, sections := range []string{"not json", `[{"start":"0"}]`} {
		resp := postForm(t, ta.app, "/api/clip/jobs", clipForm{
			fields: map[string]string{"sections": sections},
			file:   "x",
		}, testUserID)
		assertStatus(t, resp, http.StatusBadRequest)
		if code := errorCode(parseJSON(t, resp)); code != "VALIDATION_ERROR" {
			t.Errorf("sections %q: expected VALIDATION_ERROR, got %s", sections, code)
		}
	}
	if n := len(ta.queue.Tasks()); n != 0 {
		t.Errorf("malformed job was queued %d times", n)
	}
}

func TestClipJob_FailedSource(t *testing.T) {
	ta := setupApp(t)
	jobID := startJob(t, ta, clipForm{
		fields:    map[string]string{"sections": `[{"start":"0","end":"5"}]`},
		emptyFile: true,
	})

	if err := ta.worker.ProcessTask(context.Background(), ta.queue.Tasks()[0]); err == nil {
		t.Fatal("expected the worker to report the failure")
	}

	_, status := getJSON(t, ta, "/api/clip/jobs/"+jobID, testUserID)
	if status["status"] != "failed" {
		t.Errorf("expected failed job, got %v", status)
	}
	if msg, _ := status["error"].(string); !strings.Contains(msg, "empty") {
		t.Errorf("expected the source error, got %v", status["error"])
	}
}
