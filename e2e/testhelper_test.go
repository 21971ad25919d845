package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"github.com/clipforge/api/internal/auth"
	"github.com/clipforge/api/internal/client"
	"github.com/clipforge/api/internal/config"
	"github.com/clipforge/api/internal/handler"
	"github.com/clipforge/api/internal/logging"
	"github.com/clipforge/api/internal/middleware"
	"github.com/clipforge/api/internal/model"
	"github.com/clipforge/api/internal/pipeline"
	"github.com/clipforge/api/internal/service"
	ws "github.com/clipforge/api/internal/websocket"
	"github.com/clipforge/api/internal/worker"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	testUserID    = "test-user-123"
)

// fakeTranscoder stands in for ffmpeg: it writes a small file at the
// requested output unless fail says otherwise.
type fakeTranscoder struct {
	mu    sync.Mutex
	calls int
	fail  func(req *client.TranscodeRequest) bool
}

func (f *fakeTranscoder) Transcode(ctx context.Context, req *client.TranscodeRequest) (*client.RunResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail != nil && f.fail(req) {
		return &client.RunResult{ExitCode: 1, Diagnostics: "moov atom not found"}, nil
	}
	return &client.RunResult{}, os.WriteFile(req.OutputPath, []byte("fake mp4 payload"), 0644)
}

func (f *fakeTranscoder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memoryStore struct {
	mu   sync.Mutex
	jobs map[string]model.Job
}

func (m *memoryStore) Save(ctx context.Context, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *memoryStore) Get(ctx context.Context, jobID string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, service.ErrJobNotFound
	}
	return &job, nil
}

type memoryQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (q *memoryQueue) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{Queue: service.QueueClips}, nil
}

func (q *memoryQueue) Tasks() []*asynq.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*asynq.Task(nil), q.tasks...)
}

// testApp holds all components needed for testing
type testApp struct {
	app        *fiber.App
	cfg        *config.Config
	transcoder *fakeTranscoder
	queue      *memoryQueue
	worker     *worker.ClipWorker
	clips      *service.ClipService
}

// setupApp wires the same routes as main.go with ffmpeg, Redis and the
// queue replaced by in-memory doubles.
func setupApp(t *testing.T) *testApp {
	t.Helper()
	return setupAppWith(t, nil)
}

// setupAppWith is setupApp with transcription enabled when transcriber is set.
func setupAppWith(t *testing.T, transcriber client.Transcriber) *testApp {
	t.Helper()

	cfg := config.Default()
	root := t.TempDir()
	cfg.Storage.WorkDir = filepath.Join(root, "work")
	cfg.Storage.PreviewDir = filepath.Join(root, "previews")
	cfg.Storage.ExportDir = filepath.Join(root, "exports")
	cfg.Pipeline.CopyTimeout = 5 * time.Second
	cfg.Pipeline.Preview.Timeout = 5 * time.Second
	cfg.Pipeline.Final.Timeout = 5 * time.Second
	cfg.Pipeline.MaxSegments = 5

	logger := logging.Discard()
	validate := validator.New()
	transcoder := &fakeTranscoder{}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	resolver := pipeline.NewResolver(nil, transcoder, &cfg.Fetcher, cfg.Storage.WorkDir, logger)
	executor := pipeline.NewExecutor(transcoder, nil, &cfg.Pipeline, &cfg.Storage, logger)
	orchestrator := pipeline.NewOrchestrator(executor, cfg.Pipeline.MaxConcurrency, pipeline.PolicyIsolate, logger)
	bundler := pipeline.NewBundler(cfg.Storage.ExportDir)

	// Empty public base: artifact URLs are made absolute per request.
	clips := service.NewClipService(resolver, orchestrator, bundler, service.NewLocalPublisher(""), &cfg.Pipeline, logger)
	t.Cleanup(clips.Wait)
	if transcriber != nil {
		clips.WithTranscription(transcoder, transcriber)
	}

	queue := &memoryQueue{}
	store := &memoryStore{jobs: map[string]model.Job{}}
	jobs := service.NewClipJobService(store, queue, clips, filepath.Join(cfg.Storage.WorkDir, "staged"))

	// Legacy HMAC auth only
	authMiddleware := middleware.NewLegacyAuthMiddleware(testJWTSecret)

	routes := &handler.Routes{
		Health:      handler.NewHealthHandler(handler.Services{Auth: true}),
		Auth:        handler.NewAuthHandler(nil, testJWTSecret),
		Clips:       handler.NewClipHandler(clips, validate, logger),
		Jobs:        handler.NewJobHandler(jobs, validate, logger),
		Hub:         hub,
		Identify:    authMiddleware.Optional(),
		RequireUser: authMiddleware.Authenticate(),
		PreviewDir:  cfg.Storage.PreviewDir,
		ExportDir:   cfg.Storage.ExportDir,
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024,
	})
	routes.Register(app)

	return &testApp{
		app:        app,
		cfg:        cfg,
		transcoder: transcoder,
		queue:      queue,
		worker:     worker.NewClipWorker(jobs, hub, logger),
		clips:      clips,
	}
}

// generateToken creates a legacy HMAC JWT token for userID.
func generateToken(t *testing.T, userID string) string {
	t.Helper()
	signed, err := auth.GenerateLegacyToken(userID, userID+"@example.com", testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

func bearer(t *testing.T, userID string) map[string]string {
	t.Helper()
	return map[string]string{"Authorization": "Bearer " + generateToken(t, userID)}
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req := httptest.NewRequest(method, path, body)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return app.Test(req, -1)
}

// clipForm builds a multipart body. file is the upload content; an empty
// file omits the part unless emptyFile is set.
type clipForm struct {
	fields    map[string]string
	file      string
	fileName  string
	emptyFile bool
}

func (f clipForm) encode(t *testing.T) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range f.fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if f.file != "" || f.emptyFile {
		name := f.fileName
		if name == "" {
			name = "talk.mp4"
		}
		part, err := w.CreateFormFile("file", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := io.WriteString(part, f.file); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, w.FormDataContentType()
}

// postForm sends a multipart form, authenticated as userID when set.
func postForm(t *testing.T, app *fiber.App, path string, form clipForm, userID string) *http.Response {
	t.Helper()
	body, contentType := form.encode(t)
	headers := map[string]string{"Content-Type": contentType}
	if userID != "" {
		headers["Authorization"] = "Bearer " + generateToken(t, userID)
	}
	resp, err := doRequest(app, http.MethodPost, path, body, headers)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// errorCode extracts error.code from a standard error envelope.
func errorCode(body map[string]interface{}) string {
	e, _ := body["error"].(map[string]interface{})
	code, _ := e["code"].(string)
	return code
}
