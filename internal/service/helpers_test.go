package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/clipforge/api/internal/client"
	"github.com/clipforge/api/internal/config"
	"github.com/clipforge/api/internal/logging"
	"github.com/clipforge/api/internal/model"
	"github.com/clipforge/api/internal/pipeline"
)

type fakeTranscoder struct {
	mu    sync.Mutex
	calls []client.TranscodeRequest
	fn    func(req *client.TranscodeRequest) (*client.RunResult, error)
}

func (f *fakeTranscoder) Transcode(ctx context.Context, req *client.TranscodeRequest) (*client.RunResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, *req)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(req)
	}
	return &client.RunResult{}, os.WriteFile(req.OutputPath, []byte("fake mp4 payload"), 0644)
}

func (f *fakeTranscoder) Calls() []client.TranscodeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]client.TranscodeRequest(nil), f.calls...)
}

type fakeTranscriber struct {
	text  string
	err   error
	calls int
	paths []string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	f.calls++
	f.paths = append(f.paths, audioPath)
	return f.text, f.err
}

func (f *fakeTranscriber) IsConfigured() bool { return true }

type fakeHistory struct {
	mu      sync.Mutex
	entries []model.HistoryEntry
	charged map[string]int
}

func (h *fakeHistory) Record(ctx context.Context, entry *model.HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, *entry)
	return nil
}

func (h *fakeHistory) ChargeSeconds(ctx context.Context, userID string, seconds int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.charged == nil {
		h.charged = map[string]int{}
	}
	h.charged[userID] += seconds
	return nil
}

func (h *fakeHistory) List(ctx context.Context, userID string, limit int) ([]model.HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []model.HistoryEntry
	for _, e := range h.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (h *fakeHistory) IsConfigured() bool { return true }

type memoryStore struct {
	mu   sync.Mutex
	jobs map[string]model.Job
}

func newMemoryStore() *memoryStore {
	return &memoryStore{jobs: map[string]model.Job{}}
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
		return nil, ErrJobNotFound
	}
	return &job, nil
}

type fakeQueue struct {
	tasks []*asynq.Task
	err   error
}

func (q *fakeQueue) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueClips}, nil
}

type testEnv struct {
	cfg        *config.Config
	transcoder *fakeTranscoder
	svc        *ClipService
}

func newTestEnv(t *testing.T, tr *fakeTranscoder) *testEnv {
	t.Helper()
	if tr == nil {
		tr = &fakeTranscoder{}
	}
	cfg := config.Default()
	root := t.TempDir()
	cfg.Storage.WorkDir = filepath.Join(root, "work")
	cfg.Storage.PreviewDir = filepath.Join(root, "previews")
	cfg.Storage.ExportDir = filepath.Join(root, "exports")
	cfg.Pipeline.CopyTimeout = 5 * time.Second
	cfg.Pipeline.Preview.Timeout = 5 * time.Second
	cfg.Pipeline.Final.Timeout = 5 * time.Second
	cfg.Fetcher.AllowPrivateHosts = true

	logger := logging.Discard()
	resolver := pipeline.NewResolver(nil, tr, &cfg.Fetcher, cfg.Storage.WorkDir, logger)
	executor := pipeline.NewExecutor(tr, nil, &cfg.Pipeline, &cfg.Storage, logger)
	orchestrator := pipeline.NewOrchestrator(executor, cfg.Pipeline.MaxConcurrency, pipeline.PolicyIsolate, logger)
	bundler := pipeline.NewBundler(cfg.Storage.ExportDir)
	svc := NewClipService(resolver, orchestrator, bundler, NewLocalPublisher("http://clips.test"), &cfg.Pipeline, logger)

	return &testEnv{cfg: cfg, transcoder: tr, svc: svc}
}

func assertKind(t *testing.T, err error, want pipeline.ErrorKind) {
	t.Helper()
	if got := pipeline.KindOf(err); got != want {
		t.Fatalf("expected %s, got %q (%v)", want, got, err)
	}
}
