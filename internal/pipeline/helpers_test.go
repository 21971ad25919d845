package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/clipforge/api/internal/client"
	"github.com/clipforge/api/internal/config"
	"github.com/clipforge/api/internal/logging"
)

// fakeTranscoder records requests and delegates to fn. The default fn
// writes a small file to the output path and exits 0.
type fakeTranscoder struct {
	mu    sync.Mutex
	calls []client.TranscodeRequest
	fn    func(ctx context.Context, req *client.TranscodeRequest) (*client.RunResult, error)
}

func (f *fakeTranscoder) Transcode(ctx context.Context, req *client.TranscodeRequest) (*client.RunResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, *req)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, req)
	}
	return succeed(req)
}

func (f *fakeTranscoder) Calls() []client.TranscodeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]client.TranscodeRequest(nil), f.calls...)
}

func succeed(req *client.TranscodeRequest) (*client.RunResult, error) {
	if err := os.WriteFile(req.OutputPath, []byte("fake mp4 payload"), 0644); err != nil {
		return nil, err
	}
	return &client.RunResult{ExitCode: 0}, nil
}

func fail(code int, stderr string) (*client.RunResult, error) {
	return &client.RunResult{ExitCode: code, Diagnostics: stderr}, nil
}

func blockUntilDone(ctx context.Context, _ *client.TranscodeRequest) (*client.RunResult, error) {
	<-ctx.Done()
	return &client.RunResult{ExitCode: -1, Diagnostics: "killed"}, ctx.Err()
}

// fakeProber reports the requested duration for every output it was asked about.
type fakeProber struct {
	duration float64
	err      error
}

func (p *fakeProber) ProbeDuration(ctx context.Context, path string) (float64, error) {
	return p.duration, p.err
}

func testConfig(t *testing.T) (*config.PipelineConfig, *config.StorageConfig) {
	t.Helper()
	cfg := config.Default()
	root := t.TempDir()
	cfg.Storage.WorkDir = filepath.Join(root, "work")
	cfg.Storage.PreviewDir = filepath.Join(root, "previews")
	cfg.Storage.ExportDir = filepath.Join(root, "exports")
	cfg.Pipeline.CopyTimeout = 5 * time.Second
	cfg.Pipeline.Preview.Timeout = 5 * time.Second
	cfg.Pipeline.Final.Timeout = 5 * time.Second
	return &cfg.Pipeline, &cfg.Storage
}

func newTestExecutor(t *testing.T, tr client.Transcoder, pr client.Prober) (*Executor, *config.PipelineConfig, *config.StorageConfig) {
	t.Helper()
	pcfg, scfg := testConfig(t)
	return NewExecutor(tr, pr, pcfg, scfg, logging.Discard()), pcfg, scfg
}

func testSource(t *testing.T) *LocalSource {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "upload_talk.mp4")
	if err := os.WriteFile(path, []byte("source bytes"), 0644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return &LocalSource{Path: path, Dir: dir, Name: "talk.mp4", SizeBytes: 12}
}

func assertKind(t *testing.T, err error, want ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("expected kind %s, got %s (%v)", want, got, err)
	}
}
