package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	def := Default()

	if cfg.Pipeline.MaxConcurrency != def.Pipeline.MaxConcurrency || cfg.Pipeline.MaxConcurrency != 3 {
		t.Errorf("max concurrency = %d", cfg.Pipeline.MaxConcurrency)
	}
	if cfg.Pipeline.MaxClipSeconds != 3600 || cfg.Pipeline.MaxSegments != 10 {
		t.Errorf("unexpected limits %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.BatchPolicy != "isolate" {
		t.Errorf("batch policy = %q", cfg.Pipeline.BatchPolicy)
	}
	if cfg.Pipeline.Preview.Height != 480 || cfg.Pipeline.Final.Height != 1080 {
		t.Errorf("unexpected tier heights %d/%d", cfg.Pipeline.Preview.Height, cfg.Pipeline.Final.Height)
	}
	if cfg.Pipeline.Preview.Timeout >= cfg.Pipeline.Final.Timeout {
		t.Error("preview timeout must be shorter than final")
	}
	if cfg.Pipeline.ExtractTimeout != 5*time.Minute || cfg.Fetcher.RemuxTimeout != 5*time.Minute {
		t.Errorf("unexpected subprocess bounds extract=%v remux=%v", cfg.Pipeline.ExtractTimeout, cfg.Fetcher.RemuxTimeout)
	}
	if cfg.Storage.SweepInterval != time.Hour || cfg.Storage.RetentionDays != 7 {
		t.Errorf("unexpected storage %+v", cfg.Storage)
	}
	if len(cfg.Fetcher.HostedDomains) == 0 {
		t.Error("expected hosted domains")
	}
	if cfg.Server.BodyLimit != def.Server.BodyLimit {
		t.Errorf("body limit = %d, want %d", cfg.Server.BodyLimit, def.Server.BodyLimit)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MAX_CONCURRENCY", "5")
	t.Setenv("BATCH_POLICY", "fail_fast")
	t.Setenv("PUBLIC_BASE", "https://clips.example.com/")
	t.Setenv("SWEEP_INTERVAL", "15m")
	t.Setenv("REMUX_TIMEOUT", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pipeline.MaxConcurrency != 5 {
		t.Errorf("max concurrency = %d", cfg.Pipeline.MaxConcurrency)
	}
	if cfg.Pipeline.BatchPolicy != "fail_fast" {
		t.Errorf("batch policy = %q", cfg.Pipeline.BatchPolicy)
	}
	if cfg.Server.PublicBase != "https://clips.example.com" {
		t.Errorf("public base = %q", cfg.Server.PublicBase)
	}
	if cfg.Storage.SweepInterval != 15*time.Minute {
		t.Errorf("sweep interval = %v", cfg.Storage.SweepInterval)
	}
	if cfg.Fetcher.RemuxTimeout != 90*time.Second {
		t.Errorf("remux timeout = %v", cfg.Fetcher.RemuxTimeout)
	}
}

func TestLoadSecretFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "groq_key")
	if err := os.WriteFile(path, []byte("gsk_from_file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("GROQ_API_KEY_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Transcribe.APIKey != "gsk_from_file" {
		t.Errorf("api key = %q", cfg.Transcribe.APIKey)
	}
}
