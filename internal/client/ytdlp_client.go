package client

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/clipforge/api/internal/config"
)

// FetchResult is the outcome of a media fetcher run. Path is empty when the
// fetcher left no file behind.
type FetchResult struct {
	Path        string
	ExitCode    int
	Diagnostics string
}

// Fetcher downloads media from hosting sites into destDir.
type Fetcher interface {
	Fetch(ctx context.Context, url, destDir string) (*FetchResult, error)
}

// YtDlpClient implements Fetcher with yt-dlp.
type YtDlpClient struct {
	path   string
	runner CommandRunner
}

// NewYtDlpClient creates a new yt-dlp client
func NewYtDlpClient(cfg *config.FetcherConfig, logger *slog.Logger) *YtDlpClient {
	path := cfg.YtDlpPath
	if path == "" {
		path = "yt-dlp"
	}
	return &YtDlpClient{path: path, runner: &ExecCommandRunner{Logger: logger}}
}

// NewYtDlpClientWithRunner is NewYtDlpClient with an explicit runner.
func NewYtDlpClientWithRunner(path string, runner CommandRunner) *YtDlpClient {
	return &YtDlpClient{path: path, runner: runner}
}

// Fetch implements Fetcher. The best video+audio pair is merged into mp4
// when the site offers separate streams.
func (c *YtDlpClient) Fetch(ctx context.Context, url, destDir string) (*FetchResult, error) {
	args := []string{
		"--no-playlist",
		"--no-progress",
		"--force-overwrites",
		"-f", "bv*+ba/b",
		"--merge-output-format", "mp4",
		"-o", filepath.Join(destDir, "source.%(ext)s"),
		url,
	}
	res, err := c.runner.Run(ctx, c.path, args...)
	if err != nil {
		return nil, err
	}
	out := &FetchResult{ExitCode: res.ExitCode, Diagnostics: res.Diagnostics}
	if res.ExitCode == 0 {
		out.Path = findFetched(destDir)
	}
	return out, nil
}

// findFetched returns the largest source.* file in dir, skipping yt-dlp's
// partial downloads.
func findFetched(dir string) string {
	matches, _ := filepath.Glob(filepath.Join(dir, "source.*"))
	type candidate struct {
		path string
		size int64
	}
	var found []candidate
	for _, m := range matches {
		ext := filepath.Ext(m)
		if ext == ".part" || ext == ".ytdl" {
			continue
		}
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		found = append(found, candidate{m, info.Size()})
	}
	if len(found) == 0 {
		return ""
	}
	sort.Slice(found, func(i, j int) bool { return found[i].size > found[j].size })
	return found[0].path
}

var _ Fetcher = (*YtDlpClient)(nil)
