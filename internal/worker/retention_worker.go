package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"

	"github.com/clipforge/api/internal/config"
	"github.com/clipforge/api/internal/logging"
)

// staleWorkAge bounds how long an abandoned work or staging directory may live.
const staleWorkAge = 6 * time.Hour

// RetentionWorker deletes published artifacts past their retention and
// work directories left behind by crashed runs.
type RetentionWorker struct {
	artifactDirs []string
	workRoots    []string
	maxAge       time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// NewRetentionWorker sweeps the preview and export dirs, plus every work
// root given (the pipeline work dir and the upload staging dir).
func NewRetentionWorker(storage *config.StorageConfig, workRoots []string, logger *slog.Logger) *RetentionWorker {
	return &RetentionWorker{
		artifactDirs: []string{storage.PreviewDir, storage.ExportDir},
		workRoots:    workRoots,
		maxAge:       time.Duration(storage.RetentionDays) * 24 * time.Hour,
		now:          time.Now,
		logger:       logging.WithComponent(logger, "retention"),
	}
}

// ProcessTask handles TaskTypeRetention.
func (w *RetentionWorker) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	removed, err := w.Sweep(ctx)
	if err != nil {
		return err
	}
	w.logger.Info("retention sweep finished", slog.Int("removed", removed))
	return nil
}

// Sweep removes expired entries and returns how many were deleted. A
// retention of zero days keeps artifacts forever.
func (w *RetentionWorker) Sweep(ctx context.Context) (int, error) {
	now := w.now()
	removed := 0
	var errs []error

	if w.maxAge > 0 {
		for _, dir := range w.artifactDirs {
			n, err := w.sweepDir(ctx, dir, now.Add(-w.maxAge), false)
			removed += n
			errs = append(errs, err)
		}
	}
	for _, dir := range w.workRoots {
		n, err := w.sweepDir(ctx, dir, now.Add(-staleWorkAge), true)
		removed += n
		errs = append(errs, err)
	}
	return removed, errors.Join(errs...)
}

func (w *RetentionWorker) sweepDir(ctx context.Context, dir string, cutoff time.Time, dirs bool) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		path := filepath.Join(dir, e.Name())
		if e.IsDir() != dirs || w.isRoot(path) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			w.logger.Warn("failed to remove expired entry", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		removed++
	}
	return removed, nil
}

func (w *RetentionWorker) isRoot(path string) bool {
	for _, root := range w.workRoots {
		if filepath.Clean(root) == filepath.Clean(path) {
			return true
		}
	}
	return false
}
