package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/clipforge/api/internal/logging"
	"github.com/clipforge/api/internal/model"
	"github.com/clipforge/api/internal/service"
)

// Notifier pushes job updates to live subscribers.
type Notifier interface {
	BroadcastProgress(jobID string, progress int, status model.JobStatus, step string)
	BroadcastSegment(jobID string, item model.ClipItem)
	BroadcastComplete(jobID string, result interface{})
	BroadcastError(jobID string, code, message string)
}

// ClipWorker runs queued clip batches.
type ClipWorker struct {
	jobs     *service.ClipJobService
	notifier Notifier
	logger   *slog.Logger
}

func NewClipWorker(jobs *service.ClipJobService, notifier Notifier, logger *slog.Logger) *ClipWorker {
	return &ClipWorker{
		jobs:     jobs,
		notifier: notifier,
		logger:   logging.WithComponent(logger, "clip_worker"),
	}
}

// ProcessTask handles TaskTypeClip.
func (w *ClipWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var task service.ClipTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}
	jobID := task.JobID
	logger := logging.WithJobID(w.logger, jobID)

	var payload model.ClipJobPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		w.failJob(ctx, jobID, "INVALID_REQUEST", "invalid job payload")
		return fmt.Errorf("failed to unmarshal clip payload: %v: %w", err, asynq.SkipRetry)
	}
	defer w.jobs.DiscardStaged(&payload)

	req, closer, err := w.jobs.Request(&payload)
	if err != nil {
		w.failJob(ctx, jobID, "SOURCE_FETCH_FAILURE", err.Error())
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	defer closer.Close()

	logger.Info("clip job started", slog.Int("sections", len(req.Sections)))
	w.updateProgress(ctx, jobID, 0, len(req.Sections), "resolving source")

	resp, err := w.jobs.Clips().Run(ctx, req, func(settled, total int, item model.ClipItem) {
		w.notifier.BroadcastSegment(jobID, item)
		w.updateProgress(ctx, jobID, settled, total, fmt.Sprintf("%d/%d sections", settled, total))
	})
	if err != nil {
		w.failJob(ctx, jobID, service.ErrorCode(err), err.Error())
		logger.Warn("clip job failed", slog.String("error", err.Error()))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if err := w.jobs.CompleteJob(ctx, jobID, resp); err != nil {
		w.failJob(ctx, jobID, "INTERNAL_ERROR", "failed to save result")
		return err
	}

	w.notifier.BroadcastComplete(jobID, resp)
	logger.Info("clip job completed",
		slog.Int("sections", len(resp.Items)),
		slog.Int("succeeded", resp.Succeeded()),
	)
	return nil
}

func (w *ClipWorker) updateProgress(ctx context.Context, jobID string, settled, total int, step string) {
	if err := w.jobs.UpdateProgress(ctx, jobID, settled, step); err != nil {
		w.logger.Warn("failed to update progress", slog.String("job_id", jobID), slog.String("error", err.Error()))
	}
	progress := 0
	if total > 0 {
		progress = min(99, settled*100/total)
	}
	w.notifier.BroadcastProgress(jobID, progress, model.JobStatusRunning, step)
}

func (w *ClipWorker) failJob(ctx context.Context, jobID, code, errMsg string) {
	if err := w.jobs.FailJob(ctx, jobID, errMsg); err != nil {
		w.logger.Error("failed to mark job as failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
	}
	w.notifier.BroadcastError(jobID, code, errMsg)
}
