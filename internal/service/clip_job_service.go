package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/clipforge/api/internal/model"
	"github.com/clipforge/api/internal/pipeline"
)

const (
	TaskTypeClip      = "clip:process"
	TaskTypeRetention = "retention:sweep"

	QueueClips       = "clips"
	QueueMaintenance = "maintenance"
)

// TaskEnqueuer is the part of *asynq.Client the job service needs.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ClipTask is the asynq payload for TaskTypeClip.
type ClipTask struct {
	JobID   string          `json:"jobId"`
	Payload json.RawMessage `json:"payload"`
}

// ClipJobService queues clip batches and tracks their lifecycle.
type ClipJobService struct {
	store      JobStore
	queue      TaskEnqueuer
	clips      *ClipService
	stagingDir string
}

func NewClipJobService(store JobStore, queue TaskEnqueuer, clips *ClipService, stagingDir string) *ClipJobService {
	return &ClipJobService{
		store:      store,
		queue:      queue,
		clips:      clips,
		stagingDir: stagingDir,
	}
}

// StartJob validates the request, stages any upload so the worker can read
// it later, and enqueues the batch.
func (s *ClipJobService) StartJob(ctx context.Context, req *model.ClipRequest) (*model.JobStartResponse, error) {
	if _, err := s.clips.Ranges(req); err != nil {
		return nil, err
	}

	jobID := uuid.New().String()
	now := time.Now()

	payload := &model.ClipJobPayload{
		OwnerID:           req.OwnerID,
		URL:               req.URL,
		Sections:          req.Sections,
		Watermark:         req.Watermark,
		WatermarkText:     req.WatermarkText,
		Preview:           req.Preview,
		Final:             req.Final,
		IncludeTranscript: req.IncludeTranscript,
	}
	if req.Upload != nil {
		path, err := s.stage(jobID, req.Upload)
		if err != nil {
			return nil, fmt.Errorf("failed to stage upload: %w", err)
		}
		payload.StagedPath = path
		payload.StagedName = req.UploadName
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		s.DiscardStaged(payload)
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	job := &model.Job{
		ID:        jobID,
		Type:      model.JobTypeClip,
		OwnerID:   req.OwnerID,
		Status:    model.JobStatusQueued,
		Segments:  len(req.Sections),
		Payload:   payloadBytes,
		CreatedAt: now,
	}
	if err := s.store.Save(ctx, job); err != nil {
		s.DiscardStaged(payload)
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	task, err := newClipTask(jobID, payloadBytes)
	if err != nil {
		s.DiscardStaged(payload)
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	_, err = s.queue.EnqueueContext(ctx, task,
		asynq.Queue(QueueClips),
		asynq.MaxRetry(0),
		asynq.Timeout(2*time.Hour),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		s.DiscardStaged(payload)
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.JobStartResponse{
		JobID:     jobID,
		Status:    model.JobStatusQueued,
		Segments:  job.Segments,
		CreatedAt: now,
	}, nil
}

func (s *ClipJobService) stage(jobID string, body io.Reader) (string, error) {
	dir := filepath.Join(s.stagingDir, jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "upload")
	f, err := os.Create(path)
	if err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.RemoveAll(dir)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	return path, nil
}

// DiscardStaged removes the staged upload of a payload, if it has one.
func (s *ClipJobService) DiscardStaged(payload *model.ClipJobPayload) {
	if payload.StagedPath != "" {
		os.RemoveAll(filepath.Dir(payload.StagedPath))
	}
}

// Request rebuilds the clip request a worker runs from a queued payload.
// The caller closes the returned closer once the batch is done.
func (s *ClipJobService) Request(payload *model.ClipJobPayload) (*model.ClipRequest, io.Closer, error) {
	req := &model.ClipRequest{
		OwnerID:           payload.OwnerID,
		URL:               payload.URL,
		Sections:          payload.Sections,
		Watermark:         payload.Watermark,
		WatermarkText:     payload.WatermarkText,
		Preview:           payload.Preview,
		Final:             payload.Final,
		IncludeTranscript: payload.IncludeTranscript,
	}
	if payload.StagedPath == "" {
		return req, io.NopCloser(nil), nil
	}
	f, err := os.Open(payload.StagedPath)
	if err != nil {
		return nil, nil, fmt.Errorf("staged upload missing: %w", err)
	}
	req.Upload = f
	req.UploadName = payload.StagedName
	return req, f, nil
}

// Clips exposes the synchronous service the worker runs batches with.
func (s *ClipJobService) Clips() *ClipService {
	return s.clips
}

// GetStatus returns the job's progress. Jobs owned by someone else are not found.
func (s *ClipJobService) GetStatus(ctx context.Context, jobID, ownerID string) (*model.JobStatusResponse, error) {
	job, err := s.owned(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}
	return &model.JobStatusResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		Segments:    job.Segments,
		Settled:     job.Settled,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		RetryCount:  job.RetryCount,
	}, nil
}

// GetResult returns the response of a succeeded job.
func (s *ClipJobService) GetResult(ctx context.Context, jobID, ownerID string) (*model.ClipResponse, error) {
	job, err := s.owned(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusSucceeded {
		return nil, ErrJobNotCompleted
	}

	var result model.ClipResponse
	if err := json.Unmarshal(job.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &result, nil
}

func (s *ClipJobService) owned(ctx context.Context, jobID, ownerID string) (*model.Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != "" && job.OwnerID != ownerID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// UpdateProgress records how many sections have settled (called by worker).
func (s *ClipJobService) UpdateProgress(ctx context.Context, jobID string, settled int, step string) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	if job.Status == model.JobStatusQueued {
		job.Status = model.JobStatusRunning
		now := time.Now()
		job.StartedAt = &now
	}
	job.Settled = settled
	job.CurrentStep = step
	if job.Segments > 0 {
		// 100 is reserved for completion.
		job.Progress = min(99, settled*100/job.Segments)
	}
	return s.store.Save(ctx, job)
}

// CompleteJob stores the result and marks the job succeeded (called by worker).
func (s *ClipJobService) CompleteJob(ctx context.Context, jobID string, result *model.ClipResponse) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}

	resultBytes, err := json.Marshal(result)
	if err != nil {
		return err
	}

	now := time.Now()
	job.Status = model.JobStatusSucceeded
	job.Progress = 100
	job.Settled = len(result.Items)
	job.CurrentStep = ""
	job.Result = resultBytes
	job.CompletedAt = &now
	return s.store.Save(ctx, job)
}

// FailJob marks the job failed (called by worker).
func (s *ClipJobService) FailJob(ctx context.Context, jobID string, errMsg string) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}

	now := time.Now()
	job.Status = model.JobStatusFailed
	job.Error = &errMsg
	job.CompletedAt = &now
	return s.store.Save(ctx, job)
}

func newClipTask(jobID string, payload []byte) (*asynq.Task, error) {
	data, err := json.Marshal(ClipTask{JobID: jobID, Payload: payload})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeClip, data), nil
}

// NewRetentionTask builds the periodic sweep task.
func NewRetentionTask() *asynq.Task {
	return asynq.NewTask(TaskTypeRetention, nil)
}

// ErrorCode maps a batch-level failure onto the code reported to clients.
func ErrorCode(err error) string {
	if kind := pipeline.KindOf(err); kind != "" {
		return string(kind)
	}
	return "INTERNAL_ERROR"
}
