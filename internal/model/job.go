package model

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCanceled
}

// Job types
const (
	JobTypeClip = "clip"
)

// Job represents a background job in the system
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	OwnerID     string          `json:"ownerId,omitempty"`
	Status      JobStatus       `json:"status"`
	Progress    int             `json:"progress"`
	CurrentStep string          `json:"currentStep,omitempty"`
	Segments    int             `json:"segments"`
	Settled     int             `json:"settled"`
	Error       *string         `json:"error,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	RetryCount  int             `json:"retryCount"`
}

// ClipJobPayload is what the worker needs to run a queued batch. The
// source has already been staged to StagedPath when the job came from an upload.
type ClipJobPayload struct {
	OwnerID           string    `json:"ownerId,omitempty"`
	StagedPath        string    `json:"stagedPath,omitempty"`
	StagedName        string    `json:"stagedName,omitempty"`
	URL               string    `json:"url,omitempty"`
	Sections          []Section `json:"sections"`
	Watermark         bool      `json:"watermark"`
	WatermarkText     string    `json:"wmText,omitempty"`
	Preview           bool      `json:"preview"`
	Final             bool      `json:"final"`
	IncludeTranscript bool      `json:"includeTranscript"`
}

// JobStartResponse is returned when a job is accepted.
type JobStartResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	Segments  int       `json:"segments"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobStatusResponse reports a queued or running job.
type JobStatusResponse struct {
	JobID       string     `json:"jobId"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Segments    int        `json:"segments"`
	Settled     int        `json:"settled"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	RetryCount  int        `json:"retryCount"`
}
