package model

import (
	"io"
	"time"
)

// Section is one requested time range, still in text form.
type Section struct {
	Start string `json:"start" validate:"required,max=32"`
	End   string `json:"end" validate:"required,max=32"`
}

// ClipRequest is a parsed clip submission. Exactly one of Upload or URL is set.
type ClipRequest struct {
	OwnerID    string    `validate:"-"`
	Upload     io.Reader `validate:"-"`
	UploadName string    `validate:"max=255"`
	URL        string    `validate:"omitempty,url,max=2048"`

	Sections []Section `validate:"required,min=1,dive"`

	Watermark         bool
	WatermarkText     string `validate:"max=100"`
	Preview           bool
	Final             bool
	IncludeTranscript bool
}

// ItemError describes why one segment failed.
type ItemError struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	Diagnostic    string `json:"diagnostic,omitempty"`
	FastPathTried bool   `json:"fastPathTried,omitempty"`
}

// ClipItem is the outcome of one requested section.
type ClipItem struct {
	Index          int        `json:"index"`
	Start          string     `json:"start"`
	End            string     `json:"end"`
	Duration       float64    `json:"duration"`
	OK             bool       `json:"ok"`
	PreviewURL     *string    `json:"previewUrl,omitempty"`
	PreviewSeconds *float64   `json:"previewSeconds,omitempty"`
	PreviewBytes   *int64     `json:"previewBytes,omitempty"`
	FinalURL       *string    `json:"finalUrl,omitempty"`
	FinalSeconds   *float64   `json:"finalSeconds,omitempty"`
	FinalBytes     *int64     `json:"finalBytes,omitempty"`
	Transcript     string     `json:"transcript,omitempty"`
	Error          *ItemError `json:"error,omitempty"`
}

// ClipResponse is returned by the multi-section endpoints and stored as the
// result of async jobs.
type ClipResponse struct {
	Items        []ClipItem `json:"items"`
	ZipURL       *string    `json:"zipUrl,omitempty"`
	ZipBytes     *int64     `json:"zipBytes,omitempty"`
	SourceName   string     `json:"sourceName"`
	TotalSeconds float64    `json:"totalSeconds"`
	CompletedAt  time.Time  `json:"completedAt"`
}

// Succeeded counts the items that produced artifacts.
func (r *ClipResponse) Succeeded() int {
	n := 0
	for _, it := range r.Items {
		if it.OK {
			n++
		}
	}
	return n
}
