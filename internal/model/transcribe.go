package model

import (
	"io"
	"time"
)

// TranscribeRequest is a standalone transcription submission. Exactly one of
// Upload or URL is set.
type TranscribeRequest struct {
	OwnerID    string    `validate:"-"`
	Upload     io.Reader `validate:"-"`
	UploadName string    `validate:"max=255"`
	URL        string    `validate:"omitempty,url,max=2048"`
}

// TranscribeResponse carries the transcript of a whole source.
type TranscribeResponse struct {
	Text        string    `json:"text"`
	SourceName  string    `json:"sourceName"`
	CompletedAt time.Time `json:"completedAt"`
}
