package model

import "time"

// HistoryEntry is one row of the persistence service's history table.
type HistoryEntry struct {
	ID         string     `json:"id,omitempty"`
	UserID     string     `json:"user_id"`
	JobType    string     `json:"job_type"`
	SourceName string     `json:"source_name"`
	Duration   float64    `json:"duration"`
	Segments   int        `json:"segments"`
	Succeeded  int        `json:"succeeded"`
	ZipURL     *string    `json:"zip_url,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

// HistoryResponse lists the caller's recent clip runs.
type HistoryResponse struct {
	Items []HistoryEntry `json:"items"`
}
