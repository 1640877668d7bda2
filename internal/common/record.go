package common

import (
	"time"

	"github.com/google/uuid"
)

// DownloadRecord is the persistent entity describing one download. The
// registry stores it as a JSON row; timestamps serialize as RFC 3339.
type DownloadRecord struct {
	ID              uuid.UUID `json:"id"`
	URL             string    `json:"url"`
	Filename        string    `json:"filename"`
	SavePath        string    `json:"save_path"`
	TotalBytes      int64     `json:"total_bytes"`
	DownloadedBytes int64     `json:"downloaded_bytes"`
	Status          Status    `json:"status"`
	StartTime       time.Time `json:"start_time,omitempty"`
	EndTime         time.Time `json:"end_time,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	MimeType        string    `json:"mime_type,omitempty"`
	Referrer        string    `json:"referrer,omitempty"`
}

// Clone returns a copy safe to hand out to callers.
func (r *DownloadRecord) Clone() *DownloadRecord {
	c := *r
	return &c
}

// ProbeInfo holds metadata gathered by the best-effort pre-download probe.
type ProbeInfo struct {
	URL                string
	MimeType           string
	TotalSize          int64
	ContentDisposition string
}

// Stats aggregates counts across all downloads for status displays.
type Stats struct {
	Active          int
	Queued          int
	Paused          int
	Completed       int
	Failed          int
	Cancelled       int
	TotalDownloaded int64
	MaxConcurrent   int
}
