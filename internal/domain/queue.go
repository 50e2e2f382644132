package domain

import (
	"time"
)

type JobStatus string

const (
	StatusPending     JobStatus = "pending"
	StatusDownloading JobStatus = "downloading"
	StatusProcessing  JobStatus = "processing" // par2 repair and extraction
	StatusPostponed   JobStatus = "postponed"
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
	StatusCancelled   JobStatus = "cancelled"
)

// ArchiveStatus is a point in time view of one archive in the queue.
type ArchiveStatus struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Status         JobStatus `json:"status"`
	Files          int       `json:"files"`
	TotalBytes     int64     `json:"total_bytes"`
	QueuedBytes    int64     `json:"queued_bytes"`
	ReadBytes      int64     `json:"read_bytes"`
	SkippedBytes   int64     `json:"skipped_bytes"`
	FailedSegments int       `json:"failed_segments"`
	StartedAt      time.Time `json:"started_at"`
}

// QueueStatus is what the remote control reports.
type QueueStatus struct {
	Archives       []ArchiveStatus `json:"archives"`
	QueuedBytes    int64           `json:"queued_bytes"`
	QueuedSegments int             `json:"queued_segments"`
	Postponed      []string        `json:"postponed"`
	Pools          []string        `json:"pools"`
}

// HistoryRecord is the outcome of one archive, kept after it leaves the queue.
type HistoryRecord struct {
	ID             string    `json:"id"`
	ArchiveName    string    `json:"archive_name"`
	NZBPath        string    `json:"nzb_path"`
	OutputDir      string    `json:"output_dir"`
	Status         JobStatus `json:"status"`
	TotalBytes     int64     `json:"total_bytes"`
	ReadBytes      int64     `json:"read_bytes"`
	SkippedBytes   int64     `json:"skipped_bytes"`
	FailedSegments int       `json:"failed_segments"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}
