package store

import (
	"database/sql"
	"time"

	"github.com/datallboy/nzbleecher/internal/domain"
)

// historyDBO maps to the history table
type historyDBO struct {
	ID             string         `db:"id"`
	ArchiveName    string         `db:"archive_name"`
	NZBPath        string         `db:"nzb_path"`
	OutputDir      sql.NullString `db:"output_dir"`
	Status         string         `db:"status"`
	TotalBytes     int64          `db:"total_bytes"`
	ReadBytes      int64          `db:"read_bytes"`
	SkippedBytes   int64          `db:"skipped_bytes"`
	FailedSegments int            `db:"failed_segments"`
	Error          sql.NullString `db:"error"`
	StartedAt      int64          `db:"started_at"`
	FinishedAt     int64          `db:"finished_at"`
}

// Mapper: DBO to Domain HistoryRecord
func (h *historyDBO) ToDomain() *domain.HistoryRecord {
	return &domain.HistoryRecord{
		ID:             h.ID,
		ArchiveName:    h.ArchiveName,
		NZBPath:        h.NZBPath,
		OutputDir:      h.OutputDir.String,
		Status:         domain.JobStatus(h.Status),
		TotalBytes:     h.TotalBytes,
		ReadBytes:      h.ReadBytes,
		SkippedBytes:   h.SkippedBytes,
		FailedSegments: h.FailedSegments,
		Error:          h.Error.String,
		StartedAt:      time.Unix(h.StartedAt, 0),
		FinishedAt:     time.Unix(h.FinishedAt, 0),
	}
}

// Mapper: Domain HistoryRecord to DBO
func (h *historyDBO) FromDomain(rec *domain.HistoryRecord) {
	h.ID = rec.ID
	h.ArchiveName = rec.ArchiveName
	h.NZBPath = rec.NZBPath
	h.OutputDir = sql.NullString{String: rec.OutputDir, Valid: rec.OutputDir != ""}
	h.Status = string(rec.Status)
	h.TotalBytes = rec.TotalBytes
	h.ReadBytes = rec.ReadBytes
	h.SkippedBytes = rec.SkippedBytes
	h.FailedSegments = rec.FailedSegments
	h.Error = sql.NullString{String: rec.Error, Valid: rec.Error != ""}
	h.StartedAt = unixOrZero(rec.StartedAt)
	h.FinishedAt = unixOrZero(rec.FinishedAt)
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
