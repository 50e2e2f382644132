package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/datallboy/nzbleecher/internal/domain"
)

const historyColumns = `id, archive_name, nzb_path, output_dir, status, total_bytes, read_bytes,
	skipped_bytes, failed_segments, error, started_at, finished_at`

func (s *PersistentStore) SaveHistory(ctx context.Context, rec *domain.HistoryRecord) error {
	var dbo historyDBO
	dbo.FromDomain(rec)

	query := `INSERT OR REPLACE INTO history (` + historyColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		dbo.ID,
		dbo.ArchiveName,
		dbo.NZBPath,
		dbo.OutputDir,
		dbo.Status,
		dbo.TotalBytes,
		dbo.ReadBytes,
		dbo.SkippedBytes,
		dbo.FailedSegments,
		dbo.Error,
		dbo.StartedAt,
		dbo.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save history record %s: %w", rec.ID, err)
	}
	return nil
}

// GetHistory returns the newest records first. A limit of zero or less
// returns everything.
func (s *PersistentStore) GetHistory(ctx context.Context, limit int) ([]*domain.HistoryRecord, error) {
	query := `SELECT ` + historyColumns + ` FROM history ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	defer rows.Close()

	var out []*domain.HistoryRecord
	for rows.Next() {
		dbo, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dbo.ToDomain())
	}
	return out, rows.Err()
}

// GetHistoryRecord returns nil, nil when id is unknown.
func (s *PersistentStore) GetHistoryRecord(ctx context.Context, id string) (*domain.HistoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM history WHERE id = ? LIMIT 1`, id)

	dbo, err := scanHistory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Return nil, nil to indicate "Not found"
		}
		return nil, fmt.Errorf("failed to fetch history record: %w", err)
	}
	return dbo.ToDomain(), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHistory(row scanner) (*historyDBO, error) {
	var h historyDBO
	err := row.Scan(
		&h.ID, &h.ArchiveName, &h.NZBPath, &h.OutputDir, &h.Status,
		&h.TotalBytes, &h.ReadBytes, &h.SkippedBytes, &h.FailedSegments,
		&h.Error, &h.StartedAt, &h.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}
