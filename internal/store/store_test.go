package store

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/datallboy/nzbleecher/internal/domain"
	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*PersistentStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewPersistentStore(filepath.Join(dir, "db", "test.db"), filepath.Join(dir, "nzb"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func TestHistoryRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	started := time.Unix(1700000000, 0)
	rec := &domain.HistoryRecord{
		ID:             ksuid.New().String(),
		ArchiveName:    "test",
		NZBPath:        "/data/nzb/test.nzb",
		OutputDir:      "/downloads/completed/test",
		Status:         domain.StatusFailed,
		TotalBytes:     300,
		ReadBytes:      200,
		SkippedBytes:   0,
		FailedSegments: 1,
		Error:          "1 segments could not be downloaded",
		StartedAt:      started,
		FinishedAt:     started.Add(time.Minute),
	}
	require.NoError(t, s.SaveHistory(ctx, rec))

	got, err := s.GetHistoryRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ArchiveName, got.ArchiveName)
	assert.Equal(t, rec.Status, got.Status)
	assert.Equal(t, rec.Error, got.Error)
	assert.Equal(t, 1, got.FailedSegments)
	assert.True(t, rec.FinishedAt.Equal(got.FinishedAt))

	missing, err := s.GetHistoryRecord(ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestHistoryNewestFirst(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	var ids []string
	for i := range 3 {
		id, err := ksuid.NewRandomWithTime(base.Add(time.Duration(i) * time.Second))
		require.NoError(t, err)
		ids = append(ids, id.String())
		require.NoError(t, s.SaveHistory(ctx, &domain.HistoryRecord{
			ID:          id.String(),
			ArchiveName: "archive",
			NZBPath:     "archive.nzb",
			Status:      domain.StatusCompleted,
		}))
	}

	all, err := s.GetHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID)
	assert.Equal(t, ids[0], all[2].ID)
	assert.Empty(t, all[0].OutputDir)

	limited, err := s.GetHistory(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestReopenKeepsHistory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewPersistentStore(dbPath, filepath.Join(dir, "nzb"))
	require.NoError(t, err)
	require.NoError(t, s.SaveHistory(context.Background(), &domain.HistoryRecord{
		ID: ksuid.New().String(), ArchiveName: "a", NZBPath: "a.nzb", Status: domain.StatusCancelled,
	}))
	require.NoError(t, s.Close())

	// migrations have nothing left to do
	s, err = NewPersistentStore(dbPath, filepath.Join(dir, "nzb"))
	require.NoError(t, err)
	defer s.Close()

	all, err := s.GetHistory(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSaveNZB(t *testing.T) {
	s, dir := newTestStore(t)

	path, err := s.SaveNZB("../../My Show?.nzb", strings.NewReader("<nzb/>"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "nzb", "My Show_.nzb"), path)
	assert.True(t, s.Exists("My Show_.nzb"))

	r, err := s.GetNZBReader("My Show_.nzb")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	r.Close()
	require.NoError(t, err)
	assert.Equal(t, "<nzb/>", string(data))

	path, err = s.SaveNZB("noext", strings.NewReader("<nzb/>"))
	require.NoError(t, err)
	assert.Equal(t, "noext.nzb", filepath.Base(path))

	_, err = s.SaveNZB("", strings.NewReader("x"))
	assert.Error(t, err)

	// no temp files are left behind
	entries, err := os.ReadDir(filepath.Join(dir, "nzb"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
