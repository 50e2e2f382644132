package store

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/datallboy/nzbleecher/internal/nzb"
	_ "modernc.org/sqlite"
)

type PersistentStore struct {
	db     *sql.DB
	nzbDir string
}

func NewPersistentStore(dbPath, nzbDir string) (*PersistentStore, error) {

	dbDir := filepath.Dir(dbPath)

	// Ensure the database directory exists
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Ensure the nzb directory exist
	if err := os.MkdirAll(nzbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create nzb directory: %w", err)
	}

	// Open the metadata db
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Ping makes sure the file is actually accessible and the DSN is valid
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	store := &PersistentStore{db: db, nzbDir: nzbDir}

	if err := store.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not migrate database: %w", err)
	}

	return store, nil
}

// SaveNZB copies an uploaded manifest into the nzb directory under its
// sanitized name and returns the path. The archive name is derived from that
// name, so uploading the same manifest again resumes the same archive.
func (s *PersistentStore) SaveNZB(name string, r io.Reader) (string, error) {
	name = nzb.SanitizeFileName(filepath.Base(name))
	if name == "" || name == "." {
		return "", errors.New("nzb upload needs a file name")
	}
	if !strings.EqualFold(filepath.Ext(name), ".nzb") {
		name += ".nzb"
	}

	path := filepath.Join(s.nzbDir, name)
	tmp, err := os.CreateTemp(s.nzbDir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to store nzb: %w", err)
	}

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to store nzb: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return path, nil
}

func (s *PersistentStore) GetNZBReader(name string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.nzbDir, name))
}

func (s *PersistentStore) Exists(name string) bool {
	_, err := os.Stat(filepath.Join(s.nzbDir, name))
	return err == nil
}

func (s *PersistentStore) Close() error {
	return s.db.Close()
}
