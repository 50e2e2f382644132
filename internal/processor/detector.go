package processor

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/h2non/filetype"
)

// Manager handles multiple extractors and determines which to use
type Manager struct {
	extractors []Extractor
}

// NewManager creates a new extraction manager and initializes available extractors
func NewManager() *Manager {
	m := &Manager{
		extractors: make([]Extractor, 0),
	}

	// Try to initialize each extractor
	// If the binary isn't available, skip it

	if unrar, err := NewCLIUnrar(); err == nil {
		m.extractors = append(m.extractors, unrar)
	}

	if unzip, err := NewCLIUnzip(); err == nil {
		m.extractors = append(m.extractors, unzip)
	}

	if sevenZ, err := NewCLI7z(); err == nil {
		m.extractors = append(m.extractors, sevenZ)
	}

	return m
}

// AvailableExtractors returns the names of available extractors
func (m *Manager) AvailableExtractors() []string {
	names := make([]string, len(m.extractors))
	for i, ext := range m.extractors {
		names[i] = ext.Name()
	}
	return names
}

// HasExtractors returns true if any extractors are available
func (m *Manager) HasExtractors() bool {
	return len(m.extractors) > 0
}

// DetectArchives returns the archives among paths that need extraction, each
// with the extractor that handles it, in path order.
func (m *Manager) DetectArchives(paths []string) ([]string, map[string]Extractor, error) {
	archives := make(map[string]Extractor)
	var order []string

	for _, path := range paths {
		// Try each extractor to see if it can handle this file
		for _, extractor := range m.extractors {
			canExtract, err := extractor.CanExtract(path)
			if err != nil {
				return nil, nil, fmt.Errorf("error checking if %s can extract %s: %w",
					extractor.Name(), filepath.Base(path), err)
			}

			if canExtract {
				archives[path] = extractor
				order = append(order, path)
				break // Found a matching extractor, move to next file
			}
		}
	}

	slices.Sort(order)
	return order, archives, nil
}

// sniff reports whether the content of path has the given archive type.
func sniff(path, extension string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return false, nil
	}

	kind, err := filetype.MatchFile(path)
	if err != nil {
		return false, err
	}
	return kind != filetype.Unknown && kind.Extension == extension, nil
}
