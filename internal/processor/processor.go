// Package processor repairs and extracts finished archives, then moves them
// to the completed directory.
package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/datallboy/nzbleecher/internal/app"
	"github.com/datallboy/nzbleecher/internal/infra/config"
	"github.com/datallboy/nzbleecher/internal/infra/logger"
	"github.com/datallboy/nzbleecher/internal/nzb"
)

type Processor struct {
	log          *logger.Logger
	completedDir string
	cleanup      map[string]struct{}
	skipExtract  bool

	// repairer is nil when par2 is not installed
	repairer   Repairer
	extractors *Manager
}

var _ app.Processor = (*Processor)(nil)

func New(cfg config.DownloadConfig, log *logger.Logger) *Processor {
	p := &Processor{
		log:          log.Named("processor"),
		completedDir: cfg.CompletedDir,
		cleanup:      cleanupMap(cfg.CleanupExtensions),
		skipExtract:  cfg.SkipExtract,
		extractors:   NewManager(),
	}

	if par, err := NewCLIPar2(); err == nil {
		p.repairer = par
	} else {
		p.log.Warn("%v: repair disabled", err)
	}

	if p.extractors.HasExtractors() {
		p.log.Debug("Extractors available: %s", strings.Join(p.extractors.AvailableExtractors(), ", "))
	}
	return p
}

// PostProcess verifies the archive with par2, repairing it if needed,
// extracts any rar/zip/7z it contains and moves the result to the completed
// directory, which it returns. On error the files stay in the working
// directory and that directory is returned.
func (p *Processor) PostProcess(ctx context.Context, a *nzb.Archive) (string, error) {
	dir := a.DestDir

	names, err := listFiles(dir)
	if err != nil {
		return dir, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	failed := len(a.FailedSegments())
	if par := primaryPar2(names); par != "" {
		if err := p.handleRepair(ctx, filepath.Join(dir, par)); err != nil {
			return dir, err
		}
	} else if failed > 0 {
		return dir, fmt.Errorf("%d segments missing and no par2 files to repair them", failed)
	}

	if !p.skipExtract && p.extractors.HasExtractors() {
		if err := p.extract(ctx, dir, names); err != nil {
			return dir, err
		}
	}

	if p.completedDir == "" {
		return dir, nil
	}
	return p.finalize(a.Name, dir)
}

func (p *Processor) extract(ctx context.Context, dir string, names []string) error {
	paths := make([]string, 0, len(names))
	for _, name := range names {
		paths = append(paths, filepath.Join(dir, name))
	}

	order, archives, err := p.extractors.DetectArchives(paths)
	if err != nil {
		return err
	}

	for _, path := range order {
		ext := archives[path]
		p.log.Info("Extracting %s (%s)...", filepath.Base(path), ext.Name())

		files, err := ext.Extract(ctx, path, dir)
		if err != nil {
			return fmt.Errorf("failed to extract %s: %w", filepath.Base(path), err)
		}
		p.log.Info("Extracted %d files from %s", len(files), filepath.Base(path))

		for _, vol := range volumes(path, names) {
			if err := os.Remove(filepath.Join(dir, vol)); err != nil && !os.IsNotExist(err) {
				p.log.Warn("failed to remove %s: %v", vol, err)
			}
		}
	}
	return nil
}

// finalize moves every file of dir into the archive's completed directory,
// dropping those with a cleanup extension.
func (p *Processor) finalize(name, dir string) (string, error) {
	finalDir := filepath.Join(p.completedDir, name)
	if err := os.MkdirAll(finalDir, 0755); err != nil {
		return dir, fmt.Errorf("failed to create %s: %w", finalDir, err)
	}

	names, err := listFiles(dir)
	if err != nil {
		return dir, err
	}

	for _, n := range names {
		src := filepath.Join(dir, n)
		if cleanupExtensions(n, p.cleanup) {
			if err := os.Remove(src); err != nil {
				p.log.Warn("failed to clean up %s: %v", n, err)
			}
			continue
		}

		if err := moveFile(src, filepath.Join(finalDir, n)); err != nil {
			return dir, fmt.Errorf("failed to move %s: %w", n, err)
		}
		p.log.Debug("Completed: %s", n)
	}

	// leftovers such as unreadable subdirectories keep the working dir alive
	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		p.log.Warn("working directory %s not removed: %v", dir, err)
	}
	return finalDir, nil
}

// listFiles returns the names of the regular files in dir, sorted.
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// volumes returns the names that belong to the same archive set as path.
func volumes(path string, names []string) []string {
	base := filepath.Base(path)
	m := reRarVolume.FindStringSubmatch(base)
	if m == nil {
		return []string{base}
	}

	set := regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(m[1]) + `(\.part\d+\.rar|\.rar|\.r\d{2,3})$`)
	var out []string
	for _, n := range names {
		if set.MatchString(n) {
			out = append(out, n)
		}
	}
	return out
}
